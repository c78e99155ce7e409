package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sang-woon/ggc-subtitle/internal/config"
	"github.com/sang-woon/ggc-subtitle/internal/database"
	"github.com/sang-woon/ggc-subtitle/internal/hub"
	"github.com/sang-woon/ggc-subtitle/internal/kospacing"
	"github.com/sang-woon/ggc-subtitle/internal/repository"
	"github.com/sang-woon/ggc-subtitle/internal/terminology"
)

// fakeOrigin serves a sliding media playlist and dummy TS segments.
type fakeOrigin struct {
	srv      *httptest.Server
	window   atomic.Int32
	segments atomic.Int32
}

func newFakeOrigin(t *testing.T) *fakeOrigin {
	t.Helper()
	o := &fakeOrigin{}
	mux := http.NewServeMux()
	mux.HandleFunc("/live/playlist.m3u8", func(w http.ResponseWriter, r *http.Request) {
		// The window slides on every poll so segments keep arriving.
		first := int(o.window.Add(1)) - 1
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:6\n")
		fmt.Fprintf(w, "#EXT-X-MEDIA-SEQUENCE:%d\n", first)
		for i := first; i < first+2; i++ {
			fmt.Fprintf(w, "#EXTINF:6.0,\nsegment%d.ts\n", i)
		}
	})
	mux.HandleFunc("/live/", func(w http.ResponseWriter, r *http.Request) {
		o.segments.Add(1)
		body := make([]byte, 376)
		body[0] = 0x47
		body[188] = 0x47
		w.Write(body)
	})
	o.srv = httptest.NewServer(mux)
	t.Cleanup(o.srv.Close)
	return o
}

func (o *fakeOrigin) playlistURL() string {
	return o.srv.URL + "/live/playlist.m3u8"
}

// fakeASR speaks the provider websocket protocol: each binary segment
// triggers one scripted Results frame. Signalling graceful closes the
// current connection with a normal close frame.
type fakeASR struct {
	srv      *httptest.Server
	frames   chan map[string]any
	graceful chan struct{}
	dials    atomic.Int32
}

func newFakeASR(t *testing.T) *fakeASR {
	t.Helper()
	f := &fakeASR{
		frames:   make(chan map[string]any, 16),
		graceful: make(chan struct{}),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		go func() {
			select {
			case <-f.graceful:
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
			case <-r.Context().Done():
			}
		}()
		for {
			msgType, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			select {
			case frame := <-f.frames:
				payload, _ := json.Marshal(frame)
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			default:
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeASR) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func finalFrame(text string, speaker int, start, end float64) map[string]any {
	words := []map[string]any{}
	for i, part := range strings.Fields(text) {
		words = append(words, map[string]any{
			"word":            part,
			"punctuated_word": part,
			"confidence":      0.9,
			"start":           start + float64(i)*0.1,
			"end":             end,
			"speaker":         speaker,
		})
	}
	return map[string]any{
		"type":     "Results",
		"is_final": true,
		"start":    start,
		"duration": end - start,
		"channel": map[string]any{
			"alternatives": []map[string]any{
				{"transcript": text, "confidence": 0.9, "words": words},
			},
		},
	}
}

func interimFrame(text string) map[string]any {
	return map[string]any{
		"type":     "Results",
		"is_final": false,
		"channel": map[string]any{
			"alternatives": []map[string]any{
				{"transcript": text, "confidence": 0.5},
			},
		},
	}
}

func testManager(t *testing.T, streamURL string, captions repository.CaptionRepository) (*Manager, *hub.Hub) {
	t.Helper()
	cfg := config.ASRConfig{
		APIKey:              "test-key",
		StreamURL:           streamURL,
		Model:               "nova-3",
		Language:            "ko",
		EndpointingMS:       300,
		SegmentPollInterval: 50 * time.Millisecond,
		KeepaliveInterval:   time.Hour,
		StallTimeout:        time.Hour,
		ReconnectInitial:    20 * time.Millisecond,
		ReconnectMax:        100 * time.Millisecond,
		SegmentTimeout:      2 * time.Second,
	}
	h := hub.New(200, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := NewManager(ctx, cfg, h, &kospacing.Spacer{}, terminology.Default(), captions, nil, nil)
	t.Cleanup(m.StopAll)
	return m, h
}

func waitEvent(t *testing.T, c *hub.Client, eventType string, timeout time.Duration) hub.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case data, ok := <-c.Send:
			require.True(t, ok, "hub client closed")
			var ev hub.Event
			require.NoError(t, json.Unmarshal(data, &ev))
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %s", eventType, timeout)
		}
	}
}

func TestWorkerEmitsCaption(t *testing.T) {
	origin := newFakeOrigin(t)
	provider := newFakeASR(t)
	provider.frames <- finalFrame("본회의를 개의하겠습니다.", 0, 1.0, 3.0)

	m, h := testManager(t, provider.wsURL(), nil)
	sub := h.Register("ch14")
	defer h.Unregister(sub)

	require.NoError(t, m.Start("ch14", origin.playlistURL()))
	assert.True(t, m.IsRunning("ch14"))

	ev := waitEvent(t, sub, "subtitle_created", 5*time.Second)
	payload, _ := json.Marshal(ev.Payload)
	var created struct {
		Subtitle hub.Caption `json:"subtitle"`
	}
	require.NoError(t, json.Unmarshal(payload, &created))
	assert.Equal(t, "본회의를 개의하겠습니다.", created.Subtitle.Text)
	assert.Equal(t, "ch14", created.Subtitle.MeetingID)
	require.NotNil(t, created.Subtitle.Speaker)
	assert.Equal(t, "화자 1", *created.Subtitle.Speaker)
	assert.Equal(t, 1.0, created.Subtitle.StartTime)
	assert.NotEmpty(t, created.Subtitle.ID)
}

func TestWorkerBroadcastsInterim(t *testing.T) {
	origin := newFakeOrigin(t)
	provider := newFakeASR(t)
	provider.frames <- interimFrame("지금 말하는 중입니다")

	m, h := testManager(t, provider.wsURL(), nil)
	sub := h.Register("ch8")
	defer h.Unregister(sub)

	require.NoError(t, m.Start("ch8", origin.playlistURL()))

	ev := waitEvent(t, sub, "subtitle_interim", 5*time.Second)
	payload, _ := json.Marshal(ev.Payload)
	var interim hub.Interim
	require.NoError(t, json.Unmarshal(payload, &interim))
	assert.Equal(t, "지금 말하는 중입니다", interim.Text)
	assert.Empty(t, h.History("ch8"))
}

func TestWorkerAssemblesSentences(t *testing.T) {
	origin := newFakeOrigin(t)
	provider := newFakeASR(t)
	provider.frames <- finalFrame("오늘은 회의를", 0, 0, 2)
	provider.frames <- finalFrame("시작하겠습니다.", 0, 2, 4)
	provider.frames <- finalFrame("네, 좋습니다.", 1, 5, 6)

	m, h := testManager(t, provider.wsURL(), nil)
	sub := h.Register("ch14")
	defer h.Unregister(sub)

	require.NoError(t, m.Start("ch14", origin.playlistURL()))

	first := waitEvent(t, sub, "subtitle_created", 5*time.Second)
	second := waitEvent(t, sub, "subtitle_created", 5*time.Second)

	texts := []string{}
	for _, ev := range []hub.Event{first, second} {
		payload, _ := json.Marshal(ev.Payload)
		var created struct {
			Subtitle hub.Caption `json:"subtitle"`
		}
		require.NoError(t, json.Unmarshal(payload, &created))
		texts = append(texts, created.Subtitle.Text)
	}
	assert.Equal(t, []string{"오늘은 회의를 시작하겠습니다.", "네, 좋습니다."}, texts)
}

func TestStopClearsHistoryAndStopsWorker(t *testing.T) {
	origin := newFakeOrigin(t)
	provider := newFakeASR(t)
	provider.frames <- finalFrame("개의하겠습니다.", 0, 0, 1)

	m, h := testManager(t, provider.wsURL(), nil)
	sub := h.Register("ch14")
	defer h.Unregister(sub)

	require.NoError(t, m.Start("ch14", origin.playlistURL()))
	waitEvent(t, sub, "subtitle_created", 5*time.Second)
	require.NotEmpty(t, h.History("ch14"))

	m.Stop("ch14")
	assert.False(t, m.IsRunning("ch14"))
	assert.Empty(t, h.History("ch14"))
	assert.Empty(t, m.Running())
}

func TestStartReplacesRunningWorker(t *testing.T) {
	origin := newFakeOrigin(t)
	provider := newFakeASR(t)

	m, _ := testManager(t, provider.wsURL(), nil)
	require.NoError(t, m.Start("ch14", origin.playlistURL()))
	require.NoError(t, m.Start("ch14", origin.playlistURL()))

	assert.Equal(t, []string{"ch14"}, m.Running())
}

func TestConcurrentStartsKeepOneWorker(t *testing.T) {
	origin := newFakeOrigin(t)
	provider := newFakeASR(t)

	m, _ := testManager(t, provider.wsURL(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Start("ch14", origin.playlistURL()))
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"ch14"}, m.Running())

	m.StopAll()
	assert.Empty(t, m.Running())

	// A worker displaced from the registry without being stopped would
	// keep redialing the provider after the registry is drained.
	provider.srv.CloseClientConnections()
	base := provider.dials.Load()
	assert.Never(t, func() bool {
		return provider.dials.Load() > base
	}, 400*time.Millisecond, 20*time.Millisecond)
}

func expectNoEvent(t *testing.T, c *hub.Client, eventType string, window time.Duration) {
	t.Helper()
	deadline := time.After(window)
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return
			}
			var ev hub.Event
			require.NoError(t, json.Unmarshal(data, &ev))
			require.NotEqual(t, eventType, ev.Type)
		case <-deadline:
			return
		}
	}
}

func TestGracefulCloseFlushesPendingSentence(t *testing.T) {
	origin := newFakeOrigin(t)
	provider := newFakeASR(t)
	provider.frames <- finalFrame("오늘은 회의를", 0, 0, 2)

	m, h := testManager(t, provider.wsURL(), nil)
	sub := h.Register("ch14")
	defer h.Unregister(sub)

	require.NoError(t, m.Start("ch14", origin.playlistURL()))
	require.Eventually(t, func() bool {
		return m.DebugInfo("ch14").BufferPreview != ""
	}, 5*time.Second, 20*time.Millisecond)

	close(provider.graceful)

	ev := waitEvent(t, sub, "subtitle_created", 5*time.Second)
	payload, _ := json.Marshal(ev.Payload)
	var created struct {
		Subtitle hub.Caption `json:"subtitle"`
	}
	require.NoError(t, json.Unmarshal(payload, &created))
	assert.Equal(t, "오늘은 회의를", created.Subtitle.Text)
}

func TestForcedCloseDiscardsPendingSentence(t *testing.T) {
	origin := newFakeOrigin(t)
	provider := newFakeASR(t)
	provider.frames <- finalFrame("오늘은 회의를", 0, 0, 2)

	m, h := testManager(t, provider.wsURL(), nil)
	sub := h.Register("ch14")
	defer h.Unregister(sub)

	require.NoError(t, m.Start("ch14", origin.playlistURL()))
	require.Eventually(t, func() bool {
		return m.DebugInfo("ch14").BufferPreview != ""
	}, 5*time.Second, 20*time.Millisecond)

	// Drop the TCP side without a close frame, as the watchdog does.
	provider.srv.CloseClientConnections()

	expectNoEvent(t, sub, "subtitle_created", 400*time.Millisecond)
}

func TestStartWithoutAPIKey(t *testing.T) {
	h := hub.New(200, nil)
	m := NewManager(context.Background(), config.ASRConfig{}, h, &kospacing.Spacer{}, terminology.Default(), nil, nil, nil)
	assert.ErrorIs(t, m.Start("ch14", "http://example.test/p.m3u8"), ErrNoAPIKey)
}

func TestWorkerReconnectsAfterProviderDrop(t *testing.T) {
	origin := newFakeOrigin(t)
	provider := newFakeASR(t)

	m, _ := testManager(t, provider.wsURL(), nil)
	require.NoError(t, m.Start("ch14", origin.playlistURL()))

	// Wait for the first session, then kill the provider side.
	require.Eventually(t, func() bool { return provider.dials.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)
	provider.srv.CloseClientConnections()

	require.Eventually(t, func() bool { return provider.dials.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)

	info := m.DebugInfo("ch14")
	assert.True(t, info.TaskAlive)
}

func TestDebugInfo(t *testing.T) {
	origin := newFakeOrigin(t)
	provider := newFakeASR(t)
	provider.frames <- finalFrame("개의하겠습니다.", 0, 0, 1)

	m, h := testManager(t, provider.wsURL(), nil)
	sub := h.Register("ch14")
	defer h.Unregister(sub)

	require.NoError(t, m.Start("ch14", origin.playlistURL()))
	waitEvent(t, sub, "subtitle_created", 5*time.Second)

	info := m.DebugInfo("ch14")
	assert.Equal(t, "ch14", info.ChannelID)
	assert.True(t, info.TaskAlive)
	assert.GreaterOrEqual(t, info.CaptionsEmitted, 1)
	require.NotNil(t, info.LastActivitySecsAgo)
	assert.Contains(t, info.ActiveRooms, "ch14")

	missing := m.DebugInfo("ch99")
	assert.False(t, missing.TaskAlive)
}

func TestWorkerPersistsCaptions(t *testing.T) {
	db, err := database.OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := repository.NewCaptionRepository(db.DB)

	origin := newFakeOrigin(t)
	provider := newFakeASR(t)
	provider.frames <- finalFrame("본회의를 개의하겠습니다.", 0, 1, 3)

	m, h := testManager(t, provider.wsURL(), repo)
	sub := h.Register("ch14")
	defer h.Unregister(sub)

	require.NoError(t, m.Start("ch14", origin.playlistURL()))
	waitEvent(t, sub, "subtitle_created", 5*time.Second)

	// Stop drains the persist queue.
	m.Stop("ch14")

	stored, total, err := repo.GetByRoomID(context.Background(), "ch14", 0, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, "본회의를 개의하겠습니다.", stored[0].Text)
}

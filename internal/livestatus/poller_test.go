package livestatus

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sang-woon/ggc-subtitle/internal/config"
)

func newTestPoller(t *testing.T, handler http.HandlerFunc, ttl time.Duration) (*Poller, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.LiveStatusConfig{
		Endpoint:     srv.URL,
		Referer:      "https://live.example.test/",
		CacheTTL:     ttl,
		FetchTimeout: 2 * time.Second,
		QueueSize:    50,
	}
	return NewPoller(cfg, nil, nil), srv
}

func onairBody(status map[string]int) string {
	body := "["
	first := true
	for code, st := range status {
		if !first {
			body += ","
		}
		first = false
		body += fmt.Sprintf(`{"adCode":%q,"kmsLivestatus":%d,"adTh":391,"adCha":2}`, code, st)
	}
	return body + "]"
}

func TestFetchSnapshotParsesListing(t *testing.T) {
	var gotReferer, gotRequestedWith string
	p, _ := newTestPoller(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.NotEmpty(t, r.PostForm.Get("ymd"))
		gotReferer = r.Header.Get("Referer")
		gotRequestedWith = r.Header.Get("X-Requested-With")
		fmt.Fprint(w, onairBody(map[string]int{"A011": 1, "C001": 0}))
	}, time.Hour)

	snap := p.FetchSnapshot(context.Background())
	assert.Equal(t, map[string]int{"A011": 1, "C001": 0}, snap)
	assert.Equal(t, "https://live.example.test/", gotReferer)
	assert.Equal(t, "XMLHttpRequest", gotRequestedWith)
}

func TestFetchSnapshotCachesWithinTTL(t *testing.T) {
	var calls atomic.Int32
	p, _ := newTestPoller(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, onairBody(map[string]int{"A011": 1}))
	}, time.Hour)

	ctx := context.Background()
	p.FetchSnapshot(ctx)
	p.FetchSnapshot(ctx)
	p.FetchSnapshot(ctx)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchSnapshotKeepsPriorOnFailure(t *testing.T) {
	var fail atomic.Bool
	p, _ := newTestPoller(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, onairBody(map[string]int{"A011": 1}))
	}, 0)

	ctx := context.Background()
	first := p.FetchSnapshot(ctx)
	require.Equal(t, 1, first["A011"])

	fail.Store(true)
	second := p.FetchSnapshot(ctx)
	assert.Equal(t, first, second)
}

func TestFetchSnapshotRejectsHTMLErrorPage(t *testing.T) {
	var html atomic.Bool
	p, _ := newTestPoller(t, func(w http.ResponseWriter, r *http.Request) {
		if html.Load() {
			fmt.Fprint(w, "<html><body>error</body></html>")
			return
		}
		fmt.Fprint(w, onairBody(map[string]int{"A011": 2}))
	}, 0)

	ctx := context.Background()
	first := p.FetchSnapshot(ctx)
	require.Equal(t, 2, first["A011"])

	html.Store(true)
	assert.Equal(t, first, p.FetchSnapshot(ctx))
}

func TestSubscribeReceivesChanges(t *testing.T) {
	var status atomic.Int32
	status.Store(0)
	p, _ := newTestPoller(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, onairBody(map[string]int{"A011": int(status.Load())}))
	}, 0)

	ctx := context.Background()
	p.FetchSnapshot(ctx)

	sub := p.Subscribe()
	defer p.Unsubscribe(sub)

	status.Store(1)
	p.FetchSnapshot(ctx)

	select {
	case changes := <-sub:
		require.Len(t, changes, 1)
		c := changes[0]
		assert.Equal(t, "A011", c.Code)
		require.NotNil(t, c.OldStatus)
		require.NotNil(t, c.NewStatus)
		assert.Equal(t, 0, *c.OldStatus)
		assert.Equal(t, 1, *c.NewStatus)
		require.NotNil(t, c.NewText)
		assert.Equal(t, "방송중", *c.NewText)
	case <-time.After(time.Second):
		t.Fatal("no change batch received")
	}
}

func TestNoPublishWhenUnchanged(t *testing.T) {
	p, _ := newTestPoller(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, onairBody(map[string]int{"A011": 1}))
	}, 0)

	ctx := context.Background()
	p.FetchSnapshot(ctx)

	sub := p.Subscribe()
	defer p.Unsubscribe(sub)

	p.FetchSnapshot(ctx)
	select {
	case <-sub:
		t.Fatal("unexpected change batch")
	default:
	}
}

func TestSlowSubscriberEvicted(t *testing.T) {
	var status atomic.Int32
	srvHandler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, onairBody(map[string]int{"A011": int(status.Load())}))
	}
	srv := httptest.NewServer(http.HandlerFunc(srvHandler))
	defer srv.Close()

	p := NewPoller(config.LiveStatusConfig{
		Endpoint:     srv.URL,
		CacheTTL:     0,
		FetchTimeout: 2 * time.Second,
		QueueSize:    1,
	}, nil, nil)

	ctx := context.Background()
	p.FetchSnapshot(ctx)

	sub := p.Subscribe()

	// Two change batches with nobody draining: the second overflows the
	// queue and the subscriber is dropped.
	status.Store(1)
	p.FetchSnapshot(ctx)
	status.Store(2)
	p.FetchSnapshot(ctx)

	<-sub
	_, open := <-sub
	assert.False(t, open)

	// Unsubscribing an evicted queue must not panic.
	p.Unsubscribe(sub)
}

func TestChannelsWithStatus(t *testing.T) {
	p, _ := newTestPoller(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, onairBody(map[string]int{"A011": 1}))
	}, time.Hour)

	list := p.ChannelsWithStatus(context.Background())
	require.Len(t, list, 18)

	byCode := map[string]ChannelStatus{}
	for _, ch := range list {
		byCode[ch.Code] = ch
	}

	live := byCode["A011"]
	assert.Equal(t, "ch14", live.ID)
	assert.Equal(t, 1, live.LiveStatus)
	assert.Equal(t, "방송중", live.StatusText)
	assert.True(t, live.HasSchedule)
	assert.Equal(t, 391, live.SessionNo)
	assert.Equal(t, 2, live.SessionOrder)

	idle := byCode["C001"]
	assert.Equal(t, 0, idle.LiveStatus)
	assert.Equal(t, "방송전", idle.StatusText)
	assert.False(t, idle.HasSchedule)
}

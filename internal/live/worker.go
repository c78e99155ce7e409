// Package live runs the realtime captioning workers: one worker per
// broadcasting channel, each streaming HLS segments to the ASR provider
// and fanning finished captions out through the hub.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/sang-woon/ggc-subtitle/internal/asr"
	"github.com/sang-woon/ggc-subtitle/internal/caption"
	"github.com/sang-woon/ggc-subtitle/internal/config"
	"github.com/sang-woon/ggc-subtitle/internal/hls"
	"github.com/sang-woon/ggc-subtitle/internal/httpclient"
	"github.com/sang-woon/ggc-subtitle/internal/hub"
	"github.com/sang-woon/ggc-subtitle/internal/kospacing"
	"github.com/sang-woon/ggc-subtitle/internal/models"
	"github.com/sang-woon/ggc-subtitle/internal/repository"
	"github.com/sang-woon/ggc-subtitle/internal/terminology"
)

// Skip interim fragments shorter than this many runes; they flicker.
const minInterimRunes = 3

const persistQueueSize = 128

// Refiner receives emitted captions for asynchronous rewriting.
type Refiner interface {
	Enqueue(captionID, roomID, text string, speaker *string)
}

// Worker captions one channel. It owns its HLS reader and sentence
// buffer and survives provider hiccups through a reconnect loop.
type Worker struct {
	channelID string
	streamURL string
	asrCfg    config.ASRConfig

	hubRef   *hub.Hub
	reader   *hls.Reader
	spacer   *kospacing.Spacer
	dict     *terminology.Dictionary
	captions repository.CaptionRepository
	refiner  Refiner
	segments *httpclient.Client
	logger   *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	persistCh chan *models.Caption

	mu           sync.Mutex
	buffer       *caption.Buffer
	lastActivity time.Time
	emitted      int
	lastError    string
	reconnects   int
}

func newWorker(channelID, streamURL string, deps workerDeps) *Worker {
	return &Worker{
		channelID: channelID,
		streamURL: streamURL,
		asrCfg:    deps.asrCfg,
		hubRef:    deps.hub,
		reader:    hls.NewReader(deps.segments, deps.logger),
		spacer:    deps.spacer,
		dict:      deps.dict,
		captions:  deps.captions,
		refiner:   deps.refiner,
		segments:  deps.segments,
		logger:    deps.logger.With(slog.String("channel_id", channelID)),
		done:      make(chan struct{}),
		persistCh: make(chan *models.Caption, persistQueueSize),
		buffer:    caption.NewBuffer(),
	}
}

type workerDeps struct {
	asrCfg   config.ASRConfig
	hub      *hub.Hub
	spacer   *kospacing.Spacer
	dict     *terminology.Dictionary
	captions repository.CaptionRepository
	refiner  Refiner
	segments *httpclient.Client
	logger   *slog.Logger
}

func (w *Worker) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	w.cancel = cancel
	w.touch()

	go func() {
		defer close(w.done)
		var wg sync.WaitGroup
		if w.captions != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.persistLoop(ctx)
			}()
		}
		w.runWithReconnect(ctx)
		wg.Wait()
	}()
}

// stop cancels the worker and blocks until it has unwound. History
// cleanup is the manager's call; a replaced worker must not wipe its
// successor's room.
func (w *Worker) stop() {
	w.cancel()
	<-w.done
	w.logger.Info("stopped captioning")
}

func (w *Worker) alive() bool {
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

func (w *Worker) runWithReconnect(ctx context.Context) {
	delay := w.asrCfg.ReconnectInitial
	for {
		err := w.runSession(ctx)
		if ctx.Err() != nil {
			w.logger.Info("captioning cancelled")
			return
		}
		if err != nil {
			w.mu.Lock()
			w.lastError = err.Error()
			w.reconnects++
			w.mu.Unlock()
			w.logger.Error("captioning session failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
		} else {
			w.mu.Lock()
			w.lastError = "session_ended_normally"
			w.mu.Unlock()
			w.logger.Info("captioning session ended, reconnecting")
			delay = w.asrCfg.ReconnectInitial
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, w.asrCfg.ReconnectMax)
	}
}

// runSession holds one provider websocket open and runs the four
// session subtasks. The first subtask to fail tears the rest down.
func (w *Worker) runSession(ctx context.Context) error {
	sess, err := asr.DialLive(ctx, w.asrCfg)
	if err != nil {
		return err
	}
	defer sess.Close()
	w.logger.Info("provider websocket connected")
	w.touch()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.uploadSegments(gctx, sess) })
	g.Go(func() error { return w.receiveResults(gctx, sess) })
	g.Go(func() error { return w.keepalive(gctx, sess) })
	g.Go(func() error { return w.watchdog(gctx, sess) })
	// Closing the socket unblocks a reader stuck in ReadMessage.
	g.Go(func() error {
		<-gctx.Done()
		sess.Close()
		return nil
	})

	err = g.Wait()
	if err == nil || isNormalClosure(err) {
		return nil
	}
	return err
}

func isNormalClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, io.EOF)
}

// uploadSegments polls the playlist and pushes each new MPEG-TS body
// to the provider. Download failures skip the segment; the next poll
// exposes more.
func (w *Worker) uploadSegments(ctx context.Context, sess *asr.LiveSession) error {
	ticker := time.NewTicker(w.asrCfg.SegmentPollInterval)
	defer ticker.Stop()

	probed := false
	for {
		segments, err := w.reader.FetchNewSegments(ctx, w.streamURL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("playlist poll failed", slog.String("error", err.Error()))
		}
		for _, segURL := range segments {
			data, err := w.downloadSegment(ctx, segURL)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				w.logger.Warn("segment download failed",
					slog.String("url", httpclient.SanitizeURLString(segURL)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !probed {
				probed = true
				if info, err := hls.ProbeTS(data); err != nil {
					w.logger.Warn("segment probe failed", slog.String("error", err.Error()))
				} else if !info.HasAudio {
					w.logger.Warn("stream declares no audio track",
						slog.Any("stream_pids", info.StreamPIDs),
					)
				} else {
					w.logger.Debug("stream probe ok",
						slog.Int("packets", info.PacketCount),
						slog.Any("stream_pids", info.StreamPIDs),
					)
				}
			}
			if err := sess.SendMedia(data); err != nil {
				return err
			}
			w.logger.Debug("segment sent",
				slog.String("url", httpclient.SanitizeURLString(segURL)),
				slog.Int("bytes", len(data)),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) downloadSegment(ctx context.Context, segURL string) ([]byte, error) {
	resp, err := w.segments.Get(ctx, segURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("segment fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// receiveResults drains provider frames and feeds the sentence buffer.
// On session end the remaining buffer is emitted only for graceful
// closes; cancellation discards it to avoid stale timestamps.
func (w *Worker) receiveResults(ctx context.Context, sess *asr.LiveSession) error {
	w.mu.Lock()
	w.buffer.Clear()
	w.mu.Unlock()

	for {
		msg, err := sess.ReadMessage()
		if err != nil {
			// Only a graceful close flushes the remainder; forced
			// closes (watchdog, dropped TCP) reconnect with the buffer
			// discarded rather than emit against a half-dead session.
			if ctx.Err() == nil && isNormalClosure(err) {
				w.mu.Lock()
				sentence, pending := w.buffer.Flush()
				w.mu.Unlock()
				if pending {
					w.emit(sentence)
				}
			}
			return err
		}
		w.touch()

		if msg.Type != "Results" {
			if msg.Type == "SpeechStarted" {
				w.logger.Debug("speech detected")
			}
			continue
		}
		if len(msg.Channel.Alternatives) == 0 {
			continue
		}
		alt := msg.Channel.Alternatives[0]

		if !msg.IsFinal {
			w.handleInterim(alt)
			continue
		}

		groups := asr.GroupWordsBySpeaker(alt.Words)
		if len(groups) == 0 {
			transcript := strings.TrimSpace(alt.Transcript)
			if transcript == "" {
				continue
			}
			groups = []asr.SpeakerGroup{{
				Text:       transcript,
				Confidence: alt.Confidence,
				Start:      msg.Start,
				End:        msg.Start + msg.Duration,
			}}
		}

		for _, group := range groups {
			if group.Text == "" {
				continue
			}
			w.mu.Lock()
			if w.buffer.SpeakerChanged(group.Speaker) {
				sentence, ok := w.buffer.Flush()
				w.mu.Unlock()
				if ok {
					w.emit(sentence)
				}
				w.mu.Lock()
			}
			w.buffer.Add(group.Text, group.Speaker, group.Confidence, group.Start, group.End)
			shouldFlush := w.buffer.ShouldFlush()
			var sentence caption.Sentence
			var ok bool
			if shouldFlush {
				sentence, ok = w.buffer.Flush()
			}
			w.mu.Unlock()
			if ok {
				w.emit(sentence)
			}
		}
	}
}

func (w *Worker) handleInterim(alt asr.Alternative) {
	var text string
	if len(alt.Words) > 0 {
		parts := make([]string, 0, len(alt.Words))
		for _, word := range alt.Words {
			parts = append(parts, word.Text())
		}
		text = strings.Join(parts, " ")
	} else {
		text = alt.Transcript
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minInterimRunes {
		return
	}
	text = w.dict.Correct(w.spacer.Space(text))
	w.hubRef.BroadcastInterim(w.channelID, hub.Interim{Text: text, ChannelID: w.channelID})
}

// emit runs post-processing and broadcasts one finished caption.
func (w *Worker) emit(s caption.Sentence) {
	text := w.dict.Correct(w.spacer.Space(s.Text))
	if text == "" {
		return
	}

	var speaker *string
	if label := asr.SpeakerLabel(s.Speaker); label != "" {
		speaker = &label
	}

	wire := hub.Caption{
		ID:         uuid.NewString(),
		MeetingID:  w.channelID,
		Text:       text,
		StartTime:  s.Start,
		EndTime:    s.End,
		Confidence: s.Confidence,
		Speaker:    speaker,
		CreatedAt:  time.Now().UTC(),
	}
	w.hubRef.BroadcastCreated(w.channelID, wire)

	w.mu.Lock()
	w.emitted++
	w.mu.Unlock()

	w.logger.Info("caption emitted",
		slog.String("text", truncate(text, 80)),
		slog.Float64("confidence", s.Confidence),
	)

	if w.refiner != nil {
		w.refiner.Enqueue(wire.ID, w.channelID, text, speaker)
	}

	if w.captions != nil {
		record := &models.Caption{
			CaptionID:  wire.ID,
			RoomID:     w.channelID,
			Text:       text,
			StartTime:  s.Start,
			EndTime:    s.End,
			Confidence: s.Confidence,
			Speaker:    speaker,
		}
		select {
		case w.persistCh <- record:
		default:
			w.logger.Warn("caption persist queue full, dropping")
		}
	}
}

// persistLoop batches emitted captions into the durable store.
// Broadcast never waits on it.
func (w *Worker) persistLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var batch []*models.Caption
	flush := func() {
		if len(batch) == 0 {
			return
		}
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.captions.CreateBatch(writeCtx, batch); err != nil {
			w.logger.Warn("caption persist failed",
				slog.Int("count", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		cancel()
		batch = nil
	}

	for {
		select {
		case <-ctx.Done():
			// Drain whatever is already queued before unwinding.
			for {
				select {
				case record := <-w.persistCh:
					batch = append(batch, record)
				default:
					flush()
					return
				}
			}
		case record := <-w.persistCh:
			batch = append(batch, record)
			if len(batch) >= 20 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (w *Worker) keepalive(ctx context.Context, sess *asr.LiveSession) error {
	ticker := time.NewTicker(w.asrCfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := sess.SendKeepAlive(); err != nil {
				return err
			}
		}
	}
}

// watchdog force-closes the session when the provider goes quiet for
// longer than the stall timeout; the reconnect loop rebuilds it.
func (w *Worker) watchdog(ctx context.Context, sess *asr.LiveSession) error {
	ticker := time.NewTicker(w.asrCfg.StallTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.mu.Lock()
			elapsed := time.Since(w.lastActivity)
			w.mu.Unlock()
			if elapsed > w.asrCfg.StallTimeout {
				w.logger.Warn("provider stalled, forcing reconnect",
					slog.Duration("silent_for", elapsed),
				)
				sess.Close()
				return fmt.Errorf("provider silent for %s", elapsed.Round(time.Second))
			}
		}
	}
}

func (w *Worker) touch() {
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

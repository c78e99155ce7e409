package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sang-woon/ggc-subtitle/internal/config"
	"github.com/sang-woon/ggc-subtitle/internal/httpclient"
	"github.com/sang-woon/ggc-subtitle/internal/hub"
	"github.com/sang-woon/ggc-subtitle/internal/kospacing"
	"github.com/sang-woon/ggc-subtitle/internal/repository"
	"github.com/sang-woon/ggc-subtitle/internal/terminology"
)

// ErrNoAPIKey means live captioning is disabled in configuration.
var ErrNoAPIKey = fmt.Errorf("asr api key not configured")

// DebugInfo is the worker introspection payload.
type DebugInfo struct {
	ChannelID           string   `json:"channel_id"`
	TaskAlive           bool     `json:"task_alive"`
	LastActivitySecsAgo *float64 `json:"last_provider_activity_ago"`
	CaptionsEmitted     int      `json:"captions_emitted"`
	BufferPreview       string   `json:"buffer_preview,omitempty"`
	LastError           string   `json:"last_error,omitempty"`
	ReconnectCount      int      `json:"reconnect_count"`
	ActiveRooms         []string `json:"active_rooms"`
}

// Manager owns the per-channel worker registry. At most one worker
// runs per channel.
type Manager struct {
	ctx    context.Context
	deps   workerDeps
	logger *slog.Logger

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewManager wires the worker dependencies. captions may be nil to
// disable live persistence, refiner may be nil to disable rewriting.
func NewManager(
	ctx context.Context,
	asrCfg config.ASRConfig,
	h *hub.Hub,
	spacer *kospacing.Spacer,
	dict *terminology.Dictionary,
	captions repository.CaptionRepository,
	refiner Refiner,
	log *slog.Logger,
) *Manager {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "live"))

	hc := httpclient.DefaultConfig()
	hc.Timeout = asrCfg.SegmentTimeout
	hc.Logger = log

	return &Manager{
		ctx: ctx,
		deps: workerDeps{
			asrCfg:   asrCfg,
			hub:      h,
			spacer:   spacer,
			dict:     dict,
			captions: captions,
			refiner:  refiner,
			segments: httpclient.New(hc),
			logger:   log,
		},
		logger:  log,
		workers: make(map[string]*Worker),
	}
}

// Start launches a worker for the channel, replacing any running one.
func (m *Manager) Start(channelID, streamURL string) error {
	if m.deps.asrCfg.APIKey == "" {
		return ErrNoAPIKey
	}

	m.logger.Info("starting captioning",
		slog.String("channel_id", channelID),
		slog.String("stream_url", httpclient.SanitizeURLString(streamURL)),
	)

	w := newWorker(channelID, streamURL, m.deps)

	// Swap under one critical section: a registered worker is always a
	// started one, and every displaced worker is taken out by exactly
	// one caller. Concurrent starts for the same channel must never
	// leave a running worker outside the registry.
	m.mu.Lock()
	old := m.workers[channelID]
	m.workers[channelID] = w
	w.start(m.ctx)
	m.mu.Unlock()

	if old != nil {
		old.stop()
	}
	return nil
}

// Stop cancels the channel's worker, if any, and waits for it to
// unwind. Room history is cleared so the next broadcast starts clean.
func (m *Manager) Stop(channelID string) {
	m.mu.Lock()
	w, ok := m.workers[channelID]
	if ok {
		delete(m.workers, channelID)
	}
	m.mu.Unlock()
	if ok {
		w.stop()
		m.deps.hub.ClearHistory(channelID)
	}
}

// StopAll cancels every running worker.
func (m *Manager) StopAll() {
	m.mu.Lock()
	workers := make(map[string]*Worker, len(m.workers))
	for id, w := range m.workers {
		workers[id] = w
		delete(m.workers, id)
	}
	m.mu.Unlock()

	for id, w := range workers {
		w.stop()
		m.deps.hub.ClearHistory(id)
	}
	m.logger.Info("stopped all captioning workers", slog.Int("count", len(workers)))
}

// IsRunning reports whether a live worker exists for the channel.
func (m *Manager) IsRunning(channelID string) bool {
	m.mu.Lock()
	w, ok := m.workers[channelID]
	m.mu.Unlock()
	return ok && w.alive()
}

// Running lists channel ids with an active worker.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.workers))
	for id, w := range m.workers {
		if w.alive() {
			out = append(out, id)
		}
	}
	return out
}

// DebugInfo returns worker introspection for a channel. A channel with
// no worker yields a zero-valued payload with TaskAlive=false.
func (m *Manager) DebugInfo(channelID string) DebugInfo {
	info := DebugInfo{
		ChannelID:   channelID,
		ActiveRooms: m.deps.hub.ActiveRooms(),
	}

	m.mu.Lock()
	w, ok := m.workers[channelID]
	m.mu.Unlock()
	if !ok {
		return info
	}

	info.TaskAlive = w.alive()

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.lastActivity.IsZero() {
		secs := time.Since(w.lastActivity).Round(100 * time.Millisecond).Seconds()
		info.LastActivitySecsAgo = &secs
	}
	info.CaptionsEmitted = w.emitted
	info.BufferPreview = truncate(w.buffer.Text(), 100)
	info.LastError = w.lastError
	info.ReconnectCount = w.reconnects
	return info
}

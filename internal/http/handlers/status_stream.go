package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sang-woon/ggc-subtitle/internal/livestatus"
)

const statusStreamKeepalive = 5 * time.Second

// StatusStreamHandler pushes broadcast status changes over SSE. huma
// cannot stream, so this registers directly on the chi router.
type StatusStreamHandler struct {
	poller  *livestatus.Poller
	workers WorkerController
	logger  *slog.Logger

	keepalive time.Duration
}

// NewStatusStreamHandler creates the SSE handler.
func NewStatusStreamHandler(poller *livestatus.Poller, workers WorkerController, log *slog.Logger) *StatusStreamHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StatusStreamHandler{
		poller:    poller,
		workers:   workers,
		logger:    log,
		keepalive: statusStreamKeepalive,
	}
}

// SetKeepaliveInterval overrides the idle tick, used by tests.
func (h *StatusStreamHandler) SetKeepaliveInterval(d time.Duration) {
	h.keepalive = d
}

// RegisterRoutes mounts the SSE endpoint on the router.
func (h *StatusStreamHandler) RegisterRoutes(router chi.Router) {
	router.Get("/api/channels/status/stream", h.ServeHTTP)
}

// ServeHTTP streams the channel listing: one initial data event, then
// status_change events as broadcasts start and stop, with keepalive
// comments while idle.
func (h *StatusStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	// Long-lived stream; the server-wide write deadline must not apply.
	rc.SetWriteDeadline(time.Time{})

	queue := h.poller.Subscribe()
	defer h.poller.Unsubscribe(queue)

	ctx := r.Context()

	if err := h.writeListing(ctx, w, rc); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case changes, ok := <-queue:
			if !ok {
				// Evicted as a slow subscriber; the client reconnects.
				return
			}
			payload := struct {
				Channels []ChannelWithStatus `json:"channels"`
				Changes  []livestatus.Change `json:"changes"`
			}{Channels: h.listing(ctx), Changes: changes}
			data, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("event: status_change\ndata: " + string(data) + "\n\n")); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}

		case <-ticker.C:
			// Idle tick triggers a poll so changes keep flowing even
			// with no other caller refreshing the snapshot.
			h.poller.FetchSnapshot(ctx)
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *StatusStreamHandler) listing(ctx context.Context) []ChannelWithStatus {
	statuses := h.poller.ChannelsWithStatus(ctx)
	out := make([]ChannelWithStatus, len(statuses))
	for i, st := range statuses {
		out[i] = ChannelWithStatus{ChannelStatus: st, SttRunning: h.workers.IsRunning(st.ID)}
	}
	return out
}

func (h *StatusStreamHandler) writeListing(ctx context.Context, w http.ResponseWriter, rc *http.ResponseController) error {
	data, err := json.Marshal(h.listing(ctx))
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
		return err
	}
	return rc.Flush()
}

// Package handlers provides HTTP API handlers for ggcsub.
package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sang-woon/ggc-subtitle/internal/catalog"
	"github.com/sang-woon/ggc-subtitle/internal/live"
	"github.com/sang-woon/ggc-subtitle/internal/livestatus"
)

// WorkerController is the slice of the live manager the API drives.
type WorkerController interface {
	Start(channelID, streamURL string) error
	Stop(channelID string)
	IsRunning(channelID string) bool
	Running() []string
	DebugInfo(channelID string) live.DebugInfo
}

// Reconciler heals the worker set against the broadcast schedule.
type Reconciler interface {
	Enabled() bool
	EnsureWorkersForLiveChannels(ctx context.Context) []string
}

// ChannelsHandler serves the channel catalog and manual STT control.
type ChannelsHandler struct {
	poller     *livestatus.Poller
	workers    WorkerController
	reconciler Reconciler
	logger     *slog.Logger
}

// NewChannelsHandler creates a channels handler. reconciler may be nil
// when auto-start is disabled.
func NewChannelsHandler(poller *livestatus.Poller, workers WorkerController, reconciler Reconciler, log *slog.Logger) *ChannelsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChannelsHandler{
		poller:     poller,
		workers:    workers,
		reconciler: reconciler,
		logger:     log,
	}
}

// ChannelWithStatus is one row of the enriched channel listing.
type ChannelWithStatus struct {
	livestatus.ChannelStatus
	SttRunning bool `json:"stt_running"`
}

type listChannelsOutput struct {
	Body []catalog.Channel
}

type getChannelInput struct {
	ChannelID string `path:"channelID" doc:"Catalog channel id, e.g. ch14"`
}

type getChannelOutput struct {
	Body catalog.Channel
}

type channelsStatusOutput struct {
	Body []ChannelWithStatus
}

type sttControlInput struct {
	ChannelID string `path:"channelID"`
}

// SttControlResult reports the outcome of a start/stop request.
type SttControlResult struct {
	Status    string `json:"status"`
	ChannelID string `json:"channel_id"`
}

type sttControlOutput struct {
	Body SttControlResult
}

type sttStatusOutput struct {
	Body struct {
		Running   bool   `json:"running"`
		ChannelID string `json:"channel_id"`
	}
}

type sttDebugOutput struct {
	Body live.DebugInfo
}

// Register registers the channel routes with the API.
func (h *ChannelsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/channels",
		Summary:     "List broadcast channels",
		Tags:        []string{"Channels"},
	}, h.ListChannels)

	huma.Register(api, huma.Operation{
		OperationID: "getChannelsStatus",
		Method:      "GET",
		Path:        "/api/channels/status",
		Summary:     "List channels with live broadcast status",
		Description: "Returns the catalog enriched with upstream status and STT state. Broadcasting channels without a caption worker are healed in the background.",
		Tags:        []string{"Channels"},
	}, h.GetChannelsStatus)

	huma.Register(api, huma.Operation{
		OperationID: "startChannelStt",
		Method:      "POST",
		Path:        "/api/channels/{channelID}/stt/start",
		Summary:     "Start live captioning for a channel",
		Tags:        []string{"STT"},
	}, h.StartStt)

	huma.Register(api, huma.Operation{
		OperationID: "stopChannelStt",
		Method:      "POST",
		Path:        "/api/channels/{channelID}/stt/stop",
		Summary:     "Stop live captioning for a channel",
		Description: "With auto-start enabled a broadcasting channel is restarted on the next status poll.",
		Tags:        []string{"STT"},
	}, h.StopStt)

	huma.Register(api, huma.Operation{
		OperationID: "getChannelSttStatus",
		Method:      "GET",
		Path:        "/api/channels/{channelID}/stt/status",
		Summary:     "Check whether live captioning is running",
		Tags:        []string{"STT"},
	}, h.GetSttStatus)

	huma.Register(api, huma.Operation{
		OperationID: "getChannelSttDebug",
		Method:      "GET",
		Path:        "/api/channels/{channelID}/stt/debug",
		Summary:     "Inspect the caption worker of a channel",
		Tags:        []string{"STT"},
	}, h.GetSttDebug)

	huma.Register(api, huma.Operation{
		OperationID: "getChannel",
		Method:      "GET",
		Path:        "/api/channels/{channelID}",
		Summary:     "Get one channel by id",
		Tags:        []string{"Channels"},
	}, h.GetChannel)
}

// ListChannels returns the static channel catalog.
func (h *ChannelsHandler) ListChannels(ctx context.Context, _ *struct{}) (*listChannelsOutput, error) {
	return &listChannelsOutput{Body: catalog.List()}, nil
}

// GetChannel returns one catalog channel.
func (h *ChannelsHandler) GetChannel(ctx context.Context, input *getChannelInput) (*getChannelOutput, error) {
	ch, ok := catalog.ByID(input.ChannelID)
	if !ok {
		return nil, huma.Error404NotFound("channel " + input.ChannelID + " not found")
	}
	return &getChannelOutput{Body: ch}, nil
}

// GetChannelsStatus returns the enriched listing and, as a side
// effect, reconciles workers for broadcasting channels.
func (h *ChannelsHandler) GetChannelsStatus(ctx context.Context, _ *struct{}) (*channelsStatusOutput, error) {
	statuses := h.poller.ChannelsWithStatus(ctx)

	out := make([]ChannelWithStatus, len(statuses))
	for i, st := range statuses {
		out[i] = ChannelWithStatus{
			ChannelStatus: st,
			SttRunning:    h.workers.IsRunning(st.ID),
		}
	}

	if h.reconciler != nil && h.reconciler.Enabled() {
		go func() {
			started := h.reconciler.EnsureWorkersForLiveChannels(context.Background())
			if len(started) > 0 {
				h.logger.Info("reconciled caption workers", slog.Any("started", started))
			}
		}()
	}

	return &channelsStatusOutput{Body: out}, nil
}

// StartStt starts a caption worker for the channel.
func (h *ChannelsHandler) StartStt(ctx context.Context, input *sttControlInput) (*sttControlOutput, error) {
	ch, ok := catalog.ByID(input.ChannelID)
	if !ok {
		return nil, huma.Error404NotFound("channel " + input.ChannelID + " not found")
	}

	if h.workers.IsRunning(ch.ID) {
		return &sttControlOutput{Body: SttControlResult{Status: "already_running", ChannelID: ch.ID}}, nil
	}

	if err := h.workers.Start(ch.ID, ch.StreamURL); err != nil {
		if err == live.ErrNoAPIKey {
			return nil, huma.Error503ServiceUnavailable("live captioning is not configured")
		}
		return nil, huma.Error500InternalServerError("starting captioning: " + err.Error())
	}
	return &sttControlOutput{Body: SttControlResult{Status: "started", ChannelID: ch.ID}}, nil
}

// StopStt stops the channel's caption worker.
func (h *ChannelsHandler) StopStt(ctx context.Context, input *sttControlInput) (*sttControlOutput, error) {
	ch, ok := catalog.ByID(input.ChannelID)
	if !ok {
		return nil, huma.Error404NotFound("channel " + input.ChannelID + " not found")
	}

	if !h.workers.IsRunning(ch.ID) {
		return &sttControlOutput{Body: SttControlResult{Status: "not_running", ChannelID: ch.ID}}, nil
	}

	h.workers.Stop(ch.ID)
	return &sttControlOutput{Body: SttControlResult{Status: "stopped", ChannelID: ch.ID}}, nil
}

// GetSttStatus reports whether a worker is running for the channel.
func (h *ChannelsHandler) GetSttStatus(ctx context.Context, input *sttControlInput) (*sttStatusOutput, error) {
	ch, ok := catalog.ByID(input.ChannelID)
	if !ok {
		return nil, huma.Error404NotFound("channel " + input.ChannelID + " not found")
	}

	out := &sttStatusOutput{}
	out.Body.Running = h.workers.IsRunning(ch.ID)
	out.Body.ChannelID = ch.ID
	return out, nil
}

// GetSttDebug exposes worker introspection for a channel.
func (h *ChannelsHandler) GetSttDebug(ctx context.Context, input *sttControlInput) (*sttDebugOutput, error) {
	if _, ok := catalog.ByID(input.ChannelID); !ok {
		return nil, huma.Error404NotFound("channel " + input.ChannelID + " not found")
	}
	return &sttDebugOutput{Body: h.workers.DebugInfo(input.ChannelID)}, nil
}

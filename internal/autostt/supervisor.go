// Package autostt reconciles live captioning workers with the
// broadcaster's schedule: channels that go on air get a worker,
// channels that leave the air lose theirs.
package autostt

import (
	"context"
	"log/slog"

	"github.com/sang-woon/ggc-subtitle/internal/catalog"
	"github.com/sang-woon/ggc-subtitle/internal/livestatus"
)

// WorkerManager is the slice of the live manager the supervisor drives.
type WorkerManager interface {
	Start(channelID, streamURL string) error
	Stop(channelID string)
	StopAll()
	IsRunning(channelID string) bool
}

// StatusSource feeds the supervisor with broadcast status.
type StatusSource interface {
	FetchSnapshot(ctx context.Context) map[string]int
	Subscribe() chan []livestatus.Change
	Unsubscribe(ch chan []livestatus.Change)
}

// Supervisor owns the auto-start/auto-stop policy. It reacts to pushed
// status changes and additionally reconciles opportunistically when
// EnsureWorkersForLiveChannels is called from the status endpoint.
type Supervisor struct {
	enabled bool
	status  StatusSource
	workers WorkerManager
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Supervisor. enabled=false turns every method into a
// no-op, used when auto-start is off or the ASR key is missing.
func New(enabled bool, status StatusSource, workers WorkerManager, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		enabled: enabled,
		status:  status,
		workers: workers,
		logger:  log.With(slog.String("component", "autostt")),
		done:    make(chan struct{}),
	}
}

// Enabled reports whether the supervisor is active.
func (s *Supervisor) Enabled() bool {
	return s.enabled
}

// Start sweeps currently broadcasting channels and begins monitoring
// status changes.
func (s *Supervisor) Start(ctx context.Context) {
	if !s.enabled {
		s.logger.Info("auto captioning disabled")
		close(s.done)
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)

	started := s.EnsureWorkersForLiveChannels(ctx)
	if len(started) > 0 {
		s.logger.Info("started captioning for broadcasting channels",
			slog.Int("count", len(started)),
		)
	} else {
		s.logger.Info("no broadcasting channels at startup")
	}

	go s.monitor(ctx)
}

// Stop halts monitoring and tears down every worker.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	s.workers.StopAll()
	s.logger.Info("supervisor stopped")
}

// EnsureWorkersForLiveChannels starts workers for channels that are
// broadcasting but uncaptioned. Invoked as a side effect of the status
// listing so a missed change event heals on the next poll. Returns the
// channel ids newly started.
func (s *Supervisor) EnsureWorkersForLiveChannels(ctx context.Context) []string {
	if !s.enabled {
		return nil
	}

	snapshot := s.status.FetchSnapshot(ctx)
	var started []string
	for _, ch := range catalog.List() {
		if snapshot[ch.Code] != catalog.StatusLive || s.workers.IsRunning(ch.ID) {
			continue
		}
		s.logger.Info("channel is broadcasting, starting captioning",
			slog.String("channel_id", ch.ID),
			slog.String("name", ch.Name),
		)
		if err := s.workers.Start(ch.ID, ch.StreamURL); err != nil {
			s.logger.Error("auto start failed",
				slog.String("channel_id", ch.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		started = append(started, ch.ID)
	}
	return started
}

// monitor consumes change batches until the context ends. Eviction by
// the poller (closed queue) triggers a fresh subscription.
func (s *Supervisor) monitor(ctx context.Context) {
	defer close(s.done)
	for {
		queue := s.status.Subscribe()
		if !s.drain(ctx, queue) {
			s.status.Unsubscribe(queue)
			return
		}
		s.logger.Warn("status subscription dropped, resubscribing")
	}
}

// drain reads one subscription until closure. Returns false when the
// context ended.
func (s *Supervisor) drain(ctx context.Context, queue chan []livestatus.Change) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case changes, ok := <-queue:
			if !ok {
				return true
			}
			s.handleChanges(changes)
		}
	}
}

func (s *Supervisor) handleChanges(changes []livestatus.Change) {
	for _, change := range changes {
		channel, ok := catalog.ByCode(change.Code)
		if !ok {
			continue
		}

		wasLive := change.OldStatus != nil && *change.OldStatus == catalog.StatusLive
		isLive := change.NewStatus != nil && *change.NewStatus == catalog.StatusLive

		switch {
		case isLive && !wasLive:
			if s.workers.IsRunning(channel.ID) {
				continue
			}
			s.logger.Info("broadcast started",
				slog.String("channel_id", channel.ID),
				slog.String("name", channel.Name),
			)
			if err := s.workers.Start(channel.ID, channel.StreamURL); err != nil {
				s.logger.Error("auto start failed",
					slog.String("channel_id", channel.ID),
					slog.String("error", err.Error()),
				)
			}
		case wasLive && !isLive:
			if !s.workers.IsRunning(channel.ID) {
				continue
			}
			newText := ""
			if change.NewText != nil {
				newText = *change.NewText
			}
			s.logger.Info("broadcast ended",
				slog.String("channel_id", channel.ID),
				slog.String("status", newText),
			)
			s.workers.Stop(channel.ID)
		}
	}
}

// Package livestatus polls the broadcaster's on-air listing and fans
// status changes out to subscribers.
package livestatus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sang-woon/ggc-subtitle/internal/catalog"
	"github.com/sang-woon/ggc-subtitle/internal/config"
	"github.com/sang-woon/ggc-subtitle/internal/httpclient"
)

// Change records one channel's status transition between two polls.
type Change struct {
	Code      string  `json:"code"`
	OldStatus *int    `json:"old_status"`
	NewStatus *int    `json:"new_status"`
	OldText   *string `json:"old_text"`
	NewText   *string `json:"new_text"`
}

// Schedule carries the session numbering from the upstream listing.
type Schedule struct {
	SessionNo    int `json:"session_no"`
	SessionOrder int `json:"session_order"`
}

// ChannelStatus is a catalog channel enriched with live status.
type ChannelStatus struct {
	catalog.Channel
	LiveStatus   int    `json:"livestatus"`
	StatusText   string `json:"status_text"`
	HasSchedule  bool   `json:"has_schedule"`
	SessionNo    int    `json:"session_no,omitempty"`
	SessionOrder int    `json:"session_order,omitempty"`
}

type onairItem struct {
	AdCode        string `json:"adCode"`
	KmsLivestatus int    `json:"kmsLivestatus"`
	AdTh          int    `json:"adTh"`
	AdCha         int    `json:"adCha"`
}

// Poller caches the upstream on-air snapshot with a short TTL and
// publishes status diffs to bounded subscriber queues. One instance
// serves the whole process.
type Poller struct {
	cfg    config.LiveStatusConfig
	client *httpclient.Client
	logger *slog.Logger

	// now is swappable in tests.
	now func() time.Time

	mu          sync.Mutex
	status      map[string]int
	schedule    map[string]Schedule
	lastFetched time.Time
	subscribers map[chan []Change]struct{}
}

// NewPoller creates a Poller. A nil client gets a default resilient one.
func NewPoller(cfg config.LiveStatusConfig, client *httpclient.Client, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		hc := httpclient.DefaultConfig()
		hc.Timeout = cfg.FetchTimeout
		hc.Logger = log
		client = httpclient.New(hc)
	}
	return &Poller{
		cfg:         cfg,
		client:      client,
		logger:      log.With(slog.String("component", "livestatus")),
		now:         time.Now,
		status:      make(map[string]int),
		schedule:    make(map[string]Schedule),
		subscribers: make(map[chan []Change]struct{}),
	}
}

// FetchSnapshot returns the current code-to-status map, refreshing it
// from upstream when the cache TTL has lapsed. Concurrent callers
// coalesce on one outbound request. Upstream failure keeps the prior
// snapshot and only shortens the time to the next retry.
func (p *Poller) FetchSnapshot(ctx context.Context) map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fresh() {
		return copyStatus(p.status)
	}

	prev := copyStatus(p.status)
	fetched, schedule, err := p.fetchUpstream(ctx)
	if err != nil {
		p.logger.Warn("on-air listing fetch failed",
			slog.String("error", err.Error()),
		)
		// Retry quickly on the next call without discarding the cache.
		p.lastFetched = p.now().Add(-p.cfg.CacheTTL + time.Second)
		return prev
	}

	p.status = fetched
	p.schedule = schedule
	p.lastFetched = p.now()

	if changes := diff(prev, fetched); len(changes) > 0 {
		p.publishLocked(changes)
	}
	return copyStatus(p.status)
}

func (p *Poller) fresh() bool {
	return len(p.status) > 0 && p.now().Sub(p.lastFetched) < p.cfg.CacheTTL
}

func (p *Poller) fetchUpstream(ctx context.Context) (map[string]int, map[string]Schedule, error) {
	form := url.Values{"ymd": {p.now().Format("2006-01-02")}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, fmt.Errorf("building on-air request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", p.cfg.Referer)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching on-air listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, nil, fmt.Errorf("on-air listing returned status %d", resp.StatusCode)
	}

	// The upstream serves an HTML error page with status 200 on some
	// failures; JSON decoding doubles as validation.
	var items []onairItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, nil, fmt.Errorf("decoding on-air listing: %w", err)
	}

	status := make(map[string]int, len(items))
	schedule := make(map[string]Schedule, len(items))
	for _, item := range items {
		if item.AdCode == "" {
			continue
		}
		status[item.AdCode] = item.KmsLivestatus
		schedule[item.AdCode] = Schedule{SessionNo: item.AdTh, SessionOrder: item.AdCha}
	}
	return status, schedule, nil
}

func diff(prev, next map[string]int) []Change {
	var changes []Change
	codes := make(map[string]struct{}, len(prev)+len(next))
	for code := range prev {
		codes[code] = struct{}{}
	}
	for code := range next {
		codes[code] = struct{}{}
	}
	for code := range codes {
		oldVal, hadOld := prev[code]
		newVal, hasNew := next[code]
		if hadOld == hasNew && oldVal == newVal {
			continue
		}
		c := Change{Code: code}
		if hadOld {
			c.OldStatus = &oldVal
			text := catalog.StatusText(oldVal)
			c.OldText = &text
		}
		if hasNew {
			c.NewStatus = &newVal
			text := catalog.StatusText(newVal)
			c.NewText = &text
		}
		changes = append(changes, c)
	}
	return changes
}

// publishLocked pushes a change batch to every subscriber queue.
// Queues with no room are dropped from the set and closed.
func (p *Poller) publishLocked(changes []Change) {
	for ch := range p.subscribers {
		select {
		case ch <- changes:
		default:
			delete(p.subscribers, ch)
			close(ch)
			p.logger.Warn("dropping slow status subscriber",
				slog.Int("queue_size", p.cfg.QueueSize),
			)
		}
	}
	p.logger.Debug("published status changes",
		slog.Int("changes", len(changes)),
		slog.Int("subscribers", len(p.subscribers)),
	)
}

// Subscribe registers a bounded change queue. The channel is closed if
// the subscriber falls behind.
func (p *Poller) Subscribe() chan []Change {
	ch := make(chan []Change, p.cfg.QueueSize)
	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	p.mu.Unlock()
	return ch
}

// Unsubscribe removes a queue registered with Subscribe. Safe to call
// for queues already evicted.
func (p *Poller) Unsubscribe(ch chan []Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.subscribers[ch]; ok {
		delete(p.subscribers, ch)
		close(ch)
	}
}

// ChannelsWithStatus merges the catalog with the current snapshot.
// Channels missing from the listing report status 0 with no schedule.
func (p *Poller) ChannelsWithStatus(ctx context.Context) []ChannelStatus {
	statusMap := p.FetchSnapshot(ctx)

	p.mu.Lock()
	schedule := make(map[string]Schedule, len(p.schedule))
	for code, s := range p.schedule {
		schedule[code] = s
	}
	p.mu.Unlock()

	channels := catalog.List()
	out := make([]ChannelStatus, 0, len(channels))
	for _, ch := range channels {
		status := statusMap[ch.Code]
		entry := ChannelStatus{
			Channel:    ch,
			LiveStatus: status,
			StatusText: catalog.StatusText(status),
		}
		if s, ok := schedule[ch.Code]; ok {
			entry.HasSchedule = true
			entry.SessionNo = s.SessionNo
			entry.SessionOrder = s.SessionOrder
		}
		out = append(out, entry)
	}
	return out
}

func copyStatus(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

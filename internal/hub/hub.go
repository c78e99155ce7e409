// Package hub fans caption events out to per-room subscribers and keeps
// a bounded history so late joiners can catch up. Rooms are keyed by
// channel id or meeting id; the hub does not care which.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

const clientSendBuffer = 64

// Caption is the wire shape of one emitted caption.
type Caption struct {
	ID           string    `json:"id"`
	MeetingID    string    `json:"meeting_id"`
	Text         string    `json:"text"`
	StartTime    float64   `json:"start_time"`
	EndTime      float64   `json:"end_time"`
	Confidence   float64   `json:"confidence"`
	Speaker      *string   `json:"speaker"`
	CreatedAt    time.Time `json:"created_at"`
	IsCorrected  bool      `json:"is_corrected,omitempty"`
	OriginalText string    `json:"original_text,omitempty"`
}

// Interim is a preview caption, broadcast but never stored.
type Interim struct {
	Text      string `json:"text"`
	ChannelID string `json:"channel_id"`
}

// Correction patches an already-broadcast caption.
type Correction struct {
	ID            string `json:"id"`
	ChannelID     string `json:"channel_id"`
	OriginalText  string `json:"original_text"`
	CorrectedText string `json:"corrected_text"`
}

// Event is the envelope every subscriber receives.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Client is one subscriber's outbound queue. The transport layer drains
// Send; the hub closes it on eviction or unregistration.
type Client struct {
	room string
	Send chan []byte
}

// Room returns the room this client subscribed to.
func (c *Client) Room() string {
	return c.room
}

// Hub is the process-wide caption broadcaster.
type Hub struct {
	historySize int
	logger      *slog.Logger

	mu      sync.Mutex
	rooms   map[string]map[*Client]struct{}
	history map[string][]Caption
}

// New creates a Hub keeping up to historySize captions per room.
func New(historySize int, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		historySize: historySize,
		logger:      log.With(slog.String("component", "hub")),
		rooms:       make(map[string]map[*Client]struct{}),
		history:     make(map[string][]Caption),
	}
}

// Register adds a subscriber to a room. The room's history, if any, is
// queued as a subtitle_history event before anything else.
func (h *Hub) Register(room string) *Client {
	c := &Client{room: room, Send: make(chan []byte, clientSendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}

	if history := h.history[room]; len(history) > 0 {
		payload := struct {
			Subtitles []Caption `json:"subtitles"`
		}{Subtitles: history}
		if data, err := json.Marshal(Event{Type: "subtitle_history", Payload: payload}); err == nil {
			c.Send <- data
		}
	}

	h.logger.Info("subscriber joined",
		slog.String("room", room),
		slog.Int("total", len(h.rooms[room])),
	)
	return c
}

// Unregister removes a subscriber and closes its queue. Safe to call
// for clients the hub already evicted.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	clients, ok := h.rooms[c.room]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.Send)
	if len(clients) == 0 {
		delete(h.rooms, c.room)
	}
}

// BroadcastCreated stores a caption in the room history and sends a
// subtitle_created event to every subscriber.
func (h *Hub) BroadcastCreated(room string, caption Caption) {
	h.mu.Lock()
	defer h.mu.Unlock()

	history := append(h.history[room], caption)
	if len(history) > h.historySize {
		history = history[len(history)-h.historySize:]
	}
	h.history[room] = history

	payload := struct {
		Subtitle Caption `json:"subtitle"`
	}{Subtitle: caption}
	h.sendLocked(room, Event{Type: "subtitle_created", Payload: payload})
}

// BroadcastInterim sends a preview caption. Interims never enter the
// history; the next subtitle_created replaces them client-side.
func (h *Hub) BroadcastInterim(room string, interim Interim) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendLocked(room, Event{Type: "subtitle_interim", Payload: interim})
}

// BroadcastCorrected patches the caption in history, keeping the
// original text, and notifies subscribers.
func (h *Hub) BroadcastCorrected(room string, correction Correction) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.history[room] {
		if h.history[room][i].ID == correction.ID {
			c := &h.history[room][i]
			c.OriginalText = c.Text
			c.Text = correction.CorrectedText
			c.IsCorrected = true
			break
		}
	}
	h.sendLocked(room, Event{Type: "subtitle_corrected", Payload: correction})
}

// sendLocked marshals the event once and queues it to every client in
// the room. Clients with a full queue are evicted rather than blocked.
func (h *Hub) sendLocked(room string, event Event) {
	clients := h.rooms[room]
	if len(clients) == 0 {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event marshal failed",
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	for c := range clients {
		select {
		case c.Send <- data:
		default:
			h.removeLocked(c)
			h.logger.Warn("evicted slow subscriber", slog.String("room", room))
		}
	}
}

// ClearHistory drops the stored captions for a room. Called when a
// broadcast ends so the next session starts clean.
func (h *Hub) ClearHistory(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.history[room]; ok {
		delete(h.history, room)
		h.logger.Info("cleared caption history", slog.String("room", room))
	}
}

// History returns a copy of the stored captions for a room.
func (h *Hub) History(room string) []Caption {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Caption, len(h.history[room]))
	copy(out, h.history[room])
	return out
}

// ActiveRooms lists rooms with at least one subscriber.
func (h *Hub) ActiveRooms() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms := make([]string, 0, len(h.rooms))
	for room := range h.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// ClientCount reports the number of subscribers in a room.
func (h *Hub) ClientCount(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/sang-woon/ggc-subtitle/internal/hub"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 4096
)

// CaptionSocketHandler bridges websocket connections to the hub. One
// connection subscribes to one room (channel id or meeting id).
type CaptionSocketHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewCaptionSocketHandler creates the websocket handler.
func NewCaptionSocketHandler(h *hub.Hub, log *slog.Logger) *CaptionSocketHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CaptionSocketHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is enforced by the CORS layer for the
			// REST API; caption frames carry nothing sensitive.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// RegisterRoutes mounts the websocket endpoint on the router.
func (h *CaptionSocketHandler) RegisterRoutes(router chi.Router) {
	router.Get("/ws/meetings/{room}/subtitles", h.ServeHTTP)
}

// ServeHTTP upgrades the connection and pumps hub events until either
// side goes away.
func (h *CaptionSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if room == "" {
		http.Error(w, "room required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			slog.String("room", room),
			slog.String("error", err.Error()),
		)
		return
	}

	client := h.hub.Register(room)
	go h.writePump(conn, client)
	h.readPump(conn, client)
}

// writePump drains the client queue onto the wire and keeps the
// connection alive with pings. Ends when the hub closes the queue.
func (h *CaptionSocketHandler) writePump(conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames, serving only to detect closure.
func (h *CaptionSocketHandler) readPump(conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sang-woon/ggc-subtitle/internal/config"
)

const handshakeTimeout = 10 * time.Second

// LiveSession is one realtime websocket connection to the provider.
// Reads and writes may run on separate goroutines; writes are
// serialized internally.
type LiveSession struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// StreamQuery builds the realtime endpoint query for the configured
// model. Keyword boosting is deliberately absent: the provider rejects
// Korean keywords on the streaming endpoint with HTTP 400, so lexical
// fix-ups happen in post-processing instead.
func StreamQuery(cfg config.ASRConfig) url.Values {
	return url.Values{
		"model":           {cfg.Model},
		"language":        {cfg.Language},
		"smart_format":    {"true"},
		"punctuate":       {"true"},
		"interim_results": {"true"},
		"vad_events":      {"true"},
		"endpointing":     {strconv.Itoa(cfg.EndpointingMS)},
		"diarize":         {"true"},
	}
}

// DialLive opens a realtime session against cfg.StreamURL.
func DialLive(ctx context.Context, cfg config.ASRConfig) (*LiveSession, error) {
	u, err := url.Parse(cfg.StreamURL)
	if err != nil {
		return nil, fmt.Errorf("parsing stream URL: %w", err)
	}
	u.RawQuery = StreamQuery(cfg).Encode()

	header := http.Header{}
	header.Set("Authorization", "Token "+cfg.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing realtime endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing realtime endpoint: %w", err)
	}
	return &LiveSession{conn: conn}, nil
}

// SendMedia streams raw container bytes (MPEG-TS) to the provider.
func (s *LiveSession) SendMedia(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("sending media bytes: %w", err)
	}
	return nil
}

// SendKeepAlive tells the provider the session is alive during silence.
func (s *LiveSession) SendKeepAlive() error {
	return s.sendControl("KeepAlive")
}

// SendCloseStream asks the provider to finalize pending results.
func (s *LiveSession) SendCloseStream() error {
	return s.sendControl("CloseStream")
}

func (s *LiveSession) sendControl(msgType string) error {
	payload, _ := json.Marshal(map[string]string{"type": msgType})
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("sending %s: %w", msgType, err)
	}
	return nil
}

// ReadMessage blocks for the next provider frame. Non-JSON frames are
// reported as errors; websocket closure surfaces as an error as well.
func (s *LiveSession) ReadMessage() (*StreamMessage, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading realtime frame: %w", err)
	}
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decoding realtime frame: %w", err)
	}
	return &msg, nil
}

// Close tears the websocket down. Safe to call from a watchdog while a
// reader is blocked; the blocked read returns with an error.
func (s *LiveSession) Close() error {
	return s.conn.Close()
}

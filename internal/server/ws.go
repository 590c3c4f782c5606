package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"panosphere/internal/motion"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // device and renderer connect from arbitrary origins
	},
}

// hub fans session state out to every connected renderer.
type hub struct {
	log        *slog.Logger
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		log:        log,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for conn := range h.clients {
				conn.Close()
			}
			return
		case conn := <-h.register:
			h.clients[conn] = true
		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					delete(h.clients, conn)
					conn.Close()
				}
			}
		}
	}
}

func (h *hub) broadcastJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("failed to marshal broadcast", "error", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default: // renderer stream lags, drop the update
	}
}

// deviceMessage is the text-frame protocol of the device link. Binary frames
// carry raw JPEG bytes and need no envelope.
type deviceMessage struct {
	Type   string        `json:"type"` // "motion"
	Sample motion.Sample `json:"sample"`
}

// handleDeviceWS is the inbound device link: the handheld streams sensor
// samples as JSON text messages and video frames as binary messages.
func (s *Server) handleDeviceWS(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		http.Error(w, "device link disabled: frame source is a watched directory", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("device websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.log.Info("device connected", "remote", conn.RemoteAddr().String())

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Info("device disconnected", "error", err)
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			s.live.PushFrame(data)
		case websocket.TextMessage:
			var msg deviceMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				s.log.Debug("ignoring malformed device message", "error", err)
				continue
			}
			if msg.Type != "motion" {
				continue
			}
			if msg.Sample.At.IsZero() {
				msg.Sample.At = time.Now()
			}
			// The serve loop drains live.Samples() into the session; the
			// handler never evaluates the gate itself.
			s.live.PushSample(msg.Sample)
		}
	}
}

// handleStateWS streams session state and scene updates to renderers.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("state websocket upgrade failed", "error", err)
		return
	}

	// Send a full snapshot up front so the renderer can draw immediately.
	snapshot, err := json.Marshal(map[string]any{
		"kind":  "snapshot",
		"state": s.sess.State(),
		"scene": s.sess.Scene(),
	})
	if err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, snapshot)
	}

	s.hub.register <- conn

	// Drain reads so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.unregister <- conn
				return
			}
		}
	}()
}

package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is what subscribers receive.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	FrameMessage  = "message"
	FrameLocation = "location"
)

type jsonConn interface {
	WriteJSON(v interface{}) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// WSSession represents one connected member of a service.
type WSSession struct {
	UserID string
	conn   jsonConn
	mu     sync.Mutex
}

func (s *WSSession) Send(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteJSON(f)
}

// Hub holds websocket sessions grouped by service id.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*WSSession]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{sessions: make(map[string]map[*WSSession]struct{}), logger: logger}
}

// Add registers conn under serviceID. Callers must Remove the returned
// session when the connection ends.
func (h *Hub) Add(serviceID, userID string, conn *websocket.Conn) *WSSession {
	return h.add(serviceID, userID, conn)
}

func (h *Hub) add(serviceID, userID string, conn jsonConn) *WSSession {
	s := &WSSession{UserID: userID, conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[serviceID]
	if !ok {
		set = make(map[*WSSession]struct{})
		h.sessions[serviceID] = set
	}
	set[s] = struct{}{}
	return s
}

func (h *Hub) Remove(serviceID string, s *WSSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.sessions[serviceID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, serviceID)
		}
	}
	_ = s.conn.Close()
}

// Drop closes every session userID holds on serviceID. It is called when the
// user stops passing the membership check, so the stream ends with access.
func (h *Hub) Drop(serviceID, userID string) int {
	h.mu.Lock()
	var dropped []*WSSession
	for s := range h.sessions[serviceID] {
		if s.UserID == userID {
			delete(h.sessions[serviceID], s)
			dropped = append(dropped, s)
		}
	}
	if len(h.sessions[serviceID]) == 0 {
		delete(h.sessions, serviceID)
	}
	h.mu.Unlock()
	for _, s := range dropped {
		_ = s.conn.Close()
	}
	return len(dropped)
}

// DropService closes every session of a deleted service.
func (h *Hub) DropService(serviceID string) int {
	h.mu.Lock()
	set := h.sessions[serviceID]
	delete(h.sessions, serviceID)
	h.mu.Unlock()
	for s := range set {
		_ = s.conn.Close()
	}
	return len(set)
}

// Broadcast sends a frame to every session of serviceID. Sessions that fail
// to accept the write are dropped.
func (h *Hub) Broadcast(serviceID, frameType string, data any) {
	h.mu.RLock()
	targets := make([]*WSSession, 0, len(h.sessions[serviceID]))
	for s := range h.sessions[serviceID] {
		targets = append(targets, s)
	}
	h.mu.RUnlock()
	f := Frame{Type: frameType, Data: data}
	for _, s := range targets {
		if err := s.Send(f); err != nil {
			h.logger.Debug("ws send failed", "service_id", serviceID, "user_id", s.UserID, "error", err)
			h.Remove(serviceID, s)
		}
	}
}

// Count returns the number of sessions subscribed to serviceID.
func (h *Hub) Count(serviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[serviceID])
}

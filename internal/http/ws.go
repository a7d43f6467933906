package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/observability"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWS streams posted messages and driver positions of one service.
// Browsers cannot set headers on a websocket handshake, so the token may
// come from the query string.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	cred := r.Header.Get("Authorization")
	if cred == "" {
		cred = r.URL.Query().Get("token")
	}
	p, err := s.engine.Authenticate(r.Context(), cred)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	serviceID := mux.Vars(r)["service_id"]
	ok, err := s.engine.IsMember(r.Context(), p.ID, serviceID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		observability.AuthzDenied.WithLabelValues("subscribe").Inc()
		s.writeError(w, r, fmt.Errorf("subscribe: %s is not a member of %s: %w", p.ID, serviceID, apperrors.ErrForbidden))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "service_id", serviceID, "error", err)
		return
	}
	session := s.hub.Add(serviceID, p.ID, conn)
	observability.WSSessions.Inc()
	defer func() {
		s.hub.Remove(serviceID, session)
		observability.WSSessions.Dec()
	}()
	// A removal that ran between the first check and Add found nothing to drop.
	if ok, err := s.engine.IsMember(r.Context(), p.ID, serviceID); err != nil || !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "membership revoked"), time.Now().Add(time.Second))
		return
	}

	// Clients only send control frames; the read loop keeps the pong
	// handler running and notices disconnects.
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// WriteControl is safe to call alongside the hub's writes.
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	}
}

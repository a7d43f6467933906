package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/shuttle-roster/internal/dispatch"
	"github.com/example/shuttle-roster/internal/roster"
)

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

type Server struct {
	engine *roster.Engine
	hub    *dispatch.Hub
	logger *slog.Logger
	ready  map[string]ReadinessCheck
	mux    *mux.Router
}

// NewServer wires the roster engine behind the REST and websocket routes.
// The engine's Ping is always part of readiness; extra checks (Redis, brokers)
// are added by name.
func NewServer(engine *roster.Engine, hub *dispatch.Hub, logger *slog.Logger, checks map[string]ReadinessCheck) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	ready := map[string]ReadinessCheck{"store": engine.Ping}
	for name, c := range checks {
		ready[name] = c
	}
	s := &Server{engine: engine, hub: hub, logger: logger, ready: ready, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/services/{service_id}", s.handleWS).Methods(http.MethodGet)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.authMiddleware)
	authed.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	authed.HandleFunc("/me", s.handleUpdateProfile).Methods(http.MethodPut)
	authed.HandleFunc("/me/services", s.handleMyServices).Methods(http.MethodGet)
	authed.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	authed.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	authed.HandleFunc("/users/{user_id}", s.handleGetUser).Methods(http.MethodGet)
	authed.HandleFunc("/users/{user_id}", s.handleUpdateUser).Methods(http.MethodPut)
	authed.HandleFunc("/users/{user_id}", s.handleDeleteUser).Methods(http.MethodDelete)
	authed.HandleFunc("/users/{user_id}/services", s.handleUserServices).Methods(http.MethodGet)
	authed.HandleFunc("/users/{user_id}/attendance", s.handleReportStatus).Methods(http.MethodPut)
	authed.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	authed.HandleFunc("/services", s.handleCreateService).Methods(http.MethodPost)
	authed.HandleFunc("/services/{service_id}", s.handleGetService).Methods(http.MethodGet)
	authed.HandleFunc("/services/{service_id}", s.handleUpdateService).Methods(http.MethodPut)
	authed.HandleFunc("/services/{service_id}", s.handleDeleteService).Methods(http.MethodDelete)
	authed.HandleFunc("/services/{service_id}/driver", s.handleSetDriver).Methods(http.MethodPut)
	authed.HandleFunc("/services/{service_id}/members", s.handleMembers).Methods(http.MethodGet)
	authed.HandleFunc("/services/{service_id}/members", s.handleAssignMember).Methods(http.MethodPost)
	authed.HandleFunc("/services/{service_id}/members/{user_id}", s.handleRemoveMember).Methods(http.MethodDelete)
	authed.HandleFunc("/services/{service_id}/messages", s.handleListMessages).Methods(http.MethodGet)
	authed.HandleFunc("/services/{service_id}/messages", s.handlePostMessage).Methods(http.MethodPost)
	authed.HandleFunc("/attendance/colleagues", s.handleColleagues).Methods(http.MethodGet)
	authed.HandleFunc("/location", s.handleReportLocation).Methods(http.MethodPut)
	authed.HandleFunc("/location", s.handleGetLocation).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", "check", name, "error", err)
			failed[name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "checks": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/shuttle-roster/internal/roster"
)

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var in roster.ProfileUpdate
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.engine.UpdateProfile(r.Context(), principalFromContext(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.engine.ListUsers(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.engine.GetUser(r.Context(), principalFromContext(r.Context()), mux.Vars(r)["user_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var in roster.UserUpdate
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.engine.UpdateUser(r.Context(), principalFromContext(r.Context()), mux.Vars(r)["user_id"], in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteUser(r.Context(), principalFromContext(r.Context()), mux.Vars(r)["user_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.engine.ListServices(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleUpdateService(w http.ResponseWriter, r *http.Request) {
	var in roster.ServiceUpdate
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	svc, err := s.engine.UpdateService(r.Context(), principalFromContext(r.Context()), mux.Vars(r)["service_id"], in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteService(r.Context(), principalFromContext(r.Context()), mux.Vars(r)["service_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/models"
	"github.com/example/shuttle-roster/internal/roster"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its status. Internal errors are logged and
// answered with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if apperrors.IsClient(err) {
		s.logger.Debug("request rejected", "route", routeTemplate(r), "status", status, "error", err)
	} else {
		s.logger.Error("request failed", "route", routeTemplate(r), "request_id", requestIDFromContext(r.Context()), "error", err)
	}
	writeJSON(w, status, map[string]string{"error": apperrors.PublicMessage(err)})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed request body: %w", apperrors.ErrInvalidArgument)
	}
	return nil
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in roster.NewUser
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.engine.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.engine.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	me, err := s.engine.Me(r.Context(), principalFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

func (s *Server) handleMyServices(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	s.writeServicesOf(w, r, p.ID)
}

func (s *Server) handleUserServices(w http.ResponseWriter, r *http.Request) {
	s.writeServicesOf(w, r, mux.Vars(r)["user_id"])
}

func (s *Server) writeServicesOf(w http.ResponseWriter, r *http.Request, userID string) {
	services, err := s.engine.ServicesOf(r.Context(), principalFromContext(r.Context()), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var in roster.NewUser
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	u, err := s.engine.CreateUser(r.Context(), principalFromContext(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleCreateService(w http.ResponseWriter, r *http.Request) {
	var in roster.NewService
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	svc, err := s.engine.CreateService(r.Context(), principalFromContext(r.Context()), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, svc)
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, err := s.engine.GetService(r.Context(), principalFromContext(r.Context()), mux.Vars(r)["service_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleSetDriver(w http.ResponseWriter, r *http.Request) {
	var in struct {
		DriverID *string `json:"driver_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	svc, err := s.engine.SetDriver(r.Context(), principalFromContext(r.Context()), mux.Vars(r)["service_id"], in.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, svc)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	users, err := s.engine.MembersOf(r.Context(), principalFromContext(r.Context()), mux.Vars(r)["service_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleAssignMember(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.UserID == "" {
		s.writeError(w, r, fmt.Errorf("user_id is required: %w", apperrors.ErrInvalidArgument))
		return
	}
	if err := s.engine.AssignMember(r.Context(), principalFromContext(r.Context()), mux.Vars(r)["service_id"], in.UserID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.engine.RemoveMember(r.Context(), principalFromContext(r.Context()), vars["service_id"], vars["user_id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	var in roster.AttendanceReport
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.engine.ReportStatus(r.Context(), principalFromContext(r.Context()), mux.Vars(r)["user_id"], in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleColleagues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := s.engine.ColleagueStatuses(r.Context(), principalFromContext(r.Context()), q.Get("service_id"), q.Get("date"), q.Get("period"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleReportLocation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Lat *float64 `json:"latitude"`
		Lon *float64 `json:"longitude"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	if in.Lat == nil || in.Lon == nil {
		s.writeError(w, r, fmt.Errorf("latitude and longitude are required: %w", apperrors.ErrInvalidArgument))
		return
	}
	loc, err := s.engine.ReportLocation(r.Context(), principalFromContext(r.Context()), models.Coord{Lat: *in.Lat, Lon: *in.Lon})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	loc, err := s.engine.GetLocation(r.Context(), principalFromContext(r.Context()), r.URL.Query().Get("service_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.engine.PostMessage(r.Context(), principalFromContext(r.Context()), mux.Vars(r)["service_id"], in.Text)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.engine.ListMessages(r.Context(), principalFromContext(r.Context()), mux.Vars(r)["service_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

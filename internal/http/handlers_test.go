package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/shuttle-roster/internal/dispatch"
	"github.com/example/shuttle-roster/internal/identity"
	"github.com/example/shuttle-roster/internal/models"
	"github.com/example/shuttle-roster/internal/roster"
	"github.com/example/shuttle-roster/internal/storage"
)

type testServer struct {
	srv    *Server
	hub    *dispatch.Hub
	jwt    *identity.JWT
	tokens map[string]string
}

func newTestServer(t *testing.T, checks map[string]ReadinessCheck) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := storage.NewMemoryStore()
	jwt := identity.NewJWT("handler-secret", time.Hour)
	hub := dispatch.NewHub(logger)
	eng := roster.New(roster.Options{Store: st, Credentials: jwt, Notifier: hub, Logger: logger})

	ts := &testServer{hub: hub, jwt: jwt, tokens: map[string]string{}}
	for _, u := range []models.User{
		{ID: "a1", Name: "Admin", Email: "a1@example.com", Role: models.RoleAdmin},
		{ID: "u1", Name: "Ayse", Email: "u1@example.com", Role: models.RoleRider},
		{ID: "u2", Name: "Mehmet", Email: "u2@example.com", Role: models.RoleRider},
		{ID: "u3", Name: "Zeynep", Email: "u3@example.com", Role: models.RoleRider},
		{ID: "d1", Name: "Ali", Email: "d1@example.com", Role: models.RoleDriver},
	} {
		u := u
		if err := st.CreateUser(ctx, &u); err != nil {
			t.Fatalf("create user: %v", err)
		}
		tok, err := jwt.Issue(u.ID, u.Role)
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		ts.tokens[u.ID] = tok
	}
	if err := st.CreateService(ctx, &models.Service{ID: "S1", Name: "Kadikoy", Plate: "34ABC123"}); err != nil {
		t.Fatalf("create service: %v", err)
	}
	ts.srv = NewServer(eng, hub, logger, checks)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+ts.tokens[user])
	}
	rr := httptest.NewRecorder()
	ts.srv.ServeHTTP(rr, req)
	return rr
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, want, rr.Body.String())
	}
}

// setupS1 makes u1 and u2 members of S1 and d1 its driver.
func (ts *testServer) setupS1(t *testing.T) {
	t.Helper()
	expectStatus(t, ts.do(t, http.MethodPost, "/api/v1/services/S1/members", "a1", map[string]string{"user_id": "u1"}), http.StatusNoContent)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/v1/services/S1/members", "a1", map[string]string{"user_id": "u2"}), http.StatusNoContent)
	expectStatus(t, ts.do(t, http.MethodPut, "/api/v1/services/S1/driver", "a1", map[string]string{"driver_id": "d1"}), http.StatusOK)
}

func TestRequiresBearerToken(t *testing.T) {
	ts := newTestServer(t, nil)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/v1/me", "", nil), http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr := httptest.NewRecorder()
	ts.srv.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusUnauthorized)
}

func TestAssignmentEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.setupS1(t)

	expectStatus(t, ts.do(t, http.MethodPost, "/api/v1/services/S1/members", "u1", map[string]string{"user_id": "u3"}), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodPut, "/api/v1/services/S1/driver", "a1", map[string]string{"driver_id": "u3"}), http.StatusUnprocessableEntity)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/v1/services/S9/members", "a1", map[string]string{"user_id": "u3"}), http.StatusNotFound)

	rr := ts.do(t, http.MethodGet, "/api/v1/services/S1/members", "d1", nil)
	expectStatus(t, rr, http.StatusOK)
	var members []models.User
	if err := json.Unmarshal(rr.Body.Bytes(), &members); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(members) != 2 || members[0].ID != "u1" {
		t.Fatalf("unexpected members %+v", members)
	}
	if strings.Contains(rr.Body.String(), "password") {
		t.Fatalf("password hash leaked: %s", rr.Body.String())
	}

	expectStatus(t, ts.do(t, http.MethodDelete, "/api/v1/services/S1/members/u3", "a1", nil), http.StatusNoContent)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/v1/users/u2/services", "u1", nil), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodGet, "/api/v1/me/services", "u1", nil), http.StatusOK)
}

func TestAttendanceEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.setupS1(t)

	body := map[string]string{"date": "2024-06-01", "period": "morning", "status": "joining"}
	expectStatus(t, ts.do(t, http.MethodPut, "/api/v1/users/u1/attendance", "u1", body), http.StatusOK)
	expectStatus(t, ts.do(t, http.MethodPut, "/api/v1/users/u1/attendance", "u2", body), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodPut, "/api/v1/users/u1/attendance", "u1", map[string]string{"date": "2024-06-01", "period": "night", "status": "joining"}), http.StatusBadRequest)

	rr := ts.do(t, http.MethodGet, "/api/v1/attendance/colleagues?date=2024-06-01&period=morning", "u2", nil)
	expectStatus(t, rr, http.StatusOK)
	var rows []models.ColleagueStatus
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 1 || rows[0].UserID != "u1" || rows[0].Status != models.StatusJoining {
		t.Fatalf("unexpected colleagues %+v", rows)
	}
	expectStatus(t, ts.do(t, http.MethodGet, "/api/v1/attendance/colleagues?date=2024-06-01&period=morning&service_id=S1", "u3", nil), http.StatusForbidden)
}

func TestLocationEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.setupS1(t)

	expectStatus(t, ts.do(t, http.MethodGet, "/api/v1/location", "u1", nil), http.StatusNotFound)
	expectStatus(t, ts.do(t, http.MethodPut, "/api/v1/location", "u1", map[string]float64{"latitude": 41, "longitude": 29}), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodPut, "/api/v1/location", "d1", map[string]float64{"latitude": 41}), http.StatusBadRequest)
	expectStatus(t, ts.do(t, http.MethodPut, "/api/v1/location", "d1", map[string]float64{"latitude": 41, "longitude": 29}), http.StatusOK)

	rr := ts.do(t, http.MethodGet, "/api/v1/location", "u1", nil)
	expectStatus(t, rr, http.StatusOK)
	var loc models.Location
	if err := json.Unmarshal(rr.Body.Bytes(), &loc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if loc.DriverID != "d1" || loc.Lat != 41 || loc.Lon != 29 || loc.UpdatedAt.IsZero() {
		t.Fatalf("unexpected location %+v", loc)
	}
	expectStatus(t, ts.do(t, http.MethodGet, "/api/v1/location?service_id=S1", "u3", nil), http.StatusForbidden)
}

func TestMessageEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.setupS1(t)

	expectStatus(t, ts.do(t, http.MethodPost, "/api/v1/services/S1/messages", "u2", map[string]string{"text": "on my way"}), http.StatusCreated)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/v1/services/S1/messages", "u3", map[string]string{"text": "hi"}), http.StatusForbidden)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/v1/services/S1/messages", "u1", map[string]string{"text": "  "}), http.StatusBadRequest)

	rr := ts.do(t, http.MethodGet, "/api/v1/services/S1/messages", "u1", nil)
	expectStatus(t, rr, http.StatusOK)
	var msgs []models.Message
	if err := json.Unmarshal(rr.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "on my way" || msgs[0].SenderID != "u2" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	ts := newTestServer(t, nil)

	reg := map[string]string{"name": "Deniz", "email": "deniz@example.com", "password": "s3cretpass"}
	expectStatus(t, ts.do(t, http.MethodPost, "/api/v1/auth/register", "", reg), http.StatusCreated)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/v1/auth/register", "", reg), http.StatusConflict)
	expectStatus(t, ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "deniz@example.com", "password": "nope"}), http.StatusUnauthorized)

	rr := ts.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "deniz@example.com", "password": "s3cretpass"})
	expectStatus(t, rr, http.StatusOK)
	var sess roster.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	me := httptest.NewRecorder()
	ts.srv.ServeHTTP(me, req)
	expectStatus(t, me, http.StatusOK)
	if !strings.Contains(me.Body.String(), `"services":[]`) {
		t.Fatalf("expected empty services, got %s", me.Body.String())
	}
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/services", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+ts.tokens["a1"])
	rr := httptest.NewRecorder()
	ts.srv.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusBadRequest)
}

func TestReadiness(t *testing.T) {
	ts := newTestServer(t, nil)
	expectStatus(t, ts.do(t, http.MethodGet, "/ready", "", nil), http.StatusOK)
	expectStatus(t, ts.do(t, http.MethodGet, "/healthz", "", nil), http.StatusOK)

	failing := newTestServer(t, map[string]ReadinessCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rr := failing.do(t, http.MethodGet, "/ready", "", nil)
	expectStatus(t, rr, http.StatusServiceUnavailable)
	if strings.Contains(rr.Body.String(), "refused") {
		t.Fatalf("readiness leaked dependency error: %s", rr.Body.String())
	}
}

func TestWebsocketReceivesMessages(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.setupS1(t)
	httpSrv := httptest.NewServer(ts.srv)
	defer httpSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws/services/S1"

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token="+ts.tokens["u3"], nil); err == nil {
		t.Fatalf("non-member subscribed")
	} else if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-member, got %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+ts.tokens["u1"], nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for ts.hub.Count("S1") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	expectStatus(t, ts.do(t, http.MethodPost, "/api/v1/services/S1/messages", "u2", map[string]string{"text": "on my way"}), http.StatusCreated)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type string         `json:"type"`
		Data models.Message `json:"data"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Type != dispatch.FrameMessage || frame.Data.Text != "on my way" {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

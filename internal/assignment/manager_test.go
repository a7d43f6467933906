package assignment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/models"
	"github.com/example/shuttle-roster/internal/storage"
)

type fixture struct {
	m     *Manager
	store *storage.MemoryStore
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := storage.NewMemoryStore()
	f := &fixture{store: st, clock: time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)}
	f.m = &Manager{Store: st, Now: func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}}
	ctx := context.Background()
	for _, u := range []models.User{
		{ID: "u1", Name: "Ayse", Email: "u1@example.com", Role: models.RoleRider},
		{ID: "u2", Name: "Mehmet", Email: "u2@example.com", Role: models.RoleRider},
		{ID: "d1", Name: "Ali", Email: "d1@example.com", Role: models.RoleDriver},
		{ID: "d2", Name: "Veli", Email: "d2@example.com", Role: models.RoleDriver},
	} {
		u := u
		if err := st.CreateUser(ctx, &u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	for _, s := range []models.Service{
		{ID: "s1", Name: "Morning A", Plate: "34ABC123"},
		{ID: "s2", Name: "Evening B", Plate: "34XYZ789"},
	} {
		s := s
		if err := st.CreateService(ctx, &s); err != nil {
			t.Fatalf("create service: %v", err)
		}
	}
	return f
}

func ptr(s string) *string { return &s }

func TestAssignMemberIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := f.m.AssignMember(ctx, "s1", "u1"); err != nil {
			t.Fatalf("assign #%d: %v", i, err)
		}
	}
	members, err := f.m.MembersOf(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0].ID != "u1" {
		t.Fatalf("expected exactly u1, got %+v", members)
	}
}

func TestAssignMemberUnknownIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.m.AssignMember(ctx, "nope", "u1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for service, got %v", err)
	}
	if err := f.m.AssignMember(ctx, "s1", "nope"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for user, got %v", err)
	}
}

func TestRemoveNonMemberIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.m.RemoveMember(ctx, "s1", "u2"); err != nil {
		t.Fatalf("remove non-member: %v", err)
	}
	if err := f.m.AssignMember(ctx, "s1", "u2"); err != nil {
		t.Fatal(err)
	}
	if err := f.m.RemoveMember(ctx, "s1", "u2"); err != nil {
		t.Fatal(err)
	}
	if err := f.m.RemoveMember(ctx, "s1", "u2"); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	members, _ := f.m.MembersOf(ctx, "s1")
	if len(members) != 0 {
		t.Fatalf("expected empty, got %+v", members)
	}
}

func TestSetDriverReplacesAndValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.m.SetDriver(ctx, "s1", ptr("u1")); !errors.Is(err, apperrors.ErrInvalidRole) {
		t.Fatalf("expected invalid role, got %v", err)
	}
	if _, err := f.m.SetDriver(ctx, "missing", ptr("d1")); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.m.SetDriver(ctx, "s1", ptr("ghost")); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for driver, got %v", err)
	}
	if _, err := f.m.SetDriver(ctx, "s1", ptr("d1")); err != nil {
		t.Fatal(err)
	}
	s, err := f.m.SetDriver(ctx, "s1", ptr("d2"))
	if err != nil {
		t.Fatal(err)
	}
	if !s.HasDriver("d2") || s.HasDriver("d1") {
		t.Fatalf("expected d2 only, got %v", s.DriverID)
	}
	if ok, _ := f.m.IsMember(ctx, "d1", "s1"); ok {
		t.Fatalf("replaced driver must lose membership")
	}
	s, err = f.m.SetDriver(ctx, "s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.DriverID != nil {
		t.Fatalf("expected cleared driver")
	}
}

func TestHomeServiceUsesAssignmentOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.m.AssignMember(ctx, "s2", "u1"); err != nil {
		t.Fatal(err)
	}
	if err := f.m.AssignMember(ctx, "s1", "u1"); err != nil {
		t.Fatal(err)
	}
	home, ok, err := f.m.HomeService(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("home: ok=%v err=%v", ok, err)
	}
	if home.ID != "s2" {
		t.Fatalf("expected first assigned s2, got %s", home.ID)
	}
	// re-assigning must not move s1 ahead
	if err := f.m.AssignMember(ctx, "s2", "u1"); err != nil {
		t.Fatal(err)
	}
	home, _, _ = f.m.HomeService(ctx, "u1")
	if home.ID != "s2" {
		t.Fatalf("expected s2 after reassign, got %s", home.ID)
	}
}

func TestServicesOfIncludesDrivenServices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.m.SetDriver(ctx, "s2", ptr("d1")); err != nil {
		t.Fatal(err)
	}
	services, err := f.m.ServicesOf(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if len(services) != 1 || services[0].ID != "s2" {
		t.Fatalf("expected s2, got %+v", services)
	}
	if _, err := f.m.ServicesOf(ctx, "ghost"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	empty, err := f.m.ServicesOf(ctx, "u2")
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty set, got %v %v", empty, err)
	}
}

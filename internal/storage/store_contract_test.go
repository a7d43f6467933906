package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/models"
)

// newStoreFunc returns an empty store for one subtest.
type newStoreFunc func(t *testing.T) EntityStore

var t0 = time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)

func seedStore(t *testing.T, st EntityStore) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []models.User{
		{ID: "u1", Name: "Ayse", Email: "Ayse@Example.com", Role: models.RoleRider},
		{ID: "u2", Name: "Mehmet", Email: "mehmet@example.com", Role: models.RoleRider},
		{ID: "d1", Name: "Ali", Email: "ali@example.com", Role: models.RoleDriver},
	} {
		u := u
		if err := st.CreateUser(ctx, &u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	for _, id := range []string{"S2", "S1"} {
		if err := st.CreateService(ctx, &models.Service{ID: id, Name: id, Plate: "34" + id}); err != nil {
			t.Fatalf("create service: %v", err)
		}
	}
}

func mustNil(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// testEntityStore runs the behaviour every EntityStore must share.
func testEntityStore(t *testing.T, newStore newStoreFunc) {
	tests := []struct {
		name string
		fn   func(t *testing.T, st EntityStore)
	}{
		{"DuplicateEmailConflicts", testDuplicateEmailConflicts},
		{"MemberServicesOrderedByAssignment", testMemberServicesOrderedByAssignment},
		{"SameTickKeepsAssignmentOrder", testSameTickKeepsAssignmentOrder},
		{"SetServiceDriverKeepsAssignmentTime", testSetServiceDriverKeepsAssignmentTime},
		{"AttendanceUpsertKeepsOneRow", testAttendanceUpsertKeepsOneRow},
		{"UpdateUserDemotionClearsDriverSlot", testUpdateUserDemotionClearsDriverSlot},
		{"DeleteUserClearsRelations", testDeleteUserClearsRelations},
		{"DeleteServiceClearsMemberships", testDeleteServiceClearsMemberships},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			st := newStore(t)
			seedStore(t, st)
			tc.fn(t, st)
		})
	}
}

func testDuplicateEmailConflicts(t *testing.T, st EntityStore) {
	ctx := context.Background()
	err := st.CreateUser(ctx, &models.User{Name: "Other", Email: "ayse@example.COM", Role: models.RoleRider})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	u, err := st.GetUserByEmail(ctx, "AYSE@example.com")
	if err != nil || u.ID != "u1" {
		t.Fatalf("lookup by email = %+v, %v", u, err)
	}
}

func testMemberServicesOrderedByAssignment(t *testing.T, st EntityStore) {
	ctx := context.Background()
	mustNil(t, st.AddMember(ctx, "S2", "u1", t0))
	mustNil(t, st.AddMember(ctx, "S1", "u1", t0.Add(time.Minute)))
	// Re-adding keeps the original time.
	mustNil(t, st.AddMember(ctx, "S2", "u1", t0.Add(time.Hour)))
	got, err := st.ListMemberServices(ctx, "u1")
	mustNil(t, err)
	if len(got) != 2 || got[0].ID != "S2" || got[1].ID != "S1" {
		t.Fatalf("unexpected order %+v", got)
	}
}

func testSameTickKeepsAssignmentOrder(t *testing.T, st EntityStore) {
	ctx := context.Background()
	mustNil(t, st.AddMember(ctx, "S2", "u1", t0))
	mustNil(t, st.AddMember(ctx, "S1", "u1", t0))
	services, err := st.ListMemberServices(ctx, "u1")
	mustNil(t, err)
	if len(services) != 2 || services[0].ID != "S2" {
		t.Fatalf("expected S2 first, got %+v", services)
	}

	mustNil(t, st.AddMember(ctx, "S1", "u2", t0))
	members, err := st.ListMembers(ctx, "S1")
	mustNil(t, err)
	if len(members) != 2 || members[0].ID != "u1" || members[1].ID != "u2" {
		t.Fatalf("unexpected member order %+v", members)
	}

	d := "d1"
	_, err = st.SetServiceDriver(ctx, "S2", &d, t0)
	mustNil(t, err)
	_, err = st.SetServiceDriver(ctx, "S1", &d, t0)
	mustNil(t, err)
	driven, err := st.ListDrivenServices(ctx, "d1")
	mustNil(t, err)
	if len(driven) != 2 || driven[0].ID != "S2" {
		t.Fatalf("expected S2 first among driven, got %+v", driven)
	}
}

func testSetServiceDriverKeepsAssignmentTime(t *testing.T, st EntityStore) {
	ctx := context.Background()
	d := "d1"
	_, err := st.SetServiceDriver(ctx, "S1", &d, t0)
	mustNil(t, err)
	_, err = st.SetServiceDriver(ctx, "S2", &d, t0.Add(time.Minute))
	mustNil(t, err)
	// Setting S1's driver again must not move S1 behind S2.
	_, err = st.SetServiceDriver(ctx, "S1", &d, t0.Add(time.Hour))
	mustNil(t, err)
	driven, err := st.ListDrivenServices(ctx, "d1")
	if err != nil || len(driven) != 2 || driven[0].ID != "S1" {
		t.Fatalf("driven = %+v, %v", driven, err)
	}

	rider := "u1"
	if _, err := st.SetServiceDriver(ctx, "S1", &rider, t0); !errors.Is(err, apperrors.ErrInvalidRole) {
		t.Fatalf("expected invalid role, got %v", err)
	}
	s, err := st.SetServiceDriver(ctx, "S1", nil, t0)
	if err != nil || s.DriverID != nil {
		t.Fatalf("clear = %+v, %v", s, err)
	}
}

func testAttendanceUpsertKeepsOneRow(t *testing.T, st EntityStore) {
	ctx := context.Background()
	first, err := st.UpsertAttendance(ctx, models.Attendance{UserID: "u1", Date: "2024-06-01", Period: models.PeriodMorning, Status: models.StatusJoining, UpdatedAt: t0})
	mustNil(t, err)
	second, err := st.UpsertAttendance(ctx, models.Attendance{UserID: "u1", Date: "2024-06-01", Period: models.PeriodMorning, Status: models.StatusNotJoining, UpdatedAt: t0.Add(time.Minute)})
	mustNil(t, err)
	if first.ID != second.ID {
		t.Fatalf("upsert created a second row: %s vs %s", first.ID, second.ID)
	}
	rows, err := st.ListAttendance(ctx, []string{"u1", "u2"}, "2024-06-01", models.PeriodMorning)
	mustNil(t, err)
	if len(rows) != 1 || rows[0].Status != models.StatusNotJoining || !rows[0].UpdatedAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("rows = %+v", rows)
	}
	if _, err := st.UpsertAttendance(ctx, models.Attendance{UserID: "ghost", Date: "2024-06-01", Period: models.PeriodMorning, Status: models.StatusJoining, UpdatedAt: t0}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}

func testUpdateUserDemotionClearsDriverSlot(t *testing.T, st EntityStore) {
	ctx := context.Background()
	d := "d1"
	_, err := st.SetServiceDriver(ctx, "S1", &d, t0)
	mustNil(t, err)

	u, err := st.GetUser(ctx, "d1")
	mustNil(t, err)
	u.Email = "mehmet@example.com"
	if err := st.UpdateUser(ctx, u); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected email conflict, got %v", err)
	}

	u.Email, u.Role, u.Name = "ali@example.org", models.RoleRider, "Ali K"
	mustNil(t, st.UpdateUser(ctx, u))
	s, err := st.GetService(ctx, "S1")
	mustNil(t, err)
	if s.DriverID != nil {
		t.Fatalf("demoted user still drives S1")
	}
	got, err := st.GetUserByEmail(ctx, "ali@example.org")
	if err != nil || got.Name != "Ali K" || got.Role != models.RoleRider {
		t.Fatalf("updated user = %+v, %v", got, err)
	}
	if _, err := st.GetUserByEmail(ctx, "ali@example.com"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("old email still resolves: %v", err)
	}
	if err := st.UpdateUser(ctx, models.User{ID: "ghost", Email: "ghost@example.com", Role: models.RoleRider}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testDeleteUserClearsRelations(t *testing.T, st EntityStore) {
	ctx := context.Background()
	d := "d1"
	_, err := st.SetServiceDriver(ctx, "S1", &d, t0)
	mustNil(t, err)
	mustNil(t, st.AddMember(ctx, "S1", "u1", t0))
	_, err = st.UpsertAttendance(ctx, models.Attendance{UserID: "u1", Date: "2024-06-01", Period: models.PeriodEvening, Status: models.StatusJoining, UpdatedAt: t0})
	mustNil(t, err)

	mustNil(t, st.DeleteUser(ctx, "d1"))
	s, err := st.GetService(ctx, "S1")
	mustNil(t, err)
	if s.DriverID != nil {
		t.Fatalf("deleted driver still assigned: %v", *s.DriverID)
	}

	mustNil(t, st.DeleteUser(ctx, "u1"))
	if ok, _ := st.IsMember(ctx, "S1", "u1"); ok {
		t.Fatalf("deleted user still a member")
	}
	members, err := st.ListMembers(ctx, "S1")
	if err != nil || len(members) != 0 {
		t.Fatalf("members = %+v, %v", members, err)
	}
	rows, err := st.ListAttendance(ctx, []string{"u1"}, "2024-06-01", models.PeriodEvening)
	if err != nil || len(rows) != 0 {
		t.Fatalf("attendance survived delete: %+v, %v", rows, err)
	}
	if _, err := st.GetUser(ctx, "u1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := st.DeleteUser(ctx, "u1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("second delete = %v", err)
	}
	// The e-mail is free again.
	mustNil(t, st.CreateUser(ctx, &models.User{Name: "Ayse", Email: "ayse@example.com", Role: models.RoleRider}))
}

func testDeleteServiceClearsMemberships(t *testing.T, st EntityStore) {
	ctx := context.Background()
	mustNil(t, st.AddMember(ctx, "S1", "u1", t0))
	mustNil(t, st.AddMember(ctx, "S2", "u1", t0.Add(time.Minute)))

	s, err := st.GetService(ctx, "S1")
	mustNil(t, err)
	s.Name, s.Route = "Kadikoy", "Moda - Levent"
	mustNil(t, st.UpdateService(ctx, s))
	s, err = st.GetService(ctx, "S1")
	if err != nil || s.Name != "Kadikoy" || s.Route != "Moda - Levent" {
		t.Fatalf("updated service = %+v, %v", s, err)
	}

	mustNil(t, st.DeleteService(ctx, "S1"))
	services, err := st.ListMemberServices(ctx, "u1")
	if err != nil || len(services) != 1 || services[0].ID != "S2" {
		t.Fatalf("member services = %+v, %v", services, err)
	}
	all, err := st.ListServices(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("services = %+v, %v", all, err)
	}
	if err := st.DeleteService(ctx, "S1"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("second delete = %v", err)
	}
	if err := st.UpdateService(ctx, models.Service{ID: "S1", Name: "x", Plate: "y"}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("update of deleted service = %v", err)
	}
}

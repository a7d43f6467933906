package attendance

import (
	"context"
	"time"

	"github.com/example/shuttle-roster/internal/models"
	"github.com/example/shuttle-roster/internal/storage"
)

// Tracker owns per (user, date, period) attendance rows.
type Tracker struct {
	Store storage.EntityStore
	Now   func() time.Time
}

func NewTracker(store storage.EntityStore) *Tracker {
	return &Tracker{Store: store, Now: time.Now}
}

func (t *Tracker) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}

// ReportStatus upserts the row keyed by (userID, date, period) and mirrors the
// latest answer onto the user's per-period status fields.
func (t *Tracker) ReportStatus(ctx context.Context, userID string, date models.Date, period models.Period, status models.AttendanceStatus) (models.Attendance, error) {
	at := t.now()
	rec, err := t.Store.UpsertAttendance(ctx, models.Attendance{
		UserID:    userID,
		Date:      date,
		Period:    period,
		Status:    status,
		UpdatedAt: at,
	})
	if err != nil {
		return models.Attendance{}, err
	}
	if err := t.Store.SetUserPeriodStatus(ctx, userID, period, status, at); err != nil {
		return models.Attendance{}, err
	}
	return rec, nil
}

// Colleagues builds the roster for one period from members. Drivers and the
// requester are left out. A member without a row is not_joining with a nil
// UpdatedAt: silence is never read as presence.
func (t *Tracker) Colleagues(ctx context.Context, requesterID string, members []models.User, date models.Date, period models.Period) ([]models.ColleagueStatus, error) {
	roster := make([]models.User, 0, len(members))
	ids := make([]string, 0, len(members))
	for _, u := range members {
		if u.Role == models.RoleDriver || u.ID == requesterID {
			continue
		}
		roster = append(roster, u)
		ids = append(ids, u.ID)
	}
	rows, err := t.Store.ListAttendance(ctx, ids, date, period)
	if err != nil {
		return nil, err
	}
	byUser := make(map[string]models.Attendance, len(rows))
	for _, a := range rows {
		byUser[a.UserID] = a
	}
	out := make([]models.ColleagueStatus, 0, len(roster))
	for _, u := range roster {
		cs := models.ColleagueStatus{UserID: u.ID, Name: u.Name, Role: u.Role, Status: models.StatusNotJoining}
		if a, ok := byUser[u.ID]; ok {
			ts := a.UpdatedAt
			cs.Status, cs.UpdatedAt = a.Status, &ts
		}
		out = append(out, cs)
	}
	return out, nil
}

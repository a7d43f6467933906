package roster

import (
	"context"
	"fmt"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/events"
	"github.com/example/shuttle-roster/internal/identity"
	"github.com/example/shuttle-roster/internal/models"
	"github.com/example/shuttle-roster/internal/observability"
)

// AttendanceReport is the raw input of ReportStatus, validated by the engine.
type AttendanceReport struct {
	Date   string `json:"date"`
	Period string `json:"period"`
	Status string `json:"status"`
}

// ReportStatus records the caller's own answer for one period. Reporting on
// behalf of someone else is Forbidden, whatever the caller's role.
func (e *Engine) ReportStatus(ctx context.Context, p identity.Principal, userID string, in AttendanceReport) (models.Attendance, error) {
	if p.ID != userID {
		observability.AuthzDenied.WithLabelValues("report_status").Inc()
		return models.Attendance{}, fmt.Errorf("report_status: %s may not report for %s: %w", p.ID, userID, apperrors.ErrForbidden)
	}
	date, period, err := parseDay(in.Date, in.Period)
	if err != nil {
		return models.Attendance{}, err
	}
	status, err := models.ParseStatus(in.Status)
	if err != nil {
		return models.Attendance{}, fmt.Errorf("%v: %w", err, apperrors.ErrInvalidArgument)
	}
	rec, err := e.attend.ReportStatus(ctx, userID, date, period, status)
	if err != nil {
		return models.Attendance{}, err
	}
	observability.AttendanceWrites.WithLabelValues(string(period), string(status)).Inc()
	e.publish(ctx, events.AttendanceReported, userID, rec)
	return rec, nil
}

// ColleagueStatuses lists the attendance of the non-driver members of a
// service for one period. serviceID may be empty, in which case the caller's
// home service is used.
func (e *Engine) ColleagueStatuses(ctx context.Context, p identity.Principal, serviceID, date, period string) ([]models.ColleagueStatus, error) {
	d, per, err := parseDay(date, period)
	if err != nil {
		return nil, err
	}
	svc, err := e.scopeService(ctx, p, serviceID, "colleague_statuses")
	if err != nil {
		return nil, err
	}
	members, err := e.assign.MembersOf(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	return e.attend.Colleagues(ctx, p.ID, members, d, per)
}

func parseDay(date, period string) (models.Date, models.Period, error) {
	d, err := models.ParseDate(date)
	if err != nil {
		return "", "", fmt.Errorf("%v: %w", err, apperrors.ErrInvalidArgument)
	}
	per, err := models.ParsePeriod(period)
	if err != nil {
		return "", "", fmt.Errorf("%v: %w", err, apperrors.ErrInvalidArgument)
	}
	return d, per, nil
}

package roster

import (
	"context"
	"fmt"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/dispatch"
	"github.com/example/shuttle-roster/internal/events"
	"github.com/example/shuttle-roster/internal/identity"
	"github.com/example/shuttle-roster/internal/models"
	"github.com/example/shuttle-roster/internal/observability"
)

// ReportLocation stores the caller's current position. Only a DRIVER who
// drives at least one service may report.
func (e *Engine) ReportLocation(ctx context.Context, p identity.Principal, c models.Coord) (models.Location, error) {
	if err := e.requireRole(p, "report_location", models.RoleDriver); err != nil {
		return models.Location{}, err
	}
	driven, err := e.assign.DrivenServices(ctx, p.ID)
	if err != nil {
		return models.Location{}, err
	}
	if len(driven) == 0 {
		observability.AuthzDenied.WithLabelValues("report_location").Inc()
		return models.Location{}, fmt.Errorf("report_location: %s drives no service: %w", p.ID, apperrors.ErrForbidden)
	}
	if !c.Valid() {
		return models.Location{}, fmt.Errorf("coordinates (%g, %g) out of range: %w", c.Lat, c.Lon, apperrors.ErrInvalidArgument)
	}

	loc := models.Location{DriverID: p.ID, Coord: c, UpdatedAt: e.now().UTC()}
	if err := e.locations.Report(ctx, loc); err != nil {
		return models.Location{}, fmt.Errorf("store location: %w", err)
	}
	observability.LocationReports.Inc()
	if sized, ok := e.locations.(interface{ Len() int }); ok {
		observability.CachedLocations.Set(float64(sized.Len()))
	}

	e.publish(ctx, events.LocationReported, p.ID, loc)
	for _, s := range driven {
		e.notifier.Broadcast(s.ID, dispatch.FrameLocation, loc)
	}
	return loc, nil
}

// GetLocation returns the fresh position of the driver of a service the
// caller belongs to. serviceID may be empty, in which case the caller's home
// service is used.
func (e *Engine) GetLocation(ctx context.Context, p identity.Principal, serviceID string) (models.Location, error) {
	svc, err := e.scopeService(ctx, p, serviceID, "get_location")
	if err != nil {
		return models.Location{}, err
	}
	if svc.DriverID == nil {
		observability.LocationReads.WithLabelValues("no_driver").Inc()
		return models.Location{}, fmt.Errorf("service %s has no driver: %w", svc.ID, apperrors.ErrNotFound)
	}
	loc, ok, err := e.locations.Get(ctx, *svc.DriverID)
	if err != nil {
		return models.Location{}, fmt.Errorf("read location: %w", err)
	}
	if !ok {
		observability.LocationReads.WithLabelValues("absent").Inc()
		return models.Location{}, fmt.Errorf("no current location for driver %s: %w", *svc.DriverID, apperrors.ErrNotFound)
	}
	observability.LocationReads.WithLabelValues("hit").Inc()
	return loc, nil
}

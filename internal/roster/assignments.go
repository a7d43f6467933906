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

type driverChange struct {
	ServiceID string  `json:"serviceId"`
	DriverID  *string `json:"driverId"`
}

type membershipChange struct {
	ServiceID string `json:"serviceId"`
	UserID    string `json:"userId"`
}

// SetDriver replaces the driver of a service. A nil driverID clears it.
func (e *Engine) SetDriver(ctx context.Context, p identity.Principal, serviceID string, driverID *string) (models.Service, error) {
	if err := e.requireRole(p, "set_driver", models.RoleAdmin); err != nil {
		return models.Service{}, err
	}
	before, err := e.store.GetService(ctx, serviceID)
	if err != nil {
		return models.Service{}, err
	}
	s, err := e.assign.SetDriver(ctx, serviceID, driverID)
	if err != nil {
		return models.Service{}, err
	}
	observability.AssignmentOps.WithLabelValues("set_driver").Inc()
	if before.DriverID != nil && !s.HasDriver(*before.DriverID) {
		e.revoke(ctx, serviceID, *before.DriverID)
	}
	e.publish(ctx, events.DriverChanged, serviceID, driverChange{ServiceID: serviceID, DriverID: s.DriverID})
	return s, nil
}

func (e *Engine) AssignMember(ctx context.Context, p identity.Principal, serviceID, userID string) error {
	if err := e.requireRole(p, "assign_member", models.RoleAdmin); err != nil {
		return err
	}
	if err := e.assign.AssignMember(ctx, serviceID, userID); err != nil {
		return err
	}
	observability.AssignmentOps.WithLabelValues("assign_member").Inc()
	e.publish(ctx, events.MemberAssigned, serviceID, membershipChange{ServiceID: serviceID, UserID: userID})
	return nil
}

func (e *Engine) RemoveMember(ctx context.Context, p identity.Principal, serviceID, userID string) error {
	if err := e.requireRole(p, "remove_member", models.RoleAdmin); err != nil {
		return err
	}
	if err := e.assign.RemoveMember(ctx, serviceID, userID); err != nil {
		return err
	}
	observability.AssignmentOps.WithLabelValues("remove_member").Inc()
	e.revoke(ctx, serviceID, userID)
	e.publish(ctx, events.MemberRemoved, serviceID, membershipChange{ServiceID: serviceID, UserID: userID})
	return nil
}

// MembersOf is open to admins and to anyone who passes IsMember for the
// service. An unknown service is NotFound for admins and Forbidden otherwise.
func (e *Engine) MembersOf(ctx context.Context, p identity.Principal, serviceID string) ([]models.User, error) {
	if p.Role != models.RoleAdmin {
		if err := e.requireMember(ctx, p, serviceID, "members_of"); err != nil {
			return nil, err
		}
	}
	if _, err := e.store.GetService(ctx, serviceID); err != nil {
		return nil, err
	}
	return e.assign.MembersOf(ctx, serviceID)
}

func (e *Engine) ServicesOf(ctx context.Context, p identity.Principal, userID string) ([]models.Service, error) {
	if p.Role != models.RoleAdmin && p.ID != userID {
		observability.AuthzDenied.WithLabelValues("services_of").Inc()
		return nil, fmt.Errorf("services_of: %s may not list services of %s: %w", p.ID, userID, apperrors.ErrForbidden)
	}
	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	services, err := e.assign.ServicesOf(ctx, userID)
	if err != nil {
		return nil, err
	}
	if services == nil {
		services = []models.Service{}
	}
	return services, nil
}

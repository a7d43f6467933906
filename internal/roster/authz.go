package roster

import (
	"context"
	"fmt"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/identity"
	"github.com/example/shuttle-roster/internal/models"
	"github.com/example/shuttle-roster/internal/observability"
)

// IsMember is the single authorization predicate for service-scoped data:
// userID is the configured driver of serviceID or one of its members.
func (e *Engine) IsMember(ctx context.Context, userID, serviceID string) (bool, error) {
	return e.assign.IsMember(ctx, userID, serviceID)
}

func (e *Engine) requireMember(ctx context.Context, p identity.Principal, serviceID, op string) error {
	ok, err := e.IsMember(ctx, p.ID, serviceID)
	if err != nil {
		return err
	}
	if !ok {
		observability.AuthzDenied.WithLabelValues(op).Inc()
		return fmt.Errorf("%s: user %s is not a member of service %s: %w", op, p.ID, serviceID, apperrors.ErrForbidden)
	}
	return nil
}

func (e *Engine) requireRole(p identity.Principal, op string, role models.Role) error {
	if p.Role != role {
		observability.AuthzDenied.WithLabelValues(op).Inc()
		return fmt.Errorf("%s requires role %s: %w", op, role, apperrors.ErrForbidden)
	}
	return nil
}

// scopeService picks the service a service-scoped read applies to: the
// explicit serviceID after a membership check, or the caller's home service.
func (e *Engine) scopeService(ctx context.Context, p identity.Principal, serviceID, op string) (models.Service, error) {
	if serviceID != "" {
		if err := e.requireMember(ctx, p, serviceID, op); err != nil {
			return models.Service{}, err
		}
		return e.store.GetService(ctx, serviceID)
	}
	home, ok, err := e.assign.HomeService(ctx, p.ID)
	if err != nil {
		return models.Service{}, err
	}
	if !ok {
		observability.AuthzDenied.WithLabelValues(op).Inc()
		return models.Service{}, fmt.Errorf("%s: user %s belongs to no service: %w", op, p.ID, apperrors.ErrForbidden)
	}
	return home, nil
}

// revoke closes the live streams of userID on serviceID unless the user still
// passes IsMember, for example as driver after losing the membership row.
func (e *Engine) revoke(ctx context.Context, serviceID, userID string) {
	ok, err := e.IsMember(ctx, userID, serviceID)
	if err != nil {
		e.logger.Warn("membership recheck failed, dropping streams", "service_id", serviceID, "user_id", userID, "error", err)
	}
	if ok {
		return
	}
	if n := e.notifier.Drop(serviceID, userID); n > 0 {
		e.logger.Info("closed streams of former member", "service_id", serviceID, "user_id", userID, "sessions", n)
	}
}

package roster

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/events"
	"github.com/example/shuttle-roster/internal/identity"
	"github.com/example/shuttle-roster/internal/models"
	"github.com/example/shuttle-roster/internal/observability"
)

// ProfileUpdate is what a user may change about themselves. Nil fields are
// left alone.
type ProfileUpdate struct {
	Name       *string `json:"name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Department *string `json:"department,omitempty"`
}

// UserUpdate is an admin edit. Nil fields are left alone.
type UserUpdate struct {
	ProfileUpdate
	Email    *string `json:"email,omitempty"`
	Role     *string `json:"role,omitempty"`
	Password *string `json:"password,omitempty"`
}

type ServiceUpdate struct {
	Name  *string `json:"name,omitempty"`
	Plate *string `json:"plate,omitempty"`
	Route *string `json:"route,omitempty"`
}

type entityChange struct {
	ID string `json:"id"`
}

// UpdateProfile edits the caller's own name, phone and department.
func (e *Engine) UpdateProfile(ctx context.Context, p identity.Principal, in ProfileUpdate) (models.User, error) {
	u, err := e.store.GetUser(ctx, p.ID)
	if err != nil {
		return models.User{}, err
	}
	if err := applyProfile(&u, in); err != nil {
		return models.User{}, err
	}
	if err := e.store.UpdateUser(ctx, u); err != nil {
		return models.User{}, err
	}
	observability.EntityOps.WithLabelValues("update_profile").Inc()
	e.publish(ctx, events.UserUpdated, u.ID, entityChange{ID: u.ID})
	return u, nil
}

// GetUser is open to admins and to the user themselves.
func (e *Engine) GetUser(ctx context.Context, p identity.Principal, userID string) (models.User, error) {
	if p.Role != models.RoleAdmin && p.ID != userID {
		observability.AuthzDenied.WithLabelValues("get_user").Inc()
		return models.User{}, fmt.Errorf("get_user: %s may not read %s: %w", p.ID, userID, apperrors.ErrForbidden)
	}
	return e.store.GetUser(ctx, userID)
}

func (e *Engine) ListUsers(ctx context.Context, p identity.Principal) ([]models.User, error) {
	if err := e.requireRole(p, "list_users", models.RoleAdmin); err != nil {
		return nil, err
	}
	users, err := e.store.ListUsers(ctx)
	if users == nil && err == nil {
		users = []models.User{}
	}
	return users, err
}

// UpdateUser applies an admin edit. Demoting a DRIVER clears every service
// it drives and closes its streams there.
func (e *Engine) UpdateUser(ctx context.Context, p identity.Principal, userID string, in UserUpdate) (models.User, error) {
	if err := e.requireRole(p, "update_user", models.RoleAdmin); err != nil {
		return models.User{}, err
	}
	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return models.User{}, err
	}
	wasDriver := u.Role == models.RoleDriver
	if err := applyProfile(&u, in.ProfileUpdate); err != nil {
		return models.User{}, err
	}
	if in.Email != nil {
		addr, err := mail.ParseAddress(strings.TrimSpace(*in.Email))
		if err != nil {
			return models.User{}, fmt.Errorf("invalid email: %w", apperrors.ErrInvalidArgument)
		}
		u.Email = addr.Address
	}
	if in.Role != nil {
		role, err := models.ParseRole(*in.Role)
		if err != nil {
			return models.User{}, fmt.Errorf("%v: %w", err, apperrors.ErrInvalidRole)
		}
		u.Role = role
	}
	if in.Password != nil {
		if len(*in.Password) < minPasswordLength {
			return models.User{}, fmt.Errorf("password shorter than %d characters: %w", minPasswordLength, apperrors.ErrInvalidArgument)
		}
		if u.PasswordHash, err = identity.HashPassword(*in.Password); err != nil {
			return models.User{}, err
		}
	}

	var driven []models.Service
	if wasDriver && u.Role != models.RoleDriver {
		if driven, err = e.assign.DrivenServices(ctx, userID); err != nil {
			return models.User{}, err
		}
	}
	if err := e.store.UpdateUser(ctx, u); err != nil {
		return models.User{}, err
	}
	for _, s := range driven {
		e.revoke(ctx, s.ID, userID)
		e.publish(ctx, events.DriverChanged, s.ID, driverChange{ServiceID: s.ID})
	}
	observability.EntityOps.WithLabelValues("update_user").Inc()
	e.publish(ctx, events.UserUpdated, u.ID, entityChange{ID: u.ID})
	return u, nil
}

// DeleteUser removes a user with its memberships, driver slots and
// attendance, and closes its live streams. Admins cannot delete themselves.
func (e *Engine) DeleteUser(ctx context.Context, p identity.Principal, userID string) error {
	if err := e.requireRole(p, "delete_user", models.RoleAdmin); err != nil {
		return err
	}
	if userID == p.ID {
		return fmt.Errorf("admin %s cannot delete their own account: %w", p.ID, apperrors.ErrInvalidArgument)
	}
	services, err := e.assign.ServicesOf(ctx, userID)
	if err != nil {
		return err
	}
	if err := e.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	for _, s := range services {
		e.notifier.Drop(s.ID, userID)
	}
	observability.EntityOps.WithLabelValues("delete_user").Inc()
	e.publish(ctx, events.UserDeleted, userID, entityChange{ID: userID})
	return nil
}

func (e *Engine) ListServices(ctx context.Context, p identity.Principal) ([]models.Service, error) {
	if err := e.requireRole(p, "list_services", models.RoleAdmin); err != nil {
		return nil, err
	}
	services, err := e.store.ListServices(ctx)
	if services == nil && err == nil {
		services = []models.Service{}
	}
	return services, err
}

// UpdateService edits name, plate and route. The driver is changed with
// SetDriver.
func (e *Engine) UpdateService(ctx context.Context, p identity.Principal, serviceID string, in ServiceUpdate) (models.Service, error) {
	if err := e.requireRole(p, "update_service", models.RoleAdmin); err != nil {
		return models.Service{}, err
	}
	s, err := e.store.GetService(ctx, serviceID)
	if err != nil {
		return models.Service{}, err
	}
	if in.Name != nil {
		s.Name = strings.TrimSpace(*in.Name)
	}
	if in.Plate != nil {
		s.Plate = strings.TrimSpace(*in.Plate)
	}
	if in.Route != nil {
		s.Route = strings.TrimSpace(*in.Route)
	}
	if s.Name == "" || s.Plate == "" {
		return models.Service{}, fmt.Errorf("service name and plate are required: %w", apperrors.ErrInvalidArgument)
	}
	if err := e.store.UpdateService(ctx, s); err != nil {
		return models.Service{}, err
	}
	observability.EntityOps.WithLabelValues("update_service").Inc()
	e.publish(ctx, events.ServiceUpdated, s.ID, entityChange{ID: s.ID})
	return s, nil
}

// DeleteService removes a service with its memberships and message log and
// closes every stream subscribed to it.
func (e *Engine) DeleteService(ctx context.Context, p identity.Principal, serviceID string) error {
	if err := e.requireRole(p, "delete_service", models.RoleAdmin); err != nil {
		return err
	}
	if err := e.store.DeleteService(ctx, serviceID); err != nil {
		return err
	}
	e.messages.Drop(serviceID)
	e.notifier.DropService(serviceID)
	observability.EntityOps.WithLabelValues("delete_service").Inc()
	e.publish(ctx, events.ServiceDeleted, serviceID, entityChange{ID: serviceID})
	return nil
}

func applyProfile(u *models.User, in ProfileUpdate) error {
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return fmt.Errorf("name cannot be empty: %w", apperrors.ErrInvalidArgument)
		}
		u.Name = name
	}
	if in.Phone != nil {
		u.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.Department != nil {
		u.Department = strings.TrimSpace(*in.Department)
	}
	return nil
}

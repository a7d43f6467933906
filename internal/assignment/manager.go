package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/models"
	"github.com/example/shuttle-roster/internal/storage"
)

// Manager owns the User<->Service membership relation and the single
// Service->Driver relation. It performs no authorization.
type Manager struct {
	Store storage.EntityStore
	Now   func() time.Time
}

func NewManager(store storage.EntityStore) *Manager {
	return &Manager{Store: store, Now: time.Now}
}

func (m *Manager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

// SetDriver replaces the driver of serviceID. A nil driverID clears it.
// Setting the current driver again leaves the service unchanged.
func (m *Manager) SetDriver(ctx context.Context, serviceID string, driverID *string) (models.Service, error) {
	if _, err := m.Store.GetService(ctx, serviceID); err != nil {
		return models.Service{}, err
	}
	if driverID != nil {
		d, err := m.Store.GetUser(ctx, *driverID)
		if err != nil {
			return models.Service{}, err
		}
		if d.Role != models.RoleDriver {
			return models.Service{}, fmt.Errorf("user %s has role %s: %w", d.ID, d.Role, apperrors.ErrInvalidRole)
		}
	}
	return m.Store.SetServiceDriver(ctx, serviceID, driverID, m.now())
}

// AssignMember adds userID to serviceID. Re-assigning is a no-op that keeps
// the original assignment time.
func (m *Manager) AssignMember(ctx context.Context, serviceID, userID string) error {
	if _, err := m.Store.GetService(ctx, serviceID); err != nil {
		return err
	}
	if _, err := m.Store.GetUser(ctx, userID); err != nil {
		return err
	}
	return m.Store.AddMember(ctx, serviceID, userID, m.now())
}

// RemoveMember never fails for a pair that is not related.
func (m *Manager) RemoveMember(ctx context.Context, serviceID, userID string) error {
	return m.Store.RemoveMember(ctx, serviceID, userID)
}

// MembersOf lists the members of serviceID in assignment order. The driver
// is not included unless also assigned as a member.
func (m *Manager) MembersOf(ctx context.Context, serviceID string) ([]models.User, error) {
	users, err := m.Store.ListMembers(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if users == nil {
		users = []models.User{}
	}
	return users, nil
}

// ServicesOf lists the member services of userID in assignment order,
// followed by the services userID drives that are not already listed.
func (m *Manager) ServicesOf(ctx context.Context, userID string) ([]models.Service, error) {
	member, err := m.Store.ListMemberServices(ctx, userID)
	if err != nil {
		return nil, err
	}
	driven, err := m.Store.ListDrivenServices(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Service, 0, len(member)+len(driven))
	seen := make(map[string]bool, len(member))
	for _, s := range member {
		seen[s.ID] = true
		out = append(out, s)
	}
	for _, s := range driven {
		if !seen[s.ID] {
			out = append(out, s)
		}
	}
	return out, nil
}

// DrivenServices lists the services whose driver is userID.
func (m *Manager) DrivenServices(ctx context.Context, userID string) ([]models.Service, error) {
	return m.Store.ListDrivenServices(ctx, userID)
}

// HomeService is the first service of ServicesOf. ok is false when the user
// belongs to no service.
//
// TODO: multi-service riders always get their oldest assignment; confirm with
// operations whether a rider should be able to pick the home service.
func (m *Manager) HomeService(ctx context.Context, userID string) (models.Service, bool, error) {
	services, err := m.ServicesOf(ctx, userID)
	if err != nil {
		return models.Service{}, false, err
	}
	if len(services) == 0 {
		return models.Service{}, false, nil
	}
	return services[0], true, nil
}

// IsMember reports whether userID is the driver of serviceID or one of its
// members. Unknown services are reported as not-member.
func (m *Manager) IsMember(ctx context.Context, userID, serviceID string) (bool, error) {
	s, err := m.Store.GetService(ctx, serviceID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if s.HasDriver(userID) {
		return true, nil
	}
	return m.Store.IsMember(ctx, serviceID, userID)
}

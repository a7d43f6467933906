package storage

import (
	"context"
	"time"

	"github.com/example/shuttle-roster/internal/models"
)

// EntityStore is the durable side of the roster: users, services, the
// membership and driver relations, and attendance rows.
//
// Lookups of unknown ids return an error wrapping apperrors.ErrNotFound.
// Mutations keyed by a natural key (membership pair, attendance triple) are
// idempotent.
type EntityStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	// UpdateUser overwrites the profile fields, role and password hash of an
	// existing user. A user that stops being a DRIVER loses every driver slot
	// in the same step.
	UpdateUser(ctx context.Context, u models.User) error
	// DeleteUser removes the user with its memberships, driver slots and
	// attendance rows.
	DeleteUser(ctx context.Context, id string) error
	SetUserPeriodStatus(ctx context.Context, userID string, period models.Period, status models.AttendanceStatus, at time.Time) error

	CreateService(ctx context.Context, s *models.Service) error
	GetService(ctx context.Context, id string) (models.Service, error)
	ListServices(ctx context.Context) ([]models.Service, error)
	// UpdateService overwrites name, plate and route. The driver is changed
	// through SetServiceDriver only.
	UpdateService(ctx context.Context, s models.Service) error
	// DeleteService removes the service with its memberships.
	DeleteService(ctx context.Context, id string) error
	// SetServiceDriver replaces the driver of a service in one step. A non-nil
	// driverID must reference a user with role DRIVER.
	SetServiceDriver(ctx context.Context, serviceID string, driverID *string, at time.Time) (models.Service, error)
	// ListDrivenServices returns the services driven by userID, oldest
	// assignment first.
	ListDrivenServices(ctx context.Context, userID string) ([]models.Service, error)

	AddMember(ctx context.Context, serviceID, userID string, at time.Time) error
	RemoveMember(ctx context.Context, serviceID, userID string) error
	IsMember(ctx context.Context, serviceID, userID string) (bool, error)
	// ListMembers and ListMemberServices return rows in assignment order.
	// Assignments with equal timestamps keep the order they were made in.
	ListMembers(ctx context.Context, serviceID string) ([]models.User, error)
	ListMemberServices(ctx context.Context, userID string) ([]models.Service, error)

	UpsertAttendance(ctx context.Context, a models.Attendance) (models.Attendance, error)
	ListAttendance(ctx context.Context, userIDs []string, date models.Date, period models.Period) ([]models.Attendance, error)

	Ping(ctx context.Context) error
	Close() error
}

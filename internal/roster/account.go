package roster

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/identity"
	"github.com/example/shuttle-roster/internal/models"
)

const minPasswordLength = 8

// NewUser is the input of Register and CreateUser.
type NewUser struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Role       string `json:"role,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Department string `json:"department,omitempty"`
}

type NewService struct {
	Name  string `json:"name"`
	Plate string `json:"plate"`
	Route string `json:"route,omitempty"`
}

// Session is returned by Register and Login.
type Session struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Profile is the caller's own view of themselves.
type Profile struct {
	User     models.User      `json:"user"`
	Services []models.Service `json:"services"`
}

// Register creates a RIDER account and signs it in. Self-registration never
// grants another role.
func (e *Engine) Register(ctx context.Context, in NewUser) (Session, error) {
	in.Role = string(models.RoleRider)
	u, err := e.createUser(ctx, in)
	if err != nil {
		return Session{}, err
	}
	return e.session(u)
}

// Login checks an e-mail and password pair. Every failure is reported as
// Unauthenticated so that callers cannot learn which e-mails exist.
func (e *Engine) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := e.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, apperrors.ErrNotFound) {
		return Session{}, fmt.Errorf("login: %w", apperrors.ErrUnauthenticated)
	}
	if err != nil {
		return Session{}, err
	}
	if !identity.CheckPassword(u.PasswordHash, password) {
		return Session{}, fmt.Errorf("login: %w", apperrors.ErrUnauthenticated)
	}
	return e.session(u)
}

func (e *Engine) Me(ctx context.Context, p identity.Principal) (Profile, error) {
	u, err := e.store.GetUser(ctx, p.ID)
	if err != nil {
		return Profile{}, err
	}
	services, err := e.assign.ServicesOf(ctx, p.ID)
	if err != nil {
		return Profile{}, err
	}
	if services == nil {
		services = []models.Service{}
	}
	return Profile{User: u, Services: services}, nil
}

func (e *Engine) CreateUser(ctx context.Context, p identity.Principal, in NewUser) (models.User, error) {
	if err := e.requireRole(p, "create_user", models.RoleAdmin); err != nil {
		return models.User{}, err
	}
	return e.createUser(ctx, in)
}

func (e *Engine) CreateService(ctx context.Context, p identity.Principal, in NewService) (models.Service, error) {
	if err := e.requireRole(p, "create_service", models.RoleAdmin); err != nil {
		return models.Service{}, err
	}
	s := models.Service{
		Name:  strings.TrimSpace(in.Name),
		Plate: strings.TrimSpace(in.Plate),
		Route: strings.TrimSpace(in.Route),
	}
	if s.Name == "" || s.Plate == "" {
		return models.Service{}, fmt.Errorf("service name and plate are required: %w", apperrors.ErrInvalidArgument)
	}
	if err := e.store.CreateService(ctx, &s); err != nil {
		return models.Service{}, err
	}
	return s, nil
}

// GetService is open to admins and members of the service.
func (e *Engine) GetService(ctx context.Context, p identity.Principal, serviceID string) (models.Service, error) {
	if p.Role != models.RoleAdmin {
		if err := e.requireMember(ctx, p, serviceID, "get_service"); err != nil {
			return models.Service{}, err
		}
	}
	return e.store.GetService(ctx, serviceID)
}

func (e *Engine) createUser(ctx context.Context, in NewUser) (models.User, error) {
	role, err := models.ParseRole(in.Role)
	if err != nil {
		return models.User{}, fmt.Errorf("%v: %w", err, apperrors.ErrInvalidRole)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.User{}, fmt.Errorf("name is required: %w", apperrors.ErrInvalidArgument)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(in.Email))
	if err != nil {
		return models.User{}, fmt.Errorf("invalid email: %w", apperrors.ErrInvalidArgument)
	}
	if len(in.Password) < minPasswordLength {
		return models.User{}, fmt.Errorf("password shorter than %d characters: %w", minPasswordLength, apperrors.ErrInvalidArgument)
	}
	hash, err := identity.HashPassword(in.Password)
	if err != nil {
		return models.User{}, err
	}
	u := models.User{
		Name:         name,
		Email:        addr.Address,
		Role:         role,
		Phone:        strings.TrimSpace(in.Phone),
		Department:   strings.TrimSpace(in.Department),
		PasswordHash: hash,
	}
	if err := e.store.CreateUser(ctx, &u); err != nil {
		return models.User{}, err
	}
	return u, nil
}

func (e *Engine) session(u models.User) (Session, error) {
	tok, err := e.creds.Issue(u.ID, u.Role)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Token: tok, User: u}, nil
}

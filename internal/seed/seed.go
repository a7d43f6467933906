// Package seed loads a YAML roster fixture into the entity store. It is used
// for local runs and demos; re-applying the same file is harmless.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/assignment"
	"github.com/example/shuttle-roster/internal/identity"
	"github.com/example/shuttle-roster/internal/models"
	"github.com/example/shuttle-roster/internal/storage"
)

type Fixture struct {
	Users    []User    `yaml:"users"`
	Services []Service `yaml:"services"`
}

type User struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Email      string `yaml:"email"`
	Role       string `yaml:"role"`
	Password   string `yaml:"password"`
	Phone      string `yaml:"phone"`
	Department string `yaml:"department"`
}

type Service struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Plate   string   `yaml:"plate"`
	Route   string   `yaml:"route"`
	Driver  string   `yaml:"driver"`
	Members []string `yaml:"members"`
}

// Load reads and validates a fixture file.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks that ids are present and unique and that every reference
// points at a declared user.
func (f *Fixture) Validate() error {
	var errs []error
	users := make(map[string]models.Role, len(f.Users))
	for i, u := range f.Users {
		if u.ID == "" || u.Email == "" {
			errs = append(errs, fmt.Errorf("users[%d]: id and email are required", i))
			continue
		}
		if _, dup := users[u.ID]; dup {
			errs = append(errs, fmt.Errorf("user %q declared twice", u.ID))
		}
		role, err := models.ParseRole(u.Role)
		if err != nil {
			errs = append(errs, fmt.Errorf("user %q: %w", u.ID, err))
		}
		users[u.ID] = role
	}
	services := make(map[string]bool, len(f.Services))
	for i, s := range f.Services {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("services[%d]: id is required", i))
			continue
		}
		if services[s.ID] {
			errs = append(errs, fmt.Errorf("service %q declared twice", s.ID))
		}
		services[s.ID] = true
		if s.Driver != "" {
			role, ok := users[s.Driver]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("service %q: unknown driver %q", s.ID, s.Driver))
			case role != models.RoleDriver:
				errs = append(errs, fmt.Errorf("service %q: driver %q has role %s", s.ID, s.Driver, role))
			}
		}
		for _, m := range s.Members {
			if _, ok := users[m]; !ok {
				errs = append(errs, fmt.Errorf("service %q: unknown member %q", s.ID, m))
			}
		}
	}
	return errors.Join(errs...)
}

// Apply creates missing users and services, then sets drivers and
// memberships through the assignment manager. Existing rows are left as they
// are.
func Apply(ctx context.Context, store storage.EntityStore, f *Fixture) error {
	for _, fu := range f.Users {
		if _, err := store.GetUser(ctx, fu.ID); err == nil {
			continue
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		role, _ := models.ParseRole(fu.Role)
		u := models.User{
			ID:         fu.ID,
			Name:       fu.Name,
			Email:      fu.Email,
			Role:       role,
			Phone:      fu.Phone,
			Department: fu.Department,
		}
		if fu.Password != "" {
			hash, err := identity.HashPassword(fu.Password)
			if err != nil {
				return fmt.Errorf("hash password for %s: %w", fu.ID, err)
			}
			u.PasswordHash = hash
		}
		if err := store.CreateUser(ctx, &u); err != nil {
			return fmt.Errorf("seed user %s: %w", fu.ID, err)
		}
	}

	mgr := assignment.NewManager(store)
	for _, fs := range f.Services {
		if _, err := store.GetService(ctx, fs.ID); errors.Is(err, apperrors.ErrNotFound) {
			s := models.Service{ID: fs.ID, Name: fs.Name, Plate: fs.Plate, Route: fs.Route}
			if err := store.CreateService(ctx, &s); err != nil {
				return fmt.Errorf("seed service %s: %w", fs.ID, err)
			}
		} else if err != nil {
			return err
		}
		if fs.Driver != "" {
			driver := fs.Driver
			if _, err := mgr.SetDriver(ctx, fs.ID, &driver); err != nil {
				return fmt.Errorf("seed driver of %s: %w", fs.ID, err)
			}
		}
		for _, m := range fs.Members {
			if err := mgr.AssignMember(ctx, fs.ID, m); err != nil {
				return fmt.Errorf("seed member %s of %s: %w", m, fs.ID, err)
			}
		}
	}
	return nil
}

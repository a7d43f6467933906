package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/models"
)

type attendanceKey struct {
	userID string
	date   models.Date
	period models.Period
}

// assignment stamps a membership or driver slot. seq breaks ties between
// assignments made within the same clock tick.
type assignment struct {
	at  time.Time
	seq uint64
}

func (a assignment) before(b assignment) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.seq < b.seq
}

// MemoryStore keeps every entity in process. It backs tests and local runs
// without PG_DSN; its contents are lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	seq         uint64
	users       map[string]models.User
	emails      map[string]string // lower(email) -> user id
	services    map[string]models.Service
	driverSince map[string]assignment
	members     map[string]map[string]assignment // service id -> user id
	attendance  map[attendanceKey]models.Attendance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]models.User),
		emails:      make(map[string]string),
		services:    make(map[string]models.Service),
		driverSince: make(map[string]assignment),
		members:     make(map[string]map[string]assignment),
		attendance:  make(map[attendanceKey]models.Attendance),
	}
}

func (m *MemoryStore) stampLocked(at time.Time) assignment {
	m.seq++
	return assignment{at: at, seq: m.seq}
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, taken := m.emails[email]; taken {
		return fmt.Errorf("email %s: %w", u.Email, apperrors.ErrConflict)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, taken := m.users[u.ID]; taken {
		return fmt.Errorf("user %s: %w", u.ID, apperrors.ErrConflict)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.users[u.ID] = *u
	m.emails[email] = u.ID
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", id, apperrors.ErrNotFound)
	}
	return u, nil
}

func (m *MemoryStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[strings.ToLower(email)]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", email, apperrors.ErrNotFound)
	}
	return m.users[id], nil
}

// ListUsers orders by creation time, then id.
func (m *MemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpdateUser(ctx context.Context, u models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.users[u.ID]
	if !ok {
		return fmt.Errorf("user %s: %w", u.ID, apperrors.ErrNotFound)
	}
	oldEmail, newEmail := strings.ToLower(prev.Email), strings.ToLower(u.Email)
	if newEmail != oldEmail {
		if _, taken := m.emails[newEmail]; taken {
			return fmt.Errorf("email %s: %w", u.Email, apperrors.ErrConflict)
		}
		delete(m.emails, oldEmail)
		m.emails[newEmail] = u.ID
	}
	prev.Name, prev.Email, prev.Role = u.Name, u.Email, u.Role
	prev.Phone, prev.Department, prev.PasswordHash = u.Phone, u.Department, u.PasswordHash
	m.users[u.ID] = prev
	if prev.Role != models.RoleDriver {
		m.clearDriverLocked(u.ID)
	}
	return nil
}

func (m *MemoryStore) clearDriverLocked(userID string) {
	for id, s := range m.services {
		if s.HasDriver(userID) {
			s.DriverID = nil
			m.services[id] = s
			delete(m.driverSince, id)
		}
	}
}

func (m *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, apperrors.ErrNotFound)
	}
	m.clearDriverLocked(id)
	for _, set := range m.members {
		delete(set, id)
	}
	for k := range m.attendance {
		if k.userID == id {
			delete(m.attendance, k)
		}
	}
	delete(m.emails, strings.ToLower(u.Email))
	delete(m.users, id)
	return nil
}

func (m *MemoryStore) SetUserPeriodStatus(ctx context.Context, userID string, period models.Period, status models.AttendanceStatus, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, apperrors.ErrNotFound)
	}
	st, ts := status, at
	switch period {
	case models.PeriodMorning:
		u.MorningStatus, u.MorningStatusUpdatedAt = &st, &ts
	case models.PeriodEvening:
		u.EveningStatus, u.EveningStatusUpdatedAt = &st, &ts
	}
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) CreateService(ctx context.Context, s *models.Service) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if _, taken := m.services[s.ID]; taken {
		return fmt.Errorf("service %s: %w", s.ID, apperrors.ErrConflict)
	}
	if s.DriverID != nil {
		if err := m.checkDriverLocked(*s.DriverID); err != nil {
			return err
		}
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.services[s.ID] = *s
	if s.DriverID != nil {
		m.driverSince[s.ID] = m.stampLocked(s.CreatedAt)
	}
	return nil
}

func (m *MemoryStore) GetService(ctx context.Context, id string) (models.Service, error) {
	if err := ctx.Err(); err != nil {
		return models.Service{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return models.Service{}, fmt.Errorf("service %s: %w", id, apperrors.ErrNotFound)
	}
	return s, nil
}

// ListServices orders by creation time, then id.
func (m *MemoryStore) ListServices(ctx context.Context) ([]models.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Service, 0, len(m.services))
	for _, s := range m.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) UpdateService(ctx context.Context, s models.Service) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.services[s.ID]
	if !ok {
		return fmt.Errorf("service %s: %w", s.ID, apperrors.ErrNotFound)
	}
	prev.Name, prev.Plate, prev.Route = s.Name, s.Plate, s.Route
	m.services[s.ID] = prev
	return nil
}

func (m *MemoryStore) DeleteService(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[id]; !ok {
		return fmt.Errorf("service %s: %w", id, apperrors.ErrNotFound)
	}
	delete(m.services, id)
	delete(m.driverSince, id)
	delete(m.members, id)
	return nil
}

func (m *MemoryStore) checkDriverLocked(driverID string) error {
	d, ok := m.users[driverID]
	if !ok {
		return fmt.Errorf("driver %s: %w", driverID, apperrors.ErrNotFound)
	}
	if d.Role != models.RoleDriver {
		return fmt.Errorf("user %s has role %s: %w", driverID, d.Role, apperrors.ErrInvalidRole)
	}
	return nil
}

func (m *MemoryStore) SetServiceDriver(ctx context.Context, serviceID string, driverID *string, at time.Time) (models.Service, error) {
	if err := ctx.Err(); err != nil {
		return models.Service{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[serviceID]
	if !ok {
		return models.Service{}, fmt.Errorf("service %s: %w", serviceID, apperrors.ErrNotFound)
	}
	if driverID == nil {
		s.DriverID = nil
		delete(m.driverSince, serviceID)
		m.services[serviceID] = s
		return s, nil
	}
	if err := m.checkDriverLocked(*driverID); err != nil {
		return models.Service{}, err
	}
	if s.HasDriver(*driverID) {
		return s, nil
	}
	id := *driverID
	s.DriverID = &id
	m.driverSince[serviceID] = m.stampLocked(at)
	m.services[serviceID] = s
	return s, nil
}

func (m *MemoryStore) ListDrivenServices(ctx context.Context, userID string) ([]models.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	since := make(map[string]assignment)
	for id, s := range m.services {
		if s.HasDriver(userID) {
			since[id] = m.driverSince[id]
		}
	}
	out := make([]models.Service, 0, len(since))
	for _, id := range sortByAssignment(since) {
		out = append(out, m.services[id])
	}
	return out, nil
}

func (m *MemoryStore) AddMember(ctx context.Context, serviceID, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[serviceID]; !ok {
		return fmt.Errorf("service %s: %w", serviceID, apperrors.ErrNotFound)
	}
	if _, ok := m.users[userID]; !ok {
		return fmt.Errorf("user %s: %w", userID, apperrors.ErrNotFound)
	}
	set, ok := m.members[serviceID]
	if !ok {
		set = make(map[string]assignment)
		m.members[serviceID] = set
	}
	if _, already := set[userID]; !already {
		set[userID] = m.stampLocked(at)
	}
	return nil
}

func (m *MemoryStore) RemoveMember(ctx context.Context, serviceID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.members[serviceID]; ok {
		delete(set, userID)
	}
	return nil
}

func (m *MemoryStore) IsMember(ctx context.Context, serviceID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.members[serviceID][userID]
	return ok, nil
}

func (m *MemoryStore) ListMembers(ctx context.Context, serviceID string) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.services[serviceID]; !ok {
		return nil, fmt.Errorf("service %s: %w", serviceID, apperrors.ErrNotFound)
	}
	ids := sortByAssignment(m.members[serviceID])
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.users[id])
	}
	return out, nil
}

func (m *MemoryStore) ListMemberServices(ctx context.Context, userID string) ([]models.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.users[userID]; !ok {
		return nil, fmt.Errorf("user %s: %w", userID, apperrors.ErrNotFound)
	}
	since := make(map[string]assignment)
	for sid, set := range m.members {
		if a, ok := set[userID]; ok {
			since[sid] = a
		}
	}
	ids := sortByAssignment(since)
	out := make([]models.Service, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.services[id])
	}
	return out, nil
}

// sortByAssignment returns the keys of at in assignment order.
func sortByAssignment(at map[string]assignment) []string {
	ids := make([]string, 0, len(at))
	for id := range at {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return at[ids[i]].before(at[ids[j]]) })
	return ids
}

func (m *MemoryStore) UpsertAttendance(ctx context.Context, a models.Attendance) (models.Attendance, error) {
	if err := ctx.Err(); err != nil {
		return models.Attendance{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[a.UserID]; !ok {
		return models.Attendance{}, fmt.Errorf("user %s: %w", a.UserID, apperrors.ErrNotFound)
	}
	k := attendanceKey{a.UserID, a.Date, a.Period}
	if prev, ok := m.attendance[k]; ok {
		a.ID = prev.ID
	} else if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.attendance[k] = a
	return a, nil
}

func (m *MemoryStore) ListAttendance(ctx context.Context, userIDs []string, date models.Date, period models.Period) ([]models.Attendance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Attendance, 0, len(userIDs))
	for _, id := range userIDs {
		if a, ok := m.attendance[attendanceKey{id, date, period}]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close() error { return nil }

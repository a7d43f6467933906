package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/shuttle-roster/internal/apperrors"
	"github.com/example/shuttle-roster/internal/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies the embedded migrations in file name order. Every
// statement is written to be re-runnable.
func (p *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrationFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return names, nil
}

// runInTx commits when fn returns nil and rolls back otherwise.
func (p *PostgresStore) runInTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func pqCode(err error) string {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	return ""
}

var userFields = []string{
	"id", "name", "email", "role", "phone", "department", "password_hash",
	"morning_status", "evening_status", "morning_status_updated_at", "evening_status_updated_at", "created_at",
}

// userColumns renders the user select list, qualified by alias when set.
func userColumns(alias string) string {
	cols := make([]string, len(userFields))
	for i, f := range userFields {
		if alias != "" {
			f = alias + "." + f
		}
		cols[i] = f
	}
	return strings.Join(cols, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var (
		u              models.User
		role           string
		morning, eve   sql.NullString
		morningAt, eAt sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &u.Phone, &u.Department, &u.PasswordHash,
		&morning, &eve, &morningAt, &eAt, &u.CreatedAt); err != nil {
		return models.User{}, err
	}
	u.Role = models.Role(role)
	if morning.Valid {
		st := models.AttendanceStatus(morning.String)
		u.MorningStatus = &st
	}
	if eve.Valid {
		st := models.AttendanceStatus(eve.String)
		u.EveningStatus = &st
	}
	if morningAt.Valid {
		t := morningAt.Time
		u.MorningStatusUpdatedAt = &t
	}
	if eAt.Valid {
		t := eAt.Time
		u.EveningStatusUpdatedAt = &t
	}
	return u, nil
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO users(id, name, email, role, phone, department, password_hash, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.ID, u.Name, u.Email, string(u.Role), u.Phone, u.Department, u.PasswordHash, u.CreatedAt)
	if pqCode(err) == pqUniqueViolation {
		return fmt.Errorf("user %s: %w", u.Email, apperrors.ErrConflict)
	}
	return err
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns("")+` FROM users WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %s: %w", id, apperrors.ErrNotFound)
	}
	return u, err
}

func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	u, err := scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns("")+` FROM users WHERE lower(email)=lower($1)`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %s: %w", email, apperrors.ErrNotFound)
	}
	return u, err
}

func (p *PostgresStore) SetUserPeriodStatus(ctx context.Context, userID string, period models.Period, status models.AttendanceStatus, at time.Time) error {
	var q string
	switch period {
	case models.PeriodMorning:
		q = `UPDATE users SET morning_status=$2, morning_status_updated_at=$3 WHERE id=$1`
	case models.PeriodEvening:
		q = `UPDATE users SET evening_status=$2, evening_status_updated_at=$3 WHERE id=$1`
	default:
		return fmt.Errorf("period %q: %w", period, apperrors.ErrInvalidArgument)
	}
	res, err := p.db.ExecContext(ctx, q, userID, string(status), at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s: %w", userID, apperrors.ErrNotFound)
	}
	return nil
}

// ListUsers orders by creation time, then id.
func (p *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+userColumns("")+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpdateUser(ctx context.Context, u models.User) error {
	return p.runInTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE users SET name=$2, email=$3, role=$4, phone=$5, department=$6, password_hash=$7
			WHERE id=$1`, u.ID, u.Name, u.Email, string(u.Role), u.Phone, u.Department, u.PasswordHash)
		if pqCode(err) == pqUniqueViolation {
			return fmt.Errorf("email %s: %w", u.Email, apperrors.ErrConflict)
		}
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("user %s: %w", u.ID, apperrors.ErrNotFound)
		}
		if u.Role == models.RoleDriver {
			return nil
		}
		return clearDriver(ctx, tx, u.ID)
	})
}

func clearDriver(ctx context.Context, tx *sql.Tx, userID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE services SET driver_id=NULL, driver_assigned_at=NULL, driver_seq=NULL
		WHERE driver_id=$1`, userID)
	return err
}

// DeleteUser relies on ON DELETE CASCADE for memberships and attendance.
func (p *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	return p.runInTx(ctx, func(tx *sql.Tx) error {
		if err := clearDriver(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("user %s: %w", id, apperrors.ErrNotFound)
		}
		return nil
	})
}

const serviceColumns = `s.id, s.name, s.plate, s.route, s.driver_id, s.created_at`

func scanService(row rowScanner) (models.Service, error) {
	var (
		s      models.Service
		driver sql.NullString
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Plate, &s.Route, &driver, &s.CreatedAt); err != nil {
		return models.Service{}, err
	}
	if driver.Valid {
		id := driver.String
		s.DriverID = &id
	}
	return s, nil
}

func collectServices(rows *sql.Rows) ([]models.Service, error) {
	defer rows.Close()
	var out []models.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// lockDriver verifies inside tx that driverID is a DRIVER and holds a share
// lock on the row until the transaction ends.
func lockDriver(ctx context.Context, tx *sql.Tx, driverID string) error {
	var role string
	err := tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id=$1 FOR SHARE`, driverID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("driver %s: %w", driverID, apperrors.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if models.Role(role) != models.RoleDriver {
		return fmt.Errorf("user %s has role %s: %w", driverID, role, apperrors.ErrInvalidRole)
	}
	return nil
}

func (p *PostgresStore) CreateService(ctx context.Context, s *models.Service) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	return p.runInTx(ctx, func(tx *sql.Tx) error {
		var driver any
		var since any
		if s.DriverID != nil {
			if err := lockDriver(ctx, tx, *s.DriverID); err != nil {
				return err
			}
			driver, since = *s.DriverID, s.CreatedAt
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO services(id, name, plate, route, driver_id, driver_assigned_at, driver_seq, created_at)
			VALUES($1,$2,$3,$4,$5,$6,
				CASE WHEN $5::text IS NULL THEN NULL ELSE nextval('driver_assignment_seq') END, $7)`,
			s.ID, s.Name, s.Plate, s.Route, driver, since, s.CreatedAt)
		if pqCode(err) == pqUniqueViolation {
			return fmt.Errorf("service %s: %w", s.ID, apperrors.ErrConflict)
		}
		return err
	})
}

func (p *PostgresStore) GetService(ctx context.Context, id string) (models.Service, error) {
	s, err := scanService(p.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services s WHERE s.id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Service{}, fmt.Errorf("service %s: %w", id, apperrors.ErrNotFound)
	}
	return s, err
}

// ListServices orders by creation time, then id.
func (p *PostgresStore) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services s ORDER BY s.created_at, s.id`)
	if err != nil {
		return nil, err
	}
	return collectServices(rows)
}

func (p *PostgresStore) UpdateService(ctx context.Context, s models.Service) error {
	res, err := p.db.ExecContext(ctx, `UPDATE services SET name=$2, plate=$3, route=$4 WHERE id=$1`,
		s.ID, s.Name, s.Plate, s.Route)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("service %s: %w", s.ID, apperrors.ErrNotFound)
	}
	return nil
}

// DeleteService relies on ON DELETE CASCADE for memberships.
func (p *PostgresStore) DeleteService(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM services WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("service %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) SetServiceDriver(ctx context.Context, serviceID string, driverID *string, at time.Time) (models.Service, error) {
	var out models.Service
	err := p.runInTx(ctx, func(tx *sql.Tx) error {
		if driverID != nil {
			if err := lockDriver(ctx, tx, *driverID); err != nil {
				return err
			}
		}
		var driver any
		if driverID != nil {
			driver = *driverID
		}
		// keep driver_assigned_at when the same driver is set again
		s, err := scanService(tx.QueryRowContext(ctx, `UPDATE services s SET
				driver_assigned_at = CASE
					WHEN $2::text IS NULL THEN NULL
					WHEN s.driver_id IS NOT DISTINCT FROM $2::text THEN s.driver_assigned_at
					ELSE $3 END,
				driver_seq = CASE
					WHEN $2::text IS NULL THEN NULL
					WHEN s.driver_id IS NOT DISTINCT FROM $2::text THEN s.driver_seq
					ELSE nextval('driver_assignment_seq') END,
				driver_id = $2
			WHERE s.id=$1
			RETURNING `+serviceColumns, serviceID, driver, at))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("service %s: %w", serviceID, apperrors.ErrNotFound)
		}
		out = s
		return err
	})
	return out, err
}

func (p *PostgresStore) ListDrivenServices(ctx context.Context, userID string) ([]models.Service, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services s
		WHERE s.driver_id=$1 ORDER BY s.driver_assigned_at, s.driver_seq, s.id`, userID)
	if err != nil {
		return nil, err
	}
	return collectServices(rows)
}

func (p *PostgresStore) AddMember(ctx context.Context, serviceID, userID string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO service_members(service_id, user_id, assigned_at)
		VALUES($1,$2,$3) ON CONFLICT (service_id, user_id) DO NOTHING`, serviceID, userID, at)
	if pqCode(err) == pqForeignKeyViolation {
		return fmt.Errorf("service %s or user %s: %w", serviceID, userID, apperrors.ErrNotFound)
	}
	return err
}

func (p *PostgresStore) RemoveMember(ctx context.Context, serviceID, userID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM service_members WHERE service_id=$1 AND user_id=$2`, serviceID, userID)
	return err
}

func (p *PostgresStore) IsMember(ctx context.Context, serviceID, userID string) (bool, error) {
	var ok bool
	err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM service_members WHERE service_id=$1 AND user_id=$2)`,
		serviceID, userID).Scan(&ok)
	return ok, err
}

func (p *PostgresStore) ListMembers(ctx context.Context, serviceID string) ([]models.User, error) {
	if _, err := p.GetService(ctx, serviceID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+userColumns("u")+` FROM service_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.service_id=$1 ORDER BY m.assigned_at, m.seq`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListMemberServices(ctx context.Context, userID string) ([]models.Service, error) {
	if _, err := p.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM service_members m
		JOIN services s ON s.id = m.service_id
		WHERE m.user_id=$1 ORDER BY m.assigned_at, m.seq`, userID)
	if err != nil {
		return nil, err
	}
	return collectServices(rows)
}

func (p *PostgresStore) UpsertAttendance(ctx context.Context, a models.Attendance) (models.Attendance, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	var out models.Attendance
	var day time.Time
	err := p.db.QueryRowContext(ctx, `INSERT INTO attendance(id, user_id, day, period, status, updated_at)
		VALUES($1,$2,$3::date,$4,$5,$6)
		ON CONFLICT (user_id, day, period) DO UPDATE SET status=EXCLUDED.status, updated_at=EXCLUDED.updated_at
		RETURNING id, user_id, day, period, status, updated_at`,
		a.ID, a.UserID, string(a.Date), string(a.Period), string(a.Status), a.UpdatedAt).
		Scan(&out.ID, &out.UserID, &day, &out.Period, &out.Status, &out.UpdatedAt)
	if pqCode(err) == pqForeignKeyViolation {
		return models.Attendance{}, fmt.Errorf("user %s: %w", a.UserID, apperrors.ErrNotFound)
	}
	if err != nil {
		return models.Attendance{}, err
	}
	out.Date = models.Date(day.Format(models.DateLayout))
	return out, nil
}

func (p *PostgresStore) ListAttendance(ctx context.Context, userIDs []string, date models.Date, period models.Period) ([]models.Attendance, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, user_id, day, period, status, updated_at FROM attendance
		WHERE user_id = ANY($1) AND day=$2::date AND period=$3`,
		pq.Array(userIDs), string(date), string(period))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Attendance
	for rows.Next() {
		var a models.Attendance
		var day time.Time
		if err := rows.Scan(&a.ID, &a.UserID, &day, &a.Period, &a.Status, &a.UpdatedAt); err != nil {
			return nil, err
		}
		a.Date = models.Date(day.Format(models.DateLayout))
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }

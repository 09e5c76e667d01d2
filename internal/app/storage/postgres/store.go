package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/dosetrack/dosetrack/internal/app/domain/injection"
	"github.com/dosetrack/dosetrack/internal/app/domain/user"
	"github.com/dosetrack/dosetrack/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.InjectionStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, storage.ErrNotFound)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- UserStore --------------------------------------------------------------

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, display_name, timezone, medication, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Name, u.DisplayName, u.Timezone, u.Medication, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, fmt.Errorf("user name %q: %w", u.Name, storage.ErrDuplicateName)
		}
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}

	u.Name = existing.Name
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET display_name = $2, timezone = $3, medication = $4, updated_at = $5
		WHERE id = $1
	`, u.ID, u.DisplayName, u.Timezone, u.Medication, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, timezone, medication, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)

	var u user.User
	if err := row.Scan(&u.ID, &u.Name, &u.DisplayName, &u.Timezone, &u.Medication, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return user.User{}, notFound(err, "user "+id)
	}
	return u, nil
}

func (s *Store) GetUserByName(ctx context.Context, name string) (user.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, display_name, timezone, medication, created_at, updated_at
		FROM users
		WHERE lower(name) = lower($1)
	`, name)

	var u user.User
	if err := row.Scan(&u.ID, &u.Name, &u.DisplayName, &u.Timezone, &u.Medication, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return user.User{}, notFound(err, "user "+name)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]user.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, display_name, timezone, medication, created_at, updated_at
		FROM users
		ORDER BY lower(name)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []user.User
	for rows.Next() {
		var u user.User
		if err := rows.Scan(&u.ID, &u.Name, &u.DisplayName, &u.Timezone, &u.Medication, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM users WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// --- InjectionStore ---------------------------------------------------------

func (s *Store) CreateInjection(ctx context.Context, rec injection.Record) (injection.Record, error) {
	if rec.UserID == "" {
		return injection.Record{}, errors.New("user_id required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.TakenAt.IsZero() {
		rec.TakenAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO injections (id, user_id, date, slot, site, dose, notes, taken_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.UserID, rec.Date, rec.Slot, rec.Site, rec.Dose, rec.Notes, rec.TakenAt, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return injection.Record{}, fmt.Errorf("injection %s %s: %w", rec.Date, rec.Slot, storage.ErrDuplicateSlot)
		}
		return injection.Record{}, err
	}
	return rec, nil
}

func (s *Store) UpdateInjection(ctx context.Context, rec injection.Record) (injection.Record, error) {
	existing, err := s.GetInjection(ctx, rec.ID)
	if err != nil {
		return injection.Record{}, err
	}

	rec.UserID = existing.UserID
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE injections
		SET date = $2, slot = $3, site = $4, dose = $5, notes = $6, taken_at = $7, updated_at = $8
		WHERE id = $1
	`, rec.ID, rec.Date, rec.Slot, rec.Site, rec.Dose, rec.Notes, rec.TakenAt, rec.UpdatedAt)
	if err != nil {
		return injection.Record{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return injection.Record{}, fmt.Errorf("injection %s: %w", rec.ID, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) GetInjection(ctx context.Context, id string) (injection.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, slot, site, dose, notes, taken_at, created_at, updated_at
		FROM injections
		WHERE id = $1
	`, id)

	rec, err := scanInjection(row)
	if err != nil {
		return injection.Record{}, notFound(err, "injection "+id)
	}
	return rec, nil
}

func (s *Store) ListInjections(ctx context.Context, userID, from, to string) ([]injection.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, date, slot, site, dose, notes, taken_at, created_at, updated_at
		FROM injections
		WHERE user_id = $1
		  AND ($2 = '' OR date >= $2)
		  AND ($3 = '' OR date <= $3)
		ORDER BY date DESC, slot ASC -- 'evening' sorts before 'morning'
	`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []injection.Record
	for rows.Next() {
		rec, err := scanInjection(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *Store) GetInjectionBySlot(ctx context.Context, userID, date string, slot injection.Slot) (injection.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, date, slot, site, dose, notes, taken_at, created_at, updated_at
		FROM injections
		WHERE user_id = $1 AND date = $2 AND slot = $3
	`, userID, date, slot)

	rec, err := scanInjection(row)
	if err != nil {
		return injection.Record{}, notFound(err, fmt.Sprintf("injection for %s %s %s", userID, date, slot))
	}
	return rec, nil
}

func (s *Store) DeleteInjection(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM injections WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("injection %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteInjectionsForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM injections WHERE user_id = $1
	`, userID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInjection(row rowScanner) (injection.Record, error) {
	var rec injection.Record
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.Date, &rec.Slot, &rec.Site, &rec.Dose, &rec.Notes, &rec.TakenAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return injection.Record{}, err
	}
	return rec, nil
}

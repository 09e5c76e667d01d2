package storage

import (
	"context"
	"errors"

	"github.com/dosetrack/dosetrack/internal/app/domain/injection"
	"github.com/dosetrack/dosetrack/internal/app/domain/user"
)

// ErrNotFound is returned by stores when the requested record does not exist.
// Implementations wrap it so callers can test with errors.Is regardless of
// the backing store.
var ErrNotFound = errors.New("not found")

// ErrDuplicateSlot is returned when an injection already exists for the same
// (user, date, slot) cell, whether caught by a store-level check or by the
// database unique constraint.
var ErrDuplicateSlot = errors.New("injection already logged for this slot")

// ErrDuplicateName is the counterpart for the unique user name index.
var ErrDuplicateName = errors.New("user name already in use")

// UserStore persists user records.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByName(ctx context.Context, name string) (user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// InjectionStore persists injection records.
type InjectionStore interface {
	CreateInjection(ctx context.Context, rec injection.Record) (injection.Record, error)
	UpdateInjection(ctx context.Context, rec injection.Record) (injection.Record, error)
	GetInjection(ctx context.Context, id string) (injection.Record, error)

	// ListInjections returns a user's records newest first. from and to are
	// inclusive civil-date bounds; an empty bound is open.
	ListInjections(ctx context.Context, userID, from, to string) ([]injection.Record, error)

	// GetInjectionBySlot looks up the record for one (user, date, slot) cell.
	GetInjectionBySlot(ctx context.Context, userID, date string, slot injection.Slot) (injection.Record, error)

	DeleteInjection(ctx context.Context, id string) error
	DeleteInjectionsForUser(ctx context.Context, userID string) error
}

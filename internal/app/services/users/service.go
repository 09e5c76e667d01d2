package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dosetrack/dosetrack/internal/app/domain/user"
	"github.com/dosetrack/dosetrack/internal/app/storage"
	"github.com/dosetrack/dosetrack/pkg/logger"
)

// ErrNameInUse is returned when creating a user whose name already exists.
// It is the storage sentinel, so conflicts detected by the unique name index
// satisfy the same errors.Is check.
var ErrNameInUse = storage.ErrDuplicateName

// Service manages the tracked users.
type Service struct {
	store      storage.UserStore
	injections storage.InjectionStore
	log        *logger.Logger
}

// New constructs a user service.
func New(store storage.UserStore, injections storage.InjectionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("users")
	}
	return &Service{
		store:      store,
		injections: injections,
		log:        log,
	}
}

// Create registers a new named user.
func (s *Service) Create(ctx context.Context, name, displayName, timezone, medication string) (user.User, error) {
	name = strings.TrimSpace(name)
	displayName = strings.TrimSpace(displayName)
	timezone = strings.TrimSpace(timezone)

	if name == "" {
		return user.User{}, fmt.Errorf("name is required")
	}
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return user.User{}, fmt.Errorf("timezone %q is not a valid IANA name", timezone)
	}

	if existing, err := s.store.GetUserByName(ctx, name); err == nil {
		return user.User{}, fmt.Errorf("%w: %s", ErrNameInUse, existing.Name)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return user.User{}, err
	}

	u := user.User{
		Name:        name,
		DisplayName: displayName,
		Timezone:    timezone,
		Medication:  strings.TrimSpace(medication),
	}
	u, err := s.store.CreateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", u.ID).
		WithField("name", u.Name).
		Info("user created")
	return u, nil
}

// Update applies modifications to the mutable fields of a user.
func (s *Service) Update(ctx context.Context, id string, displayName, timezone, medication *string) (user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return user.User{}, err
	}

	if displayName != nil {
		u.DisplayName = strings.TrimSpace(*displayName)
	}
	if timezone != nil {
		trimmed := strings.TrimSpace(*timezone)
		if trimmed == "" {
			return user.User{}, fmt.Errorf("timezone cannot be empty")
		}
		if _, err := time.LoadLocation(trimmed); err != nil {
			return user.User{}, fmt.Errorf("timezone %q is not a valid IANA name", trimmed)
		}
		u.Timezone = trimmed
	}
	if medication != nil {
		u.Medication = strings.TrimSpace(*medication)
	}

	u, err = s.store.UpdateUser(ctx, u)
	if err != nil {
		return user.User{}, err
	}
	s.log.WithField("user_id", u.ID).Info("user updated")
	return u, nil
}

// Get retrieves a single user by identifier.
func (s *Service) Get(ctx context.Context, id string) (user.User, error) {
	return s.store.GetUser(ctx, id)
}

// List returns all users ordered by name.
func (s *Service) List(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// Delete removes a user together with their injection history.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.GetUser(ctx, id); err != nil {
		return err
	}
	if s.injections != nil {
		if err := s.injections.DeleteInjectionsForUser(ctx, id); err != nil {
			return fmt.Errorf("delete injection history: %w", err)
		}
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.log.WithField("user_id", id).Info("user deleted")
	return nil
}

// Location resolves the user's timezone, falling back to UTC.
func Location(u user.User) *time.Location {
	if u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

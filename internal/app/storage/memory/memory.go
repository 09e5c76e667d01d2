package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dosetrack/dosetrack/internal/app/domain/injection"
	"github.com/dosetrack/dosetrack/internal/app/domain/user"
	"github.com/dosetrack/dosetrack/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	users      map[string]user.User
	injections map[string]injection.Record
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.InjectionStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:     1,
		users:      make(map[string]user.User),
		injections: make(map[string]injection.Record),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, fmt.Errorf("user %s already exists", u.ID)
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}

	u.Name = original.Name
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByName(_ context.Context, name string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Name, name) {
			return u, nil
		}
	}
	return user.User{}, fmt.Errorf("user %q: %w", name, storage.ErrNotFound)
}

func (s *Store) ListUsers(_ context.Context) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0, len(s.users))
	for _, u := range s.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})
	return result, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	delete(s.users, id)
	return nil
}

// InjectionStore implementation -----------------------------------------------

func (s *Store) CreateInjection(_ context.Context, rec injection.Record) (injection.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = s.nextIDLocked()
	} else if _, exists := s.injections[rec.ID]; exists {
		return injection.Record{}, fmt.Errorf("injection %s already exists", rec.ID)
	}

	for _, existing := range s.injections {
		if existing.UserID == rec.UserID && existing.Date == rec.Date && existing.Slot == rec.Slot {
			return injection.Record{}, fmt.Errorf("injection %s %s: %w", rec.Date, rec.Slot, storage.ErrDuplicateSlot)
		}
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.TakenAt.IsZero() {
		rec.TakenAt = now
	}

	s.injections[rec.ID] = rec
	return rec, nil
}

func (s *Store) UpdateInjection(_ context.Context, rec injection.Record) (injection.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.injections[rec.ID]
	if !ok {
		return injection.Record{}, fmt.Errorf("injection %s: %w", rec.ID, storage.ErrNotFound)
	}

	rec.UserID = original.UserID
	rec.CreatedAt = original.CreatedAt
	rec.UpdatedAt = time.Now().UTC()

	s.injections[rec.ID] = rec
	return rec, nil
}

func (s *Store) GetInjection(_ context.Context, id string) (injection.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.injections[id]
	if !ok {
		return injection.Record{}, fmt.Errorf("injection %s: %w", id, storage.ErrNotFound)
	}
	return rec, nil
}

func (s *Store) ListInjections(_ context.Context, userID, from, to string) ([]injection.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []injection.Record
	for _, rec := range s.injections {
		if rec.UserID != userID {
			continue
		}
		if from != "" && rec.Date < from {
			continue
		}
		if to != "" && rec.Date > to {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date > result[j].Date
		}
		return slotRank(result[i].Slot) > slotRank(result[j].Slot)
	})
	return result, nil
}

// slotRank orders slots chronologically within a day.
func slotRank(s injection.Slot) int {
	for i, slot := range injection.Slots {
		if slot == s {
			return i
		}
	}
	return -1
}

func (s *Store) GetInjectionBySlot(_ context.Context, userID, date string, slot injection.Slot) (injection.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.injections {
		if rec.UserID == userID && rec.Date == date && rec.Slot == slot {
			return rec, nil
		}
	}
	return injection.Record{}, fmt.Errorf("injection for %s %s %s: %w", userID, date, slot, storage.ErrNotFound)
}

func (s *Store) DeleteInjection(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.injections[id]; !ok {
		return fmt.Errorf("injection %s: %w", id, storage.ErrNotFound)
	}
	delete(s.injections, id)
	return nil
}

func (s *Store) DeleteInjectionsForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.injections {
		if rec.UserID == userID {
			delete(s.injections, id)
		}
	}
	return nil
}

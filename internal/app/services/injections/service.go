package injections

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dosetrack/dosetrack/internal/app/domain/injection"
	"github.com/dosetrack/dosetrack/internal/app/metrics"
	"github.com/dosetrack/dosetrack/internal/app/storage"
	"github.com/dosetrack/dosetrack/pkg/logger"
)

// ErrDuplicateSlot is returned when a record already exists for the same
// user, date and slot. It is the storage sentinel, so conflicts detected by
// the database constraint satisfy the same errors.Is check.
var ErrDuplicateSlot = storage.ErrDuplicateSlot

// Service manages the injection log.
type Service struct {
	users storage.UserStore
	store storage.InjectionStore
	log   *logger.Logger
}

// New constructs an injection service.
func New(users storage.UserStore, store storage.InjectionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("injections")
	}
	return &Service{
		users: users,
		store: store,
		log:   log,
	}
}

// Record logs an administered injection. At most one record may exist per
// (user, date, slot).
func (s *Service) Record(ctx context.Context, rec injection.Record) (injection.Record, error) {
	rec.UserID = strings.TrimSpace(rec.UserID)
	rec.Date = strings.TrimSpace(rec.Date)
	rec.Site = strings.TrimSpace(rec.Site)
	rec.Dose = strings.TrimSpace(rec.Dose)

	if rec.UserID == "" {
		return injection.Record{}, fmt.Errorf("user_id is required")
	}

	u, err := s.users.GetUser(ctx, rec.UserID)
	if err != nil {
		return injection.Record{}, fmt.Errorf("user validation failed: %w", err)
	}

	if rec.Date == "" {
		loc, _ := time.LoadLocation(u.Timezone)
		if loc == nil {
			loc = time.UTC
		}
		rec.Date = time.Now().In(loc).Format(injection.DateLayout)
	}
	if _, err := time.Parse(injection.DateLayout, rec.Date); err != nil {
		return injection.Record{}, fmt.Errorf("date must be in %s form", injection.DateLayout)
	}
	if !injection.ValidSlot(rec.Slot) {
		return injection.Record{}, fmt.Errorf("slot must be one of %v", injection.Slots)
	}
	if rec.Site != "" && !injection.ValidSite(rec.Site) {
		return injection.Record{}, fmt.Errorf("site must be one of %v", injection.Sites)
	}

	if _, err := s.store.GetInjectionBySlot(ctx, rec.UserID, rec.Date, rec.Slot); err == nil {
		metrics.RecordDuplicateRejected()
		return injection.Record{}, fmt.Errorf("%w: %s %s", ErrDuplicateSlot, rec.Date, rec.Slot)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return injection.Record{}, err
	}

	rec, err = s.store.CreateInjection(ctx, rec)
	if err != nil {
		return injection.Record{}, err
	}
	metrics.RecordInjectionLogged(string(rec.Slot))
	s.log.WithField("injection_id", rec.ID).
		WithField("user_id", rec.UserID).
		WithField("date", rec.Date).
		WithField("slot", rec.Slot).
		Info("injection recorded")
	return rec, nil
}

// Update applies modifications to the mutable fields of a record. Date and
// slot are fixed at recording time; correcting those means deleting and
// re-recording.
func (s *Service) Update(ctx context.Context, id string, site, dose, notes *string, takenAt *time.Time) (injection.Record, error) {
	rec, err := s.store.GetInjection(ctx, id)
	if err != nil {
		return injection.Record{}, err
	}

	if site != nil {
		trimmed := strings.TrimSpace(*site)
		if trimmed != "" && !injection.ValidSite(trimmed) {
			return injection.Record{}, fmt.Errorf("site must be one of %v", injection.Sites)
		}
		rec.Site = trimmed
	}
	if dose != nil {
		rec.Dose = strings.TrimSpace(*dose)
	}
	if notes != nil {
		rec.Notes = *notes
	}
	if takenAt != nil && !takenAt.IsZero() {
		rec.TakenAt = takenAt.UTC()
	}

	rec, err = s.store.UpdateInjection(ctx, rec)
	if err != nil {
		return injection.Record{}, err
	}
	s.log.WithField("injection_id", rec.ID).
		WithField("user_id", rec.UserID).
		Info("injection updated")
	return rec, nil
}

// Get retrieves a single record by identifier.
func (s *Service) Get(ctx context.Context, id string) (injection.Record, error) {
	return s.store.GetInjection(ctx, id)
}

// List returns a user's records newest first, optionally bounded by
// inclusive civil dates.
func (s *Service) List(ctx context.Context, userID, from, to string) ([]injection.Record, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	for _, bound := range []string{from, to} {
		if bound == "" {
			continue
		}
		if _, err := time.Parse(injection.DateLayout, bound); err != nil {
			return nil, fmt.Errorf("date bound must be in %s form", injection.DateLayout)
		}
	}
	return s.store.ListInjections(ctx, userID, from, to)
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteInjection(ctx, id); err != nil {
		return err
	}
	s.log.WithField("injection_id", id).Info("injection deleted")
	return nil
}

// SuggestSite returns the least recently used rotation site for the user,
// looking at the most recent records. Sites never used come first, in
// rotation order.
func (s *Service) SuggestSite(ctx context.Context, userID string) (string, error) {
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return "", err
	}

	recent, err := s.store.ListInjections(ctx, userID, "", "")
	if err != nil {
		return "", err
	}

	lastUsed := make(map[string]int) // site -> recency rank, lower is more recent
	for i, rec := range recent {
		if rec.Site == "" {
			continue
		}
		if _, seen := lastUsed[rec.Site]; !seen {
			lastUsed[rec.Site] = i
		}
	}

	best := ""
	bestRank := -1
	for _, site := range injection.Sites {
		rank, used := lastUsed[site]
		if !used {
			return site, nil
		}
		if rank > bestRank {
			best = site
			bestRank = rank
		}
	}
	return best, nil
}

package reminders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dosetrack/dosetrack/internal/app/domain/injection"
	"github.com/dosetrack/dosetrack/internal/app/domain/user"
	"github.com/dosetrack/dosetrack/internal/app/metrics"
	"github.com/dosetrack/dosetrack/internal/app/services/users"
	"github.com/dosetrack/dosetrack/internal/app/storage"
	"github.com/dosetrack/dosetrack/internal/notify"
	"github.com/dosetrack/dosetrack/pkg/logger"
)

// morningCutoffHour is the local hour after which a missing morning dose is
// considered missed. Evening doses are checked once the day is over.
const morningCutoffHour = 12

// DefaultSchedule is the scan cadence used when none is configured.
const DefaultSchedule = "@every 15m"

// Scheduler periodically scans for missed dose slots. It observes and logs;
// it never writes records.
type Scheduler struct {
	users      storage.UserStore
	injections storage.InjectionStore
	log        *logger.Logger
	schedule   cron.Schedule
	notifier   notify.Notifier
	now        func() time.Time

	mu   sync.Mutex
	seen map[string]bool // user|date|slot already reported

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler builds a scheduler scanning on the given cron spec. Standard
// five-field expressions and descriptors such as "@hourly" and "@every 15m"
// are accepted.
func NewScheduler(userStore storage.UserStore, injections storage.InjectionStore, spec string, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewDefault("reminders")
	}
	if spec == "" {
		spec = DefaultSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse reminder schedule %q: %w", spec, err)
	}

	return &Scheduler{
		users:      userStore,
		injections: injections,
		log:        log,
		schedule:   schedule,
		now:        time.Now,
		seen:       make(map[string]bool),
	}, nil
}

// SetNotifier attaches a receiver for missed-dose events. Call before Start.
func (s *Scheduler) SetNotifier(n notify.Notifier) {
	s.notifier = n
}

// Name implements system.Service.
func (s *Scheduler) Name() string { return "reminders" }

// Start begins the background scan loop.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(runCtx)
	return nil
}

// Stop terminates the scan loop.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := s.Scan(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Warn("reminder scan failed")
			}
		}
	}
}

// Scan checks every user for missed slots and reports each missed
// (user, date, slot) once.
func (s *Scheduler) Scan(ctx context.Context) error {
	all, err := s.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	now := s.now()
	for _, u := range all {
		if err := s.scanUser(ctx, u, now); err != nil {
			return fmt.Errorf("scan %s: %w", u.Name, err)
		}
	}
	s.prune(now)
	return nil
}

func (s *Scheduler) scanUser(ctx context.Context, u user.User, now time.Time) error {
	local := now.In(users.Location(u))
	today := local.Format(injection.DateLayout)
	yesterday := local.AddDate(0, 0, -1).Format(injection.DateLayout)

	type cell struct {
		date string
		slot injection.Slot
	}
	var due []cell
	if local.Hour() >= morningCutoffHour {
		due = append(due, cell{today, injection.SlotMorning})
	}
	for _, slot := range injection.Slots {
		due = append(due, cell{yesterday, slot})
	}

	for _, c := range due {
		// Skip slots that predate the user entirely.
		if c.date < u.CreatedAt.In(users.Location(u)).Format(injection.DateLayout) {
			continue
		}
		key := u.ID + "|" + c.date + "|" + string(c.slot)
		if s.reported(key) {
			continue
		}

		_, err := s.injections.GetInjectionBySlot(ctx, u.ID, c.date, c.slot)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		s.markReported(key)
		metrics.RecordMissedSlot()
		s.log.WithField("user_id", u.ID).
			WithField("name", u.Name).
			WithField("date", c.date).
			WithField("slot", c.slot).
			Warn("missed dose slot")
		if s.notifier != nil {
			event := notify.Event{UserID: u.ID, UserName: u.Name, Date: c.date, Slot: string(c.slot)}
			if err := s.notifier.Notify(ctx, event); err != nil {
				s.log.WithError(err).Warn("missed-dose notification failed")
			}
		}
	}
	return nil
}

func (s *Scheduler) reported(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[key]
}

func (s *Scheduler) markReported(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[key] = true
}

// prune drops report markers older than two days so the set stays bounded.
func (s *Scheduler) prune(now time.Time) {
	cutoff := now.UTC().AddDate(0, 0, -2).Format(injection.DateLayout)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.seen {
		// key layout: user|date|slot
		parts := strings.SplitN(key, "|", 3)
		if len(parts) == 3 && parts[1] < cutoff {
			delete(s.seen, key)
		}
	}
}

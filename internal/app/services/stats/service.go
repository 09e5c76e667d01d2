package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dosetrack/dosetrack/internal/app/domain/injection"
	statsdomain "github.com/dosetrack/dosetrack/internal/app/domain/stats"
	"github.com/dosetrack/dosetrack/internal/app/domain/user"
	"github.com/dosetrack/dosetrack/internal/app/services/users"
	"github.com/dosetrack/dosetrack/internal/app/storage"
	"github.com/dosetrack/dosetrack/pkg/logger"
)

const (
	// DefaultWindowDays is the trailing window used when none is requested.
	DefaultWindowDays = 30
	// MaxWindowDays caps the requested window.
	MaxWindowDays = 365
)

// Service computes compliance statistics over the injection log.
type Service struct {
	users      storage.UserStore
	injections storage.InjectionStore
	log        *logger.Logger
	now        func() time.Time
}

// New constructs a stats service.
func New(userStore storage.UserStore, injections storage.InjectionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("stats")
	}
	return &Service{
		users:      userStore,
		injections: injections,
		log:        log,
		now:        time.Now,
	}
}

// Report computes one user's compliance over a trailing window of days.
// The window start is clamped to the user's first recorded day so new users
// are not penalised for days before their history began.
func (s *Service) Report(ctx context.Context, userID string, windowDays int) (statsdomain.Report, error) {
	windowDays = clampWindow(windowDays)

	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return statsdomain.Report{}, err
	}
	return s.reportFor(ctx, u, windowDays)
}

// Overview computes reports for every user, grouped by name.
func (s *Service) Overview(ctx context.Context, windowDays int) (statsdomain.Overview, error) {
	windowDays = clampWindow(windowDays)

	all, err := s.users.ListUsers(ctx)
	if err != nil {
		return statsdomain.Overview{}, err
	}

	overview := statsdomain.Overview{
		WindowDays: windowDays,
		Users:      make([]statsdomain.Report, 0, len(all)),
	}
	for _, u := range all {
		report, err := s.reportFor(ctx, u, windowDays)
		if err != nil {
			return statsdomain.Overview{}, fmt.Errorf("report for %s: %w", u.Name, err)
		}
		overview.Users = append(overview.Users, report)
	}
	return overview, nil
}

func (s *Service) reportFor(ctx context.Context, u user.User, windowDays int) (statsdomain.Report, error) {
	loc := users.Location(u)
	today := civilDate(s.now().In(loc))
	windowStart := today.AddDate(0, 0, -(windowDays - 1))
	to := today.Format(injection.DateLayout)

	// Fetch everything up to today once; the earliest record both clamps the
	// window and feeds the streak walk.
	records, err := s.injections.ListInjections(ctx, u.ID, "", to)
	if err != nil {
		return statsdomain.Report{}, err
	}

	report := statsdomain.Report{
		UserID:     u.ID,
		UserName:   u.Name,
		WindowDays: windowDays,
		To:         to,
		SlotCounts: make(map[string]int, len(injection.Slots)),
	}
	for _, slot := range injection.Slots {
		report.SlotCounts[string(slot)] = 0
	}

	if len(records) == 0 {
		report.From = windowStart.Format(injection.DateLayout)
		return report, nil
	}

	// Records arrive newest first; the earliest is last.
	earliest, err := time.ParseInLocation(injection.DateLayout, records[len(records)-1].Date, loc)
	if err != nil {
		return statsdomain.Report{}, fmt.Errorf("stored date %q: %w", records[len(records)-1].Date, err)
	}
	from := windowStart
	if earliest.After(from) {
		from = earliest
	}
	report.From = from.Format(injection.DateLayout)

	daySlots := make(map[string]map[injection.Slot]bool)
	for _, rec := range records {
		if rec.Date < report.From {
			continue
		}
		report.TakenDoses++
		report.SlotCounts[string(rec.Slot)]++
		if daySlots[rec.Date] == nil {
			daySlots[rec.Date] = make(map[injection.Slot]bool)
		}
		daySlots[rec.Date][rec.Slot] = true
	}

	days := daysBetween(from, today) + 1
	report.ExpectedDoses = injection.DosesPerDay * days
	if report.ExpectedDoses > 0 {
		pct := 100 * float64(report.TakenDoses) / float64(report.ExpectedDoses)
		report.CompliancePercent = math.Round(pct*10) / 10
	}

	for _, slots := range daySlots {
		report.CoveredDays++
		if len(slots) == injection.DosesPerDay {
			report.FullyCoveredDays++
		}
	}

	// Streak: walk backwards from today while every slot of each day is logged.
	for day := today; !day.Before(from); day = day.AddDate(0, 0, -1) {
		slots := daySlots[day.Format(injection.DateLayout)]
		if len(slots) != injection.DosesPerDay {
			break
		}
		report.CurrentStreak++
	}

	return report, nil
}

func clampWindow(windowDays int) int {
	if windowDays <= 0 {
		return DefaultWindowDays
	}
	if windowDays > MaxWindowDays {
		return MaxWindowDays
	}
	return windowDays
}

// civilDate truncates t to midnight in its own location.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func daysBetween(from, to time.Time) int {
	// Round so DST-shifted days still count as whole days.
	return int(math.Round(civilDate(to).Sub(civilDate(from)).Hours() / 24))
}

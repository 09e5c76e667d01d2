package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dosetrack/dosetrack/internal/app/domain/injection"
	"github.com/dosetrack/dosetrack/internal/app/domain/user"
	"github.com/dosetrack/dosetrack/internal/app/storage/memory"
)

func newFixedService(t *testing.T, now time.Time) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := New(store, store, nil)
	svc.now = func() time.Time { return now }
	return svc, store
}

func seedUser(t *testing.T, store *memory.Store, name, tz string) user.User {
	t.Helper()
	u, err := store.CreateUser(context.Background(), user.User{Name: name, Timezone: tz})
	require.NoError(t, err)
	return u
}

func seed(t *testing.T, store *memory.Store, userID, date string, slots ...injection.Slot) {
	t.Helper()
	for _, slot := range slots {
		_, err := store.CreateInjection(context.Background(), injection.Record{
			UserID: userID,
			Date:   date,
			Slot:   slot,
			Site:   "abdomen-left",
		})
		require.NoError(t, err)
	}
}

func TestReportWindowClampedToFirstRecord(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		days     map[string][]injection.Slot
		expected int
		taken    int
		percent  float64
		covered  int
		fully    int
		streak   int
		from     string
	}{
		{
			name: "full history",
			days: map[string][]injection.Slot{
				"2026-08-28": {injection.SlotMorning, injection.SlotEvening},
				"2026-08-29": {injection.SlotMorning, injection.SlotEvening},
				"2026-08-30": {injection.SlotMorning, injection.SlotEvening},
			},
			expected: 6, taken: 6, percent: 100, covered: 3, fully: 3, streak: 3,
			from: "2026-08-28",
		},
		{
			name: "today incomplete breaks streak",
			days: map[string][]injection.Slot{
				"2026-08-28": {injection.SlotMorning, injection.SlotEvening},
				"2026-08-29": {injection.SlotMorning, injection.SlotEvening},
				"2026-08-30": {injection.SlotMorning},
			},
			expected: 6, taken: 5, percent: 83.3, covered: 3, fully: 2, streak: 0,
			from: "2026-08-28",
		},
		{
			name: "gap day limits streak to today",
			days: map[string][]injection.Slot{
				"2026-08-28": {injection.SlotMorning, injection.SlotEvening},
				"2026-08-30": {injection.SlotMorning, injection.SlotEvening},
			},
			expected: 6, taken: 4, percent: 66.7, covered: 2, fully: 2, streak: 1,
			from: "2026-08-28",
		},
		{
			name:     "no history",
			days:     nil,
			expected: 0, taken: 0, percent: 0, covered: 0, fully: 0, streak: 0,
			from: "2026-08-01",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, store := newFixedService(t, now)
			u := seedUser(t, store, "alice", "UTC")
			for date, slots := range tc.days {
				seed(t, store, u.ID, date, slots...)
			}

			report, err := svc.Report(context.Background(), u.ID, 30)
			require.NoError(t, err)

			require.Equal(t, tc.from, report.From)
			require.Equal(t, "2026-08-30", report.To)
			require.Equal(t, tc.expected, report.ExpectedDoses)
			require.Equal(t, tc.taken, report.TakenDoses)
			require.InDelta(t, tc.percent, report.CompliancePercent, 0.01)
			require.Equal(t, tc.covered, report.CoveredDays)
			require.Equal(t, tc.fully, report.FullyCoveredDays)
			require.Equal(t, tc.streak, report.CurrentStreak)
		})
	}
}

func TestReportUsesUserTimezone(t *testing.T) {
	// 02:00 UTC on the 31st is still the evening of the 30th in New York.
	now := time.Date(2026, 8, 31, 2, 0, 0, 0, time.UTC)
	svc, store := newFixedService(t, now)

	u := seedUser(t, store, "alice", "America/New_York")
	seed(t, store, u.ID, "2026-08-30", injection.SlotMorning, injection.SlotEvening)

	report, err := svc.Report(context.Background(), u.ID, 30)
	require.NoError(t, err)
	require.Equal(t, "2026-08-30", report.To)
	require.Equal(t, "2026-08-30", report.From)
	require.Equal(t, 2, report.ExpectedDoses)
	require.Equal(t, 2, report.TakenDoses)
	require.Equal(t, 1, report.CurrentStreak)
}

func TestReportClampsWindow(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	svc, store := newFixedService(t, now)
	u := seedUser(t, store, "alice", "UTC")

	report, err := svc.Report(context.Background(), u.ID, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultWindowDays, report.WindowDays)

	report, err = svc.Report(context.Background(), u.ID, 9999)
	require.NoError(t, err)
	require.Equal(t, MaxWindowDays, report.WindowDays)
}

func TestReportSlotCounts(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	svc, store := newFixedService(t, now)
	u := seedUser(t, store, "alice", "UTC")
	seed(t, store, u.ID, "2026-08-29", injection.SlotMorning, injection.SlotEvening)
	seed(t, store, u.ID, "2026-08-30", injection.SlotMorning)

	report, err := svc.Report(context.Background(), u.ID, 30)
	require.NoError(t, err)
	require.Equal(t, 2, report.SlotCounts["morning"])
	require.Equal(t, 1, report.SlotCounts["evening"])
}

func TestOverviewCoversAllUsers(t *testing.T) {
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	svc, store := newFixedService(t, now)

	alice := seedUser(t, store, "alice", "UTC")
	bob := seedUser(t, store, "bob", "UTC")
	seed(t, store, alice.ID, "2026-08-30", injection.SlotMorning, injection.SlotEvening)
	seed(t, store, bob.ID, "2026-08-30", injection.SlotMorning)

	overview, err := svc.Overview(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 7, overview.WindowDays)
	require.Len(t, overview.Users, 2)
	require.Equal(t, "alice", overview.Users[0].UserName)
	require.Equal(t, 2, overview.Users[0].TakenDoses)
	require.Equal(t, "bob", overview.Users[1].UserName)
	require.Equal(t, 1, overview.Users[1].TakenDoses)
}

func TestDaysBetweenAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// The spring-forward night is only 23 hours long.
	from := time.Date(2026, 3, 7, 0, 0, 0, 0, loc)
	to := time.Date(2026, 3, 9, 0, 0, 0, 0, loc)
	require.Equal(t, 2, daysBetween(from, to))
}

package stats

// Report summarises one user's dosing compliance over a trailing window.
// From is clamped to the user's first recorded day, so ExpectedDoses counts
// only days the user was actually tracking.
type Report struct {
	UserID            string         `json:"user_id"`
	UserName          string         `json:"user_name"`
	WindowDays        int            `json:"window_days"`
	From              string         `json:"from"`
	To                string         `json:"to"`
	ExpectedDoses     int            `json:"expected_doses"`
	TakenDoses        int            `json:"taken_doses"`
	CompliancePercent float64        `json:"compliance_percent"`
	SlotCounts        map[string]int `json:"slot_counts"`
	CoveredDays       int            `json:"covered_days"`
	FullyCoveredDays  int            `json:"fully_covered_days"`
	CurrentStreak     int            `json:"current_streak"`
}

// Overview aggregates reports for every tracked user.
type Overview struct {
	WindowDays int      `json:"window_days"`
	Users      []Report `json:"users"`
}

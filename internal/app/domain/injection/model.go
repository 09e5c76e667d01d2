package injection

import "time"

// Slot identifies which of the day's doses a record covers.
type Slot string

const (
	SlotMorning Slot = "morning"
	SlotEvening Slot = "evening"
)

// Slots lists every dose slot in chronological order.
var Slots = []Slot{SlotMorning, SlotEvening}

// DosesPerDay is the number of expected doses per calendar day.
var DosesPerDay = len(Slots)

// ValidSlot reports whether s is a known dose slot.
func ValidSlot(s Slot) bool {
	for _, slot := range Slots {
		if s == slot {
			return true
		}
	}
	return false
}

// Sites lists the rotation sites in rotation order.
var Sites = []string{
	"abdomen-left",
	"abdomen-right",
	"thigh-left",
	"thigh-right",
	"arm-left",
	"arm-right",
}

// ValidSite reports whether site is a known rotation site.
func ValidSite(site string) bool {
	for _, s := range Sites {
		if site == s {
			return true
		}
	}
	return false
}

// DateLayout is the civil date format used throughout the injection log.
// Dates are stored as strings so a dose logged at 23:30 local time stays on
// the day the user meant.
const DateLayout = "2006-01-02"

// Record is one logged injection.
type Record struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// Date is the civil date in the user's timezone, formatted as DateLayout.
	Date      string    `json:"date"`
	Slot      Slot      `json:"slot"`
	Site      string    `json:"site"`
	Dose      string    `json:"dose,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	TakenAt   time.Time `json:"taken_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

package user

import "time"

// User is a person whose injections are tracked. Name is the unique handle
// used for lookups; DisplayName is free-form.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Timezone    string    `json:"timezone"`
	Medication  string    `json:"medication,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

package model

import "time"

// ToggleCommand is an accepted, not yet applied, toggle write.
// Commands for the same event are applied in the order they were accepted.
type ToggleCommand struct {
	ID       string
	EventID  string
	Field    ToggleField
	Value    bool
	CallerID string
	Accepted time.Time
}

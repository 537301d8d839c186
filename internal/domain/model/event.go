// Package model contains domain models passed between layers.
package model

import "time"

// AnonymousName is shown when no display name could be resolved.
const AnonymousName = "anon"

// Event is a live competition created by a user.
// IsAdminOnly is fixed at creation; only the two toggles change afterwards.
type Event struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	Description         string    `json:"description"`
	Tag                 string    `json:"tag"`
	TagLower            string    `json:"tagLower"`
	CreatorID           string    `json:"creatorId"`
	CreatorName         string    `json:"creatorName"`
	IsAdminOnly         bool      `json:"isAdminOnly"`
	RegistrationEnabled bool      `json:"registrationEnabled"`
	BackingEnabled      bool      `json:"backingEnabled"`
	MaxBackingsPerUser  int       `json:"maxBackingsPerUser"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Participation records that a user registered for an event.
type Participation struct {
	EventID     string    `json:"eventId"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
	Seq         int64     `json:"-"`
}

// Key returns the participation's composite identity.
func (p Participation) Key() string {
	return ParticipationKey(p.EventID, p.UserID)
}

// Backing is one user's vote for a registered participant.
type Backing struct {
	EventID      string    `json:"eventId"`
	BackerID     string    `json:"backerId"`
	TargetUserID string    `json:"targetUserId"`
	CreatedAt    time.Time `json:"createdAt"`
	Seq          int64     `json:"-"`
}

// Key returns the backing's composite identity.
func (b Backing) Key() string {
	return BackingKey(b.EventID, b.BackerID, b.TargetUserID)
}

// ManagedParticipant is a named entry on an admin-only event whose score is
// set by the creator.
type ManagedParticipant struct {
	ID        string    `json:"id"`
	EventID   string    `json:"eventId"`
	Name      string    `json:"name"`
	Points    int64     `json:"points"`
	CreatedAt time.Time `json:"createdAt"`
	Seq       int64     `json:"-"`
}

// ToggleField names one of the two mutable event switches.
type ToggleField string

// Toggle fields.
const (
	ToggleRegistration ToggleField = "registrationEnabled"
	ToggleBacking      ToggleField = "backingEnabled"
)

// Valid reports whether f is a known toggle.
func (f ToggleField) Valid() bool {
	return f == ToggleRegistration || f == ToggleBacking
}

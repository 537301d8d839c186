// Package seed drives a running backr server with generated users, events,
// registrations and backings, then checks every leaderboard against the
// outcome it observed.
package seed

import (
	"time"

	"github.com/okian/backr/internal/domain/model"
)

// Config holds configuration for a seeding run.
type Config struct {
	BaseURL     string        // Base URL of the service
	Users       int           // Number of generated users
	Events      int           // Number of public events
	AdminEvents int           // Number of admin-only events
	Quota       int           // maxBackingsPerUser of every public event
	Attempts    int           // Backing attempts per user and event
	Workers     int           // Number of concurrent workers
	Timeout     time.Duration // HTTP request timeout
	Seed        uint64        // Random source seed; 0 picks one from the clock
	Verbose     bool          // Log every request outcome
}

// Stats holds run statistics.
type Stats struct {
	EventsCreated      int
	Registrations      int
	BackingsAccepted   int
	BackingsDuplicate  int
	BackingsRejected   int
	RequestsFailed     int
	PointsUpdated      int
	LeaderboardsPassed int
	LeaderboardsFailed int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}

// outcome classifies one write.
type outcome int

const (
	outcomeAccepted outcome = iota
	outcomeDuplicate
	outcomeRejected
	outcomeFailed
)

type eventRequest struct {
	Title              string `json:"title"`
	Description        string `json:"description"`
	Tag                string `json:"tag"`
	MaxBackingsPerUser int    `json:"maxBackingsPerUser,omitempty"`
}

type adminEventRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Tag          string   `json:"tag"`
	Participants []string `json:"participants"`
}

type adminEventResponse struct {
	Event        model.Event                `json:"event"`
	Participants []model.ManagedParticipant `json:"participants"`
}

type backRequest struct {
	TargetUserID string `json:"targetUserId"`
}

type backingResponse struct {
	Backing   model.Backing `json:"backing"`
	Duplicate bool          `json:"duplicate"`
}

type pointsRequest struct {
	Points int64 `json:"points"`
}

type board struct {
	Event   model.Event              `json:"event"`
	Entries []model.LeaderboardEntry `json:"entries"`
}

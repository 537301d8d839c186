// Package ledger enforces the backing rules of an event and folds backings
// into per-participant counts.
//
// The ledger holds no state. Callers pass the event, roster and backings they
// already observed; the returned Backing must then be written with
// insert-if-absent semantics keyed by Backing.Key.
package ledger

import (
	"strings"
	"time"

	"github.com/okian/backr/internal/domain/model"
)

const opAttemptBack = "ledger.attempt_back"

// AttemptBack validates a backing of targetUserID by backerID.
//
// Checks run in order: backing enabled, target registered, identity not yet
// present, backer under quota. On ErrDuplicate the already stored backing is
// returned alongside the error.
func AttemptBack(event model.Event, backerID, targetUserID string, roster []model.Participation, existing []model.Backing, now time.Time) (model.Backing, error) {
	backerID = strings.TrimSpace(backerID)
	targetUserID = strings.TrimSpace(targetUserID)
	if backerID == "" {
		return model.Backing{}, model.NewError(opAttemptBack, model.ErrAuthorization, "backer is required")
	}
	if targetUserID == "" {
		return model.Backing{}, model.NewError(opAttemptBack, model.ErrValidation, "target is required")
	}

	if !event.BackingEnabled {
		return model.Backing{}, model.NewError(opAttemptBack, model.ErrDisabled, "backing is closed for event %s", event.ID)
	}

	if !registered(roster, event.ID, targetUserID) {
		return model.Backing{}, model.NewError(opAttemptBack, model.ErrUnknownTarget, "user %s is not registered for event %s", targetUserID, event.ID)
	}

	key := model.BackingKey(event.ID, backerID, targetUserID)
	used := 0
	for _, b := range existing {
		if b.EventID != event.ID || b.BackerID != backerID {
			continue
		}
		if b.Key() == key {
			return b, model.NewError(opAttemptBack, model.ErrDuplicate, "")
		}
		used++
	}

	if used >= event.MaxBackingsPerUser {
		return model.Backing{}, model.NewError(opAttemptBack, model.ErrQuotaExceeded, "backer %s used %d of %d", backerID, used, event.MaxBackingsPerUser)
	}

	return model.Backing{
		EventID:      event.ID,
		BackerID:     backerID,
		TargetUserID: targetUserID,
		CreatedAt:    now.UTC(),
	}, nil
}

// BackerCountByTarget counts distinct backers per target.
func BackerCountByTarget(backings []model.Backing) map[string]int {
	counts := make(map[string]int)
	seen := make(map[string]struct{}, len(backings))
	for _, b := range backings {
		k := b.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		counts[b.TargetUserID]++
	}
	return counts
}

// BackedBy returns the targets backed by backerID, in ledger order.
func BackedBy(backings []model.Backing, backerID string) []string {
	targets := make([]string, 0)
	seen := make(map[string]struct{})
	for _, b := range backings {
		if b.BackerID != backerID {
			continue
		}
		if _, dup := seen[b.TargetUserID]; dup {
			continue
		}
		seen[b.TargetUserID] = struct{}{}
		targets = append(targets, b.TargetUserID)
	}
	return targets
}

func registered(roster []model.Participation, eventID, userID string) bool {
	for _, p := range roster {
		if p.EventID == eventID && p.UserID == userID {
			return true
		}
	}
	return false
}

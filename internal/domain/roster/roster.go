// Package roster decides whether a user may join an event.
package roster

import (
	"strings"
	"time"

	"github.com/okian/backr/internal/domain/model"
)

const opRegister = "roster.register"

// Register validates a registration of userID for event.
// On ErrDuplicate the existing participation is returned with the error.
func Register(event model.Event, userID, displayName string, existing []model.Participation, now time.Time) (model.Participation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return model.Participation{}, model.NewError(opRegister, model.ErrAuthorization, "user is required")
	}

	if !event.RegistrationEnabled {
		return model.Participation{}, model.NewError(opRegister, model.ErrDisabled, "registration is closed for event %s", event.ID)
	}

	for _, p := range existing {
		if p.EventID == event.ID && p.UserID == userID {
			return p, model.NewError(opRegister, model.ErrDuplicate, "")
		}
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = model.AnonymousName
	}

	return model.Participation{
		EventID:     event.ID,
		UserID:      userID,
		DisplayName: name,
		CreatedAt:   now.UTC(),
	}, nil
}

// Contains reports whether userID is on the roster.
func Contains(roster []model.Participation, userID string) bool {
	for _, p := range roster {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Package eventcfg validates event creation and guards creator-only changes.
package eventcfg

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/okian/backr/internal/domain/model"
)

// MinTitleLength is the shortest accepted title, counted in runes.
const MinTitleLength = 3

const (
	opCreateEvent      = "eventcfg.create_event"
	opCreateAdminEvent = "eventcfg.create_admin_event"
	opSetToggle        = "eventcfg.set_toggle"
	opManage           = "eventcfg.manage"
)

// Config is the caller's input for a public event.
type Config struct {
	Title              string
	Description        string
	Tag                string
	MaxBackingsPerUser int
	CreatorID          string
	CreatorName        string
}

// AdminConfig is the caller's input for an admin-only event.
// Participants are the names seeded as managed participants.
type AdminConfig struct {
	Title        string
	Description  string
	Tag          string
	CreatorID    string
	CreatorName  string
	Participants []string
}

// CreateEvent validates cfg and returns the new public event with both
// toggles on.
func CreateEvent(id string, cfg Config, now time.Time) (model.Event, error) {
	event, err := base(opCreateEvent, id, cfg.Title, cfg.Description, cfg.Tag, cfg.CreatorID, cfg.CreatorName, now)
	if err != nil {
		return model.Event{}, err
	}
	if cfg.MaxBackingsPerUser < 1 {
		return model.Event{}, model.NewError(opCreateEvent, model.ErrValidation, "maxBackingsPerUser must be at least 1")
	}

	event.RegistrationEnabled = true
	event.BackingEnabled = true
	event.MaxBackingsPerUser = cfg.MaxBackingsPerUser
	return event, nil
}

// CreateAdminEvent validates cfg and returns an admin-only event together
// with the cleaned participant names. Registration, backing and quota are
// forced off whatever the caller sent.
func CreateAdminEvent(id string, cfg AdminConfig, now time.Time) (model.Event, []string, error) {
	event, err := base(opCreateAdminEvent, id, cfg.Title, cfg.Description, cfg.Tag, cfg.CreatorID, cfg.CreatorName, now)
	if err != nil {
		return model.Event{}, nil, err
	}

	names := make([]string, 0, len(cfg.Participants))
	for _, n := range cfg.Participants {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return model.Event{}, nil, model.NewError(opCreateAdminEvent, model.ErrValidation, "at least one participant name is required")
	}

	event.IsAdminOnly = true
	event.RegistrationEnabled = false
	event.BackingEnabled = false
	event.MaxBackingsPerUser = 0
	return event, names, nil
}

// SetToggle applies a toggle change requested by callerID.
// Only the creator may change a toggle, and admin-only events have none.
func SetToggle(event model.Event, field model.ToggleField, value bool, callerID string) (model.Event, error) {
	if !field.Valid() {
		return model.Event{}, model.NewError(opSetToggle, model.ErrValidation, "unknown toggle %q", field)
	}
	if callerID == "" || callerID != event.CreatorID {
		return model.Event{}, model.NewError(opSetToggle, model.ErrAuthorization, "only the creator can change %s", field)
	}
	if event.IsAdminOnly {
		return model.Event{}, model.NewError(opSetToggle, model.ErrValidation, "admin-only events have no toggles")
	}

	switch field {
	case model.ToggleRegistration:
		event.RegistrationEnabled = value
	case model.ToggleBacking:
		event.BackingEnabled = value
	}
	return event, nil
}

// AuthorizeManage checks that callerID may edit the managed participants of
// event.
func AuthorizeManage(event model.Event, callerID string) error {
	if callerID == "" || callerID != event.CreatorID {
		return model.NewError(opManage, model.ErrAuthorization, "only the creator can manage participants")
	}
	if !event.IsAdminOnly {
		return model.NewError(opManage, model.ErrValidation, "event %s is not admin-only", event.ID)
	}
	return nil
}

// ValidateParticipantName trims name and rejects blanks.
func ValidateParticipantName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", model.NewError(opManage, model.ErrValidation, "participant name is required")
	}
	return name, nil
}

// NormalizeTag trims tag and strips a single leading '#'.
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "#")
	return strings.TrimSpace(tag)
}

func base(op, id, title, description, tag, creatorID, creatorName string, now time.Time) (model.Event, error) {
	if strings.TrimSpace(creatorID) == "" {
		return model.Event{}, model.NewError(op, model.ErrAuthorization, "creator is required")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return model.Event{}, model.NewError(op, model.ErrValidation, "title is required")
	}
	if utf8.RuneCountInString(title) < MinTitleLength {
		return model.Event{}, model.NewError(op, model.ErrValidation, "title must be at least %d characters", MinTitleLength)
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return model.Event{}, model.NewError(op, model.ErrValidation, "description is required")
	}
	tag = NormalizeTag(tag)
	if tag == "" {
		return model.Event{}, model.NewError(op, model.ErrValidation, "tag is required")
	}

	name := strings.TrimSpace(creatorName)
	if name == "" {
		name = model.AnonymousName
	}

	return model.Event{
		ID:          id,
		Title:       title,
		Description: description,
		Tag:         tag,
		TagLower:    strings.ToLower(tag),
		CreatorID:   creatorID,
		CreatorName: name,
		CreatedAt:   now.UTC(),
	}, nil
}

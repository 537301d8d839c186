package service

import (
	repository "github.com/okian/backr/internal/adapters/repository"
	"github.com/okian/backr/internal/domain/model"
)

// Stored field names. eventId doubles as the scope stores index.
const (
	fieldEventID             = repository.ScopeField
	fieldTitle               = "title"
	fieldDescription         = "description"
	fieldTag                 = "tag"
	fieldTagLower            = "tagLower"
	fieldCreatorID           = "creatorId"
	fieldCreatorName         = "creatorName"
	fieldIsAdminOnly         = "isAdminOnly"
	fieldRegistrationEnabled = string(model.ToggleRegistration)
	fieldBackingEnabled      = string(model.ToggleBacking)
	fieldMaxBackingsPerUser  = "maxBackingsPerUser"
	fieldCreatedAt           = "createdAt"
	fieldUserID              = "userId"
	fieldDisplayName         = "displayName"
	fieldBackerID            = "backerId"
	fieldTargetUserID        = "targetUserId"
	fieldName                = "name"
	fieldPoints              = "points"
)

func byEvent(eventID string) repository.Filter {
	return repository.Filter{fieldEventID: eventID}
}

func eventFields(e model.Event) map[string]any { //nolint:gocritic // records are built once per write
	return map[string]any{
		fieldTitle:               e.Title,
		fieldDescription:         e.Description,
		fieldTag:                 e.Tag,
		fieldTagLower:            e.TagLower,
		fieldCreatorID:           e.CreatorID,
		fieldCreatorName:         e.CreatorName,
		fieldIsAdminOnly:         e.IsAdminOnly,
		fieldRegistrationEnabled: e.RegistrationEnabled,
		fieldBackingEnabled:      e.BackingEnabled,
		fieldMaxBackingsPerUser:  int64(e.MaxBackingsPerUser),
		fieldCreatedAt:           repository.ToMillis(e.CreatedAt),
	}
}

func eventFromDoc(d repository.Document) model.Event { //nolint:gocritic // documents are passed by value throughout the store API
	return model.Event{
		ID:                  d.ID,
		Title:               d.String(fieldTitle),
		Description:         d.String(fieldDescription),
		Tag:                 d.String(fieldTag),
		TagLower:            d.String(fieldTagLower),
		CreatorID:           d.String(fieldCreatorID),
		CreatorName:         d.String(fieldCreatorName),
		IsAdminOnly:         d.Bool(fieldIsAdminOnly),
		RegistrationEnabled: d.Bool(fieldRegistrationEnabled),
		BackingEnabled:      d.Bool(fieldBackingEnabled),
		MaxBackingsPerUser:  int(d.Int(fieldMaxBackingsPerUser)),
		CreatedAt:           d.Time(fieldCreatedAt),
	}
}

func participationFields(p model.Participation) map[string]any {
	return map[string]any{
		fieldEventID:     p.EventID,
		fieldUserID:      p.UserID,
		fieldDisplayName: p.DisplayName,
		fieldCreatedAt:   repository.ToMillis(p.CreatedAt),
	}
}

func participationFromDoc(d repository.Document) model.Participation { //nolint:gocritic // see eventFromDoc
	return model.Participation{
		EventID:     d.String(fieldEventID),
		UserID:      d.String(fieldUserID),
		DisplayName: d.String(fieldDisplayName),
		CreatedAt:   d.Time(fieldCreatedAt),
		Seq:         d.Seq,
	}
}

func backingFields(b model.Backing) map[string]any {
	return map[string]any{
		fieldEventID:      b.EventID,
		fieldBackerID:     b.BackerID,
		fieldTargetUserID: b.TargetUserID,
		fieldCreatedAt:    repository.ToMillis(b.CreatedAt),
	}
}

func backingFromDoc(d repository.Document) model.Backing { //nolint:gocritic // see eventFromDoc
	return model.Backing{
		EventID:      d.String(fieldEventID),
		BackerID:     d.String(fieldBackerID),
		TargetUserID: d.String(fieldTargetUserID),
		CreatedAt:    d.Time(fieldCreatedAt),
		Seq:          d.Seq,
	}
}

func managedFields(m model.ManagedParticipant) map[string]any {
	return map[string]any{
		fieldEventID:   m.EventID,
		fieldName:      m.Name,
		fieldPoints:    m.Points,
		fieldCreatedAt: repository.ToMillis(m.CreatedAt),
	}
}

func managedFromDoc(d repository.Document) model.ManagedParticipant { //nolint:gocritic // see eventFromDoc
	return model.ManagedParticipant{
		ID:        d.ID,
		EventID:   d.String(fieldEventID),
		Name:      d.String(fieldName),
		Points:    d.Int(fieldPoints),
		CreatedAt: d.Time(fieldCreatedAt),
		Seq:       d.Seq,
	}
}

func participationsFromDocs(docs []repository.Document) []model.Participation {
	out := make([]model.Participation, len(docs))
	for i, d := range docs {
		out[i] = participationFromDoc(d)
	}
	return out
}

func backingsFromDocs(docs []repository.Document) []model.Backing {
	out := make([]model.Backing, len(docs))
	for i, d := range docs {
		out[i] = backingFromDoc(d)
	}
	return out
}

func managedFromDocs(docs []repository.Document) []model.ManagedParticipant {
	out := make([]model.ManagedParticipant, len(docs))
	for i, d := range docs {
		out[i] = managedFromDoc(d)
	}
	return out
}

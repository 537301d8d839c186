package api

import (
	"errors"
	"net/http"

	"github.com/okian/backr/internal/adapters/session"
	service "github.com/okian/backr/internal/app"
	"github.com/okian/backr/internal/domain/model"
)

// HeaderIdempotencyKey lets clients retry toggle requests safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// EventsHandler handles event configuration requests.
type EventsHandler struct {
	deps     Dependencies
	sessions session.Provider
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps Dependencies, sessions session.Provider) *EventsHandler {
	return &EventsHandler{deps: deps, sessions: sessions}
}

type adminEventResponse struct {
	Event        model.Event                `json:"event"`
	Participants []model.ManagedParticipant `json:"participants"`
}

type searchResponse struct {
	Events []service.EventSummary `json:"events"`
}

type toggleRequest struct {
	Field model.ToggleField `json:"field"`
	Value *bool             `json:"value"`
}

// HandleCreateEvent handles POST /events.
func (h *EventsHandler) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_event"
	caller, ok := requireUser(w, r, h.sessions)
	if !ok {
		return
	}
	var req service.EventInput
	if !decodeJSON(w, r, op, &req) {
		return
	}
	event, err := h.deps.CreateEvent(r.Context(), caller, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

// HandleCreateAdminEvent handles POST /admin-events.
func (h *EventsHandler) HandleCreateAdminEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_admin_event"
	caller, ok := requireUser(w, r, h.sessions)
	if !ok {
		return
	}
	var req service.AdminEventInput
	if !decodeJSON(w, r, op, &req) {
		return
	}
	event, managed, err := h.deps.CreateAdminEvent(r.Context(), caller, req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, adminEventResponse{Event: event, Participants: managed})
}

// HandleSearchEvents handles GET /events?q=term.
func (h *EventsHandler) HandleSearchEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.deps.SearchEvents(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Events: events})
}

// HandleGetEvent handles GET /events/{eventID}.
func (h *EventsHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := h.deps.GetEvent(r.Context(), r.PathValue("eventID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// HandleSetToggle handles PATCH /events/{eventID}/toggles. It answers once
// the change has been written.
func (h *EventsHandler) HandleSetToggle(w http.ResponseWriter, r *http.Request) {
	const op = "api.set_toggle"
	caller, ok := requireUser(w, r, h.sessions)
	if !ok {
		return
	}
	var req toggleRequest
	if !decodeJSON(w, r, op, &req) {
		return
	}
	if req.Value == nil {
		writeDomainError(w, model.WrapError(op, model.ErrValidation, errors.Join(ErrBadRequest, errors.New("value is required"))))
		return
	}

	receipt, err := h.deps.SetToggle(r.Context(), r.PathValue("eventID"), req.Field, *req.Value, caller, r.Header.Get(HeaderIdempotencyKey))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

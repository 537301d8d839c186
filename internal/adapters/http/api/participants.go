package api

import (
	"errors"
	"net/http"

	"github.com/okian/backr/internal/adapters/session"
	"github.com/okian/backr/internal/domain/model"
)

// ParticipantHandler handles roster, backing and managed participant requests.
type ParticipantHandler struct {
	deps     Dependencies
	sessions session.Provider
}

// NewParticipantHandler creates a new participant handler.
func NewParticipantHandler(deps Dependencies, sessions session.Provider) *ParticipantHandler {
	return &ParticipantHandler{deps: deps, sessions: sessions}
}

type participationResponse struct {
	Participation model.Participation `json:"participation"`
	Duplicate     bool                `json:"duplicate"`
}

type backRequest struct {
	TargetUserID string `json:"targetUserId"`
}

type backingResponse struct {
	Backing   model.Backing `json:"backing"`
	Duplicate bool          `json:"duplicate"`
}

type managedRequest struct {
	Name string `json:"name"`
}

type pointsRequest struct {
	Points *int64 `json:"points"`
}

// HandleRegister handles POST /events/{eventID}/participations. The caller
// registers themselves.
func (h *ParticipantHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireUser(w, r, h.sessions)
	if !ok {
		return
	}
	p, err := h.deps.Register(r.Context(), r.PathValue("eventID"), caller)
	switch {
	case errors.Is(err, model.ErrDuplicate):
		writeJSON(w, http.StatusOK, participationResponse{Participation: p, Duplicate: true})
	case err != nil:
		writeDomainError(w, err)
	default:
		writeJSON(w, http.StatusCreated, participationResponse{Participation: p})
	}
}

// HandleBack handles POST /events/{eventID}/backings.
func (h *ParticipantHandler) HandleBack(w http.ResponseWriter, r *http.Request) {
	const op = "api.back"
	caller, ok := requireUser(w, r, h.sessions)
	if !ok {
		return
	}
	var req backRequest
	if !decodeJSON(w, r, op, &req) {
		return
	}
	b, err := h.deps.Back(r.Context(), r.PathValue("eventID"), caller, req.TargetUserID)
	switch {
	case errors.Is(err, model.ErrDuplicate):
		writeJSON(w, http.StatusOK, backingResponse{Backing: b, Duplicate: true})
	case err != nil:
		writeDomainError(w, err)
	default:
		writeJSON(w, http.StatusCreated, backingResponse{Backing: b})
	}
}

// HandleAddManaged handles POST /events/{eventID}/managed-participants.
func (h *ParticipantHandler) HandleAddManaged(w http.ResponseWriter, r *http.Request) {
	const op = "api.add_managed"
	caller, ok := requireUser(w, r, h.sessions)
	if !ok {
		return
	}
	var req managedRequest
	if !decodeJSON(w, r, op, &req) {
		return
	}
	m, err := h.deps.AddManagedParticipant(r.Context(), r.PathValue("eventID"), req.Name, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// HandleSetPoints handles PUT /events/{eventID}/managed-participants/{participantID}/points.
func (h *ParticipantHandler) HandleSetPoints(w http.ResponseWriter, r *http.Request) {
	const op = "api.set_points"
	caller, ok := requireUser(w, r, h.sessions)
	if !ok {
		return
	}
	var req pointsRequest
	if !decodeJSON(w, r, op, &req) {
		return
	}
	if req.Points == nil {
		writeDomainError(w, model.WrapError(op, model.ErrValidation, errors.Join(ErrBadRequest, errors.New("points is required"))))
		return
	}
	m, err := h.deps.SetPoints(r.Context(), r.PathValue("eventID"), r.PathValue("participantID"), *req.Points, caller)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

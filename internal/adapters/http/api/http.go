// Package api exposes the service over HTTP and maps domain errors to status
// codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/okian/backr/internal/adapters/session"
	service "github.com/okian/backr/internal/app"
	"github.com/okian/backr/internal/domain/model"
	"github.com/okian/backr/pkg/logger"
)

const (
	defaultHeartbeat = 15 * time.Second
	maxBodyBytes     = 1 << 20
)

// Dependencies are the service operations the handlers call.
type Dependencies interface {
	CreateEvent(ctx context.Context, callerID string, in service.EventInput) (model.Event, error)
	CreateAdminEvent(ctx context.Context, callerID string, in service.AdminEventInput) (model.Event, []model.ManagedParticipant, error)
	GetEvent(ctx context.Context, eventID string) (model.Event, error)
	SearchEvents(ctx context.Context, term string) ([]service.EventSummary, error)
	Register(ctx context.Context, eventID, userID string) (model.Participation, error)
	Back(ctx context.Context, eventID, backerID, targetUserID string) (model.Backing, error)
	SetToggle(ctx context.Context, eventID string, field model.ToggleField, value bool, callerID, idempotencyKey string) (service.ToggleReceipt, error)
	AddManagedParticipant(ctx context.Context, eventID, name, callerID string) (model.ManagedParticipant, error)
	SetPoints(ctx context.Context, eventID, participantID string, points int64, callerID string) (model.ManagedParticipant, error)
	Leaderboard(ctx context.Context, eventID, viewerID string) (service.Board, error)
	OpenView(ctx context.Context, eventID string, who session.Provider) (*service.View, error)
	UserStats(ctx context.Context, userID string) (service.UserStats, error)
}

// Option configures a Server.
type Option func(*Server)

// WithSessionProvider sets where handlers read the caller from.
func WithSessionProvider(p session.Provider) Option {
	return func(s *Server) {
		if p != nil {
			s.sessions = p
		}
	}
}

// WithHeartbeat sets the keep-alive interval of leaderboard streams.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithLogger sets the API logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server wires HTTP routes for the business API.
type Server struct {
	sessions  session.Provider
	heartbeat time.Duration
	logger    logger.Logger

	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	eventsHandler      *EventsHandler
	participantHandler *ParticipantHandler
	leaderboardHandler *LeaderboardHandler
	usersHandler       *UsersHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		sessions:  session.ContextProvider{},
		heartbeat: defaultHeartbeat,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}

	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(statsProvider)
	s.eventsHandler = NewEventsHandler(deps, s.sessions)
	s.participantHandler = NewParticipantHandler(deps, s.sessions)
	s.leaderboardHandler = NewLeaderboardHandler(deps, s.sessions, s.heartbeat, s.logger)
	s.usersHandler = NewUsersHandler(deps)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /events", MetricsMiddleware(s.eventsHandler.HandleCreateEvent, "events"))
	mux.HandleFunc("GET /events", MetricsMiddleware(s.eventsHandler.HandleSearchEvents, "events"))
	mux.HandleFunc("POST /admin-events", MetricsMiddleware(s.eventsHandler.HandleCreateAdminEvent, "admin_events"))
	mux.HandleFunc("GET /events/{eventID}", MetricsMiddleware(s.eventsHandler.HandleGetEvent, "event"))
	mux.HandleFunc("PATCH /events/{eventID}/toggles", MetricsMiddleware(s.eventsHandler.HandleSetToggle, "toggles"))

	mux.HandleFunc("POST /events/{eventID}/participations", MetricsMiddleware(s.participantHandler.HandleRegister, "participations"))
	mux.HandleFunc("POST /events/{eventID}/backings", MetricsMiddleware(s.participantHandler.HandleBack, "backings"))
	mux.HandleFunc("POST /events/{eventID}/managed-participants", MetricsMiddleware(s.participantHandler.HandleAddManaged, "managed_participants"))
	mux.HandleFunc("PUT /events/{eventID}/managed-participants/{participantID}/points", MetricsMiddleware(s.participantHandler.HandleSetPoints, "points"))

	mux.HandleFunc("GET /events/{eventID}/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /events/{eventID}/leaderboard/stream", s.leaderboardHandler.HandleStream)

	mux.HandleFunc("GET /users/{userID}/stats", MetricsMiddleware(s.usersHandler.HandleUserStats, "user_stats"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps an error kind to its status code. Duplicates never
// reach here; handlers answer them with a 200 notice.
func writeDomainError(w http.ResponseWriter, err error) {
	switch model.KindOf(err) {
	case model.ErrValidation:
		writeError(w, http.StatusBadRequest, "validation", err)
	case model.ErrAuthorization:
		writeError(w, http.StatusForbidden, "forbidden", err)
	case model.ErrDisabled:
		writeError(w, http.StatusConflict, "disabled", err)
	case model.ErrQuotaExceeded:
		writeError(w, http.StatusConflict, "quota_exceeded", err)
	case model.ErrUnknownTarget:
		writeError(w, http.StatusUnprocessableEntity, "unknown_target", err)
	case model.ErrNotFound:
		writeError(w, http.StatusNotFound, "not_found", err)
	case model.ErrTransport:
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		switch {
		case errors.Is(err, service.ErrBackpressure):
			writeError(w, http.StatusTooManyRequests, "backpressure", err)
		case errors.Is(err, service.ErrNotStarted):
			writeError(w, http.StatusServiceUnavailable, "unavailable", err)
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", err)
		}
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeDomainError(w, model.WrapError(op, model.ErrValidation, errors.Join(ErrBadRequest, err)))
		return false
	}
	return true
}

// requireUser returns the caller or answers 401.
func requireUser(w http.ResponseWriter, r *http.Request, p session.Provider) (string, bool) {
	id, ok := p.CurrentUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthenticated", ErrUnauthenticated)
		return "", false
	}
	return id, true
}

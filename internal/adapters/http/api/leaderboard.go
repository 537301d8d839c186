package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/backr/internal/adapters/session"
	"github.com/okian/backr/pkg/logger"
)

// LeaderboardHandler handles leaderboard reads and live streams.
type LeaderboardHandler struct {
	deps      Dependencies
	sessions  session.Provider
	heartbeat time.Duration
	logger    logger.Logger
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps Dependencies, sessions session.Provider, heartbeat time.Duration, l logger.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{deps: deps, sessions: sessions, heartbeat: heartbeat, logger: l}
}

// HandleGetLeaderboard handles GET /events/{eventID}/leaderboard. The caller,
// when known, gets their viewer state alongside the entries.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	viewer, _ := h.sessions.CurrentUserID(r.Context())
	board, err := h.deps.Leaderboard(r.Context(), r.PathValue("eventID"), viewer)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// HandleStream handles GET /events/{eventID}/leaderboard/stream as Server-Sent
// Events. Every published view snapshot becomes one "snapshot" event. The view
// is closed when the client goes away.
func (h *LeaderboardHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", ErrStreaming)
		return
	}

	ctx := r.Context()
	eventID := r.PathValue("eventID")
	view, err := h.deps.OpenView(ctx, eventID, h.sessions)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer view.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snap, ok := <-view.Updates():
			if !ok {
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				h.logger.Error(ctx, "encode snapshot", logger.String("event_id", eventID), logger.Error(err))
				return
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Revision, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

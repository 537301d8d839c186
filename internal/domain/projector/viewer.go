package projector

import (
	"github.com/okian/backr/internal/domain/ledger"
	"github.com/okian/backr/internal/domain/model"
	"github.com/okian/backr/internal/domain/roster"
)

// ViewerState is what one signed-in user may do on an event page.
type ViewerState struct {
	UserID            string   `json:"userId,omitempty"`
	IsCreator         bool     `json:"isCreator"`
	IsParticipant     bool     `json:"isParticipant"`
	BackedTargets     []string `json:"backedTargets"`
	RemainingBackings int      `json:"remainingBackings"`
	QuotaReached      bool     `json:"quotaReached"`
}

// Viewer derives the viewer state of userID. An empty userID yields the
// anonymous state.
func Viewer(event model.Event, participants []model.Participation, backings []model.Backing, userID string) ViewerState {
	state := ViewerState{UserID: userID, BackedTargets: []string{}}
	if userID == "" {
		return state
	}

	state.IsCreator = event.CreatorID == userID
	if event.IsAdminOnly {
		return state
	}

	state.IsParticipant = roster.Contains(participants, userID)
	state.BackedTargets = ledger.BackedBy(backings, userID)
	state.RemainingBackings = max(event.MaxBackingsPerUser-len(state.BackedTargets), 0)
	state.QuotaReached = state.RemainingBackings == 0
	return state
}

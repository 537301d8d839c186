// Package projector turns an event's roster, ledger and managed set into a
// ranked leaderboard. It performs no I/O.
package projector

import (
	"sort"

	"github.com/okian/backr/internal/domain/ledger"
	"github.com/okian/backr/internal/domain/model"
)

// Project ranks the event's subjects by score, highest first.
//
// Public events rank participants by distinct backer count; admin-only events
// rank managed participants by points. Ties keep input order, so callers must
// pass roster and managed slices in insertion order. Backings whose target is
// not on the roster yet are ignored.
func Project(event model.Event, roster []model.Participation, backings []model.Backing, managed []model.ManagedParticipant) []model.LeaderboardEntry {
	var entries []model.LeaderboardEntry
	if event.IsAdminOnly {
		entries = projectManaged(event.ID, managed)
	} else {
		entries = projectBacked(event.ID, roster, backings)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	for i := range entries {
		entries[i].Position = i + 1
		entries[i].Tier = model.TierFor(i + 1)
	}
	return entries
}

func projectBacked(eventID string, roster []model.Participation, backings []model.Backing) []model.LeaderboardEntry {
	scoped := make([]model.Backing, 0, len(backings))
	for _, b := range backings {
		if b.EventID == eventID {
			scoped = append(scoped, b)
		}
	}
	counts := ledger.BackerCountByTarget(scoped)

	entries := make([]model.LeaderboardEntry, 0, len(roster))
	seen := make(map[string]struct{}, len(roster))
	for _, p := range roster {
		if p.EventID != eventID {
			continue
		}
		if _, dup := seen[p.UserID]; dup {
			continue
		}
		seen[p.UserID] = struct{}{}
		entries = append(entries, model.LeaderboardEntry{
			SubjectID:   p.UserID,
			DisplayName: p.DisplayName,
			Score:       int64(counts[p.UserID]),
		})
	}
	return entries
}

func projectManaged(eventID string, managed []model.ManagedParticipant) []model.LeaderboardEntry {
	entries := make([]model.LeaderboardEntry, 0, len(managed))
	seen := make(map[string]struct{}, len(managed))
	for _, m := range managed {
		if m.EventID != eventID {
			continue
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		entries = append(entries, model.LeaderboardEntry{
			SubjectID:   m.ID,
			DisplayName: m.Name,
			Score:       m.Points,
		})
	}
	return entries
}

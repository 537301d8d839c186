package seed

import (
	"context"
	"fmt"
	"net/http"

	"github.com/okian/backr/internal/domain/ledger"
	"github.com/okian/backr/internal/domain/model"
	"github.com/okian/backr/pkg/logger"
)

// verify fetches every leaderboard and compares it with the expectation
// built from the writes the server acknowledged.
func (r *run) verify(ctx context.Context) error {
	var failed int
	for _, ev := range r.events {
		var b board
		status, err := r.client.do(ctx, http.MethodGet, "/events/"+ev.ID+"/leaderboard", "", nil, &b)
		if err == nil && status != http.StatusOK {
			err = fmt.Errorf("status %d", status)
		}
		if err == nil {
			err = checkOrder(b.Entries)
		}
		if err == nil {
			if ev.IsAdminOnly {
				err = checkScores(b.Entries, r.points[ev.ID])
			} else {
				err = r.checkBacked(ev, b.Entries)
			}
		}

		if err != nil {
			failed++
			r.log.Error(ctx, "leaderboard mismatch", logger.String("event_id", ev.ID), logger.String("title", ev.Title), logger.Error(err))
			continue
		}
		r.stats.LeaderboardsPassed++
		if r.cfg.Verbose && len(b.Entries) > 0 {
			top := b.Entries[0]
			r.log.Info(ctx, "leaderboard verified", logger.String("event_id", ev.ID), logger.String("leader", top.SubjectID), logger.Int64("score", top.Score))
		}
	}
	r.stats.LeaderboardsFailed = failed
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d events", ErrVerification, failed, len(r.events))
	}
	return nil
}

func (r *run) checkBacked(ev model.Event, entries []model.LeaderboardEntry) error {
	backings := r.accepted[ev.ID]

	perBacker := map[string]int{}
	for _, b := range backings {
		perBacker[b.BackerID]++
		if perBacker[b.BackerID] > ev.MaxBackingsPerUser {
			return fmt.Errorf("backer %s was accepted %d times with quota %d", b.BackerID, perBacker[b.BackerID], ev.MaxBackingsPerUser)
		}
	}

	counts := ledger.BackerCountByTarget(backings)
	want := make(map[string]int64, len(r.roster[ev.ID]))
	for userID := range r.roster[ev.ID] {
		want[userID] = int64(counts[userID])
	}
	return checkScores(entries, want)
}

// checkScores requires entries to hold exactly the subjects of want with the
// same scores.
func checkScores(entries []model.LeaderboardEntry, want map[string]int64) error {
	if len(entries) != len(want) {
		return fmt.Errorf("got %d entries, want %d", len(entries), len(want))
	}
	for _, e := range entries {
		score, ok := want[e.SubjectID]
		if !ok {
			return fmt.Errorf("unexpected subject %s", e.SubjectID)
		}
		if e.Score != score {
			return fmt.Errorf("subject %s has score %d, want %d", e.SubjectID, e.Score, score)
		}
	}
	return nil
}

// checkOrder requires dense positions and non-increasing scores.
func checkOrder(entries []model.LeaderboardEntry) error {
	for i, e := range entries {
		if e.Position != i+1 {
			return fmt.Errorf("entry %d has position %d", i, e.Position)
		}
		if i > 0 && e.Score > entries[i-1].Score {
			return fmt.Errorf("entry %d scores %d above entry %d", i, e.Score, i-1)
		}
	}
	return nil
}

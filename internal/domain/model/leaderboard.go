package model

// Tier marks the top three leaderboard positions.
type Tier string

// Tiers.
const (
	TierNone   Tier = ""
	TierFirst  Tier = "1st"
	TierSecond Tier = "2nd"
	TierThird  Tier = "3rd"
)

// TierFor returns the tier for a 1-based position.
func TierFor(position int) Tier {
	switch position {
	case 1:
		return TierFirst
	case 2:
		return TierSecond
	case 3:
		return TierThird
	default:
		return TierNone
	}
}

// LeaderboardEntry is one projected row.
type LeaderboardEntry struct {
	Position    int    `json:"position"`
	SubjectID   string `json:"subjectId"`
	DisplayName string `json:"displayName"`
	Score       int64  `json:"score"`
	Tier        Tier   `json:"tier,omitempty"`
}

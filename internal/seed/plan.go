package seed

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

// plan is everything a run will send, decided up front so a seed reproduces
// the same traffic.
type plan struct {
	users       []string
	events      []eventRequest
	adminEvents []adminEventRequest
	attempts    []attempt // per public event index
}

type attempt struct {
	event  int
	backer string
	target string
}

var teamNames = []string{"Harbor", "Summit", "Orchard", "Meridian", "Lantern", "Cascade"}

func newPlan(cfg *Config, rng *rand.Rand) *plan {
	p := &plan{users: make([]string, cfg.Users)}
	for i := range p.users {
		p.users[i] = uuid.NewString()
	}

	for i := 0; i < cfg.Events; i++ {
		p.events = append(p.events, eventRequest{
			Title:              fmt.Sprintf("Seed event %d", i+1),
			Description:        "generated by seed-events",
			Tag:                fmt.Sprintf("Seed%d", i+1),
			MaxBackingsPerUser: cfg.Quota,
		})
		for _, backer := range p.users {
			for n := 0; n < cfg.Attempts; n++ {
				p.attempts = append(p.attempts, attempt{
					event:  i,
					backer: backer,
					target: p.users[rng.IntN(len(p.users))],
				})
			}
		}
	}
	rng.Shuffle(len(p.attempts), func(i, j int) {
		p.attempts[i], p.attempts[j] = p.attempts[j], p.attempts[i]
	})

	for i := 0; i < cfg.AdminEvents; i++ {
		n := 2 + rng.IntN(len(teamNames)-1)
		p.adminEvents = append(p.adminEvents, adminEventRequest{
			Title:        fmt.Sprintf("Seed league %d", i+1),
			Description:  "generated by seed-events",
			Tag:          fmt.Sprintf("League%d", i+1),
			Participants: append([]string(nil), teamNames[:n]...),
		})
	}
	return p
}

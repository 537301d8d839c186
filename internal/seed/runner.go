package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/backr/internal/domain/model"
	"github.com/okian/backr/pkg/logger"
)

// ErrVerification is returned when at least one leaderboard disagrees with
// the writes the run observed.
var ErrVerification = errors.New("leaderboard verification failed")

const maxPoints = 100

// run carries the state shared by the phases of one seeding run.
type run struct {
	cfg    *Config
	client *client
	log    logger.Logger
	stats  *Stats
	rng    *rand.Rand

	mu       sync.Mutex
	events   []model.Event
	roster   map[string]map[string]struct{} // event id -> registered users
	accepted map[string][]model.Backing     // event id -> accepted backings
	points   map[string]map[string]int64    // admin event id -> participant id -> points

	failed atomic.Int64
}

// Run executes a complete seeding run and returns its statistics. The
// returned error wraps ErrVerification when a leaderboard mismatched.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if cfg.Users < 1 {
		return nil, errors.New("at least one user is required")
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	r := &run{
		cfg:      cfg,
		client:   newClient(cfg.BaseURL, cfg.Timeout),
		log:      logger.Get().Named("seed"),
		stats:    &Stats{StartTime: time.Now()},
		rng:      rand.New(rand.NewPCG(seed, seed>>1)),
		roster:   map[string]map[string]struct{}{},
		accepted: map[string][]model.Backing{},
		points:   map[string]map[string]int64{},
	}

	r.log.Info(ctx, "starting seed run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("users", cfg.Users),
		logger.Int("events", cfg.Events),
		logger.Int("adminEvents", cfg.AdminEvents),
		logger.Int("workers", cfg.Workers),
		logger.Any("seed", seed))

	if err := r.checkHealth(ctx); err != nil {
		return r.stats, fmt.Errorf("service health check failed: %w", err)
	}

	p := newPlan(cfg, r.rng)
	if err := r.createEvents(ctx, p); err != nil {
		return r.stats, fmt.Errorf("event creation failed: %w", err)
	}
	r.register(ctx, p)
	r.back(ctx, p)
	if err := r.scoreAdminEvents(ctx); err != nil {
		return r.stats, fmt.Errorf("points update failed: %w", err)
	}
	r.stats.RequestsFailed = int(r.failed.Load())

	verr := r.verify(ctx)

	r.stats.EndTime = time.Now()
	r.stats.Duration = r.stats.EndTime.Sub(r.stats.StartTime)
	r.logStats(ctx)
	return r.stats, verr
}

func (r *run) checkHealth(ctx context.Context) error {
	status, err := r.client.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unexpected status %d", status)
	}
	return nil
}

func (r *run) createEvents(ctx context.Context, p *plan) error {
	for i, in := range p.events {
		creator := p.users[i%len(p.users)]
		var ev model.Event
		status, err := r.client.do(ctx, http.MethodPost, "/events", creator, in, &ev)
		if err != nil || status != http.StatusCreated {
			return fmt.Errorf("create %q: status %d: %w", in.Title, status, err)
		}
		r.events = append(r.events, ev)
		r.roster[ev.ID] = map[string]struct{}{}
	}
	for i, in := range p.adminEvents {
		creator := p.users[i%len(p.users)]
		var resp adminEventResponse
		status, err := r.client.do(ctx, http.MethodPost, "/admin-events", creator, in, &resp)
		if err != nil || status != http.StatusCreated {
			return fmt.Errorf("create %q: status %d: %w", in.Title, status, err)
		}
		r.events = append(r.events, resp.Event)
		scores := make(map[string]int64, len(resp.Participants))
		for _, mp := range resp.Participants {
			scores[mp.ID] = 0
		}
		r.points[resp.Event.ID] = scores
	}
	r.stats.EventsCreated = len(r.events)
	return nil
}

type registration struct {
	eventID string
	userID  string
}

func (r *run) register(ctx context.Context, p *plan) {
	var jobs []registration
	for i := range p.events {
		for _, u := range p.users {
			jobs = append(jobs, registration{eventID: r.events[i].ID, userID: u})
		}
	}

	var ok atomic.Int64
	fanOut(ctx, r.cfg.Workers, jobs, func(ctx context.Context, j registration) {
		status, err := r.client.do(ctx, http.MethodPost, "/events/"+j.eventID+"/participations", j.userID, nil, nil)
		switch classify(status, err) {
		case outcomeAccepted, outcomeDuplicate:
			ok.Add(1)
			r.mu.Lock()
			r.roster[j.eventID][j.userID] = struct{}{}
			r.mu.Unlock()
		default:
			r.failed.Add(1)
			r.log.Warn(ctx, "registration failed", logger.String("event_id", j.eventID), logger.Int("status", status), logger.Error(err))
		}
	})
	r.stats.Registrations = int(ok.Load())
}

func (r *run) back(ctx context.Context, p *plan) {
	var accepted, duplicate, rejected atomic.Int64
	fanOut(ctx, r.cfg.Workers, p.attempts, func(ctx context.Context, a attempt) {
		eventID := r.events[a.event].ID
		var resp backingResponse
		status, err := r.client.do(ctx, http.MethodPost, "/events/"+eventID+"/backings", a.backer, backRequest{TargetUserID: a.target}, &resp)
		switch classify(status, err) {
		case outcomeAccepted:
			accepted.Add(1)
			r.mu.Lock()
			r.accepted[eventID] = append(r.accepted[eventID], resp.Backing)
			r.mu.Unlock()
		case outcomeDuplicate:
			duplicate.Add(1)
		case outcomeRejected:
			rejected.Add(1)
		default:
			r.failed.Add(1)
			r.log.Warn(ctx, "backing failed", logger.String("event_id", eventID), logger.Int("status", status), logger.Error(err))
			return
		}
		if r.cfg.Verbose {
			r.log.Debug(ctx, "backing", logger.String("event_id", eventID), logger.String("backer", a.backer), logger.String("target", a.target), logger.Int("status", status))
		}
	})
	r.stats.BackingsAccepted = int(accepted.Load())
	r.stats.BackingsDuplicate = int(duplicate.Load())
	r.stats.BackingsRejected = int(rejected.Load())
}

func (r *run) scoreAdminEvents(ctx context.Context) error {
	for _, ev := range r.events {
		scores, ok := r.points[ev.ID]
		if !ok {
			continue
		}
		for id := range scores {
			pts := r.rng.Int64N(maxPoints + 1)
			path := "/events/" + ev.ID + "/managed-participants/" + id + "/points"
			status, err := r.client.do(ctx, http.MethodPut, path, ev.CreatorID, pointsRequest{Points: pts}, nil)
			if err != nil || status != http.StatusOK {
				return fmt.Errorf("set points of %s: status %d: %w", id, status, err)
			}
			scores[id] = pts
			r.stats.PointsUpdated++
		}
	}
	return nil
}

func (r *run) logStats(ctx context.Context) {
	s := r.stats
	var perSecond float64
	if s.Duration > 0 {
		perSecond = float64(s.Registrations+s.BackingsAccepted+s.BackingsDuplicate+s.BackingsRejected) / s.Duration.Seconds()
	}
	r.log.Info(ctx, "final statistics",
		logger.Int("eventsCreated", s.EventsCreated),
		logger.Int("registrations", s.Registrations),
		logger.Int("backingsAccepted", s.BackingsAccepted),
		logger.Int("backingsDuplicate", s.BackingsDuplicate),
		logger.Int("backingsRejected", s.BackingsRejected),
		logger.Int("requestsFailed", s.RequestsFailed),
		logger.Int("pointsUpdated", s.PointsUpdated),
		logger.Int("leaderboardsPassed", s.LeaderboardsPassed),
		logger.Int("leaderboardsFailed", s.LeaderboardsFailed),
		logger.Duration("duration", s.Duration),
		logger.Float64("requestsPerSecond", perSecond))
}

// fanOut runs fn for every item on workers goroutines and waits for them.
func fanOut[T any](ctx context.Context, workers int, items []T, fn func(context.Context, T)) {
	if workers < 1 {
		workers = 1
	}
	ch := make(chan T, workers*2)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range ch {
				if ctx.Err() != nil {
					continue
				}
				fn(ctx, item)
			}
		}()
	}

	defer wg.Wait()
	defer close(ch)
	for _, item := range items {
		select {
		case <-ctx.Done():
			return
		case ch <- item:
		}
	}
}

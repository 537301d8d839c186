// Package service wires the domain rules to the document store. It is the
// only place that reads collections, runs the ledger, roster and projector,
// and writes the results back.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/backr/internal/adapters/directory"
	workerpool "github.com/okian/backr/internal/adapters/mq/worker"
	repository "github.com/okian/backr/internal/adapters/repository"
	"github.com/okian/backr/internal/adapters/repository/memory"
	"github.com/okian/backr/internal/adapters/session"
	"github.com/okian/backr/internal/domain/dedupe"
	"github.com/okian/backr/internal/domain/eventcfg"
	"github.com/okian/backr/internal/domain/ledger"
	"github.com/okian/backr/internal/domain/model"
	"github.com/okian/backr/internal/domain/projector"
	"github.com/okian/backr/internal/domain/roster"
	"github.com/okian/backr/pkg/logger"
	"github.com/okian/backr/pkg/metrics"
)

const (
	defaultQueueSize        = 1024
	defaultDedupeSize       = 50000
	defaultDebounce         = 25 * time.Millisecond
	defaultReconnectBackoff = 500 * time.Millisecond
	defaultMaxSearchResults = 50
	defaultToggleRetries    = 3
)

// Service implements the operations exposed over HTTP.
type Service struct {
	mu sync.RWMutex

	store     repository.Store
	directory directory.Resolver
	deduper   dedupe.Deduper
	pool      *workerpool.Pool
	views     *Coordinator
	backLocks *keyedMutex

	workerCount      int
	queueSize        int
	dedupeSize       int
	debounce         time.Duration
	reconnectBackoff time.Duration
	maxSearchResults int
	toggleRetries    int
	now              func() time.Time
	newID            func() string

	started bool
	cancel  context.CancelFunc

	logger logger.Logger
}

// EventInput is the caller's payload for a public event.
type EventInput struct {
	Title              string `json:"title"`
	Description        string `json:"description"`
	Tag                string `json:"tag"`
	MaxBackingsPerUser int    `json:"maxBackingsPerUser"`
}

// AdminEventInput is the caller's payload for an admin-only event.
type AdminEventInput struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Tag          string   `json:"tag"`
	Participants []string `json:"participants"`
}

// EventSummary is one search hit.
type EventSummary struct {
	model.Event
	Participants int `json:"participants"`
}

// ToggleReceipt acknowledges an accepted toggle command.
type ToggleReceipt struct {
	CommandID string            `json:"commandId"`
	EventID   string            `json:"eventId"`
	Field     model.ToggleField `json:"field"`
	Value     bool              `json:"value"`
	Duplicate bool              `json:"duplicate"`
}

// Board is a one-shot projection of an event.
type Board struct {
	Event   model.Event              `json:"event"`
	Entries []model.LeaderboardEntry `json:"entries"`
	Viewer  projector.ViewerState    `json:"viewer"`
}

// UserStats summarises one user's activity across all events.
type UserStats struct {
	UserID          string `json:"userId"`
	EventsCreated   int    `json:"eventsCreated"`
	EventsJoined    int    `json:"eventsJoined"`
	BackingsGiven   int    `json:"backingsGiven"`
	BackersReceived int    `json:"backersReceived"`
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:      runtime.NumCPU(),
		queueSize:        defaultQueueSize,
		dedupeSize:       defaultDedupeSize,
		debounce:         defaultDebounce,
		reconnectBackoff: defaultReconnectBackoff,
		maxSearchResults: defaultMaxSearchResults,
		toggleRetries:    defaultToggleRetries,
		now:              time.Now,
		newID:            uuid.NewString,
		backLocks:        newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start creates the missing collaborators and starts the toggle workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting backr service...")

	if s.store == nil {
		store, err := memory.New(memory.WithLogger(s.logger.Named("memory_store")))
		if err != nil {
			return fmt.Errorf("open memory store: %w", err)
		}
		s.store = store
		s.logger.Info(ctx, "using in-memory store")
	}
	if s.directory == nil {
		s.directory = directory.NewStatic(nil)
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.views = NewCoordinator(s.store,
		WithCoordinatorDebounce(s.debounce),
		WithCoordinatorBackoff(s.reconnectBackoff),
		WithCoordinatorLogger(s.logger.Named("coordinator")),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool = workerpool.NewPool(workerpool.ApplierFunc(s.applyToggle),
		workerpool.WithWorkerCount(s.workerCount),
		workerpool.WithQueueCapacity(s.queueSize),
		workerpool.WithPoolLogger(s.logger.Named("worker-pool")),
		workerpool.WithWorkerOptions(workerpool.WithRetries(s.toggleRetries)),
	)
	s.pool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "backr service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Duration("debounce", s.debounce),
	)
	return nil
}

// Stop drains pending toggle commands, closes open views and the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping backr service...")

	var errs []error
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	s.cancel()
	s.views.Close()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "backr service stopped")
	return errors.Join(errs...)
}

// CloseViews ends every open view and refuses new ones. Streams reading a
// view see its Updates channel close and return.
func (s *Service) CloseViews() {
	s.mu.RLock()
	views := s.views
	s.mu.RUnlock()
	if views != nil {
		views.Close()
	}
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

// CreateEvent validates in and stores a public event owned by callerID.
func (s *Service) CreateEvent(ctx context.Context, callerID string, in EventInput) (model.Event, error) {
	if err := s.ready(); err != nil {
		return model.Event{}, err
	}
	event, err := eventcfg.CreateEvent(s.newID(), eventcfg.Config{
		Title:              in.Title,
		Description:        in.Description,
		Tag:                in.Tag,
		MaxBackingsPerUser: in.MaxBackingsPerUser,
		CreatorID:          callerID,
		CreatorName:        directory.DisplayName(ctx, s.directory, callerID),
	}, s.now())
	if err != nil {
		return model.Event{}, err
	}
	doc, _, err := s.store.Create(ctx, repository.CollectionEvents, event.ID, eventFields(event))
	if err != nil {
		return model.Event{}, err
	}

	metrics.RecordEventCreated("public")
	s.logger.Info(ctx, "event created",
		logger.String("event_id", event.ID),
		logger.String("creator_id", callerID),
		logger.Int("max_backings", event.MaxBackingsPerUser),
	)
	return eventFromDoc(doc), nil
}

// CreateAdminEvent stores an admin-only event and seeds its managed
// participants with zero points.
func (s *Service) CreateAdminEvent(ctx context.Context, callerID string, in AdminEventInput) (model.Event, []model.ManagedParticipant, error) {
	if err := s.ready(); err != nil {
		return model.Event{}, nil, err
	}
	now := s.now()
	event, names, err := eventcfg.CreateAdminEvent(s.newID(), eventcfg.AdminConfig{
		Title:        in.Title,
		Description:  in.Description,
		Tag:          in.Tag,
		CreatorID:    callerID,
		CreatorName:  directory.DisplayName(ctx, s.directory, callerID),
		Participants: in.Participants,
	}, now)
	if err != nil {
		return model.Event{}, nil, err
	}
	doc, _, err := s.store.Create(ctx, repository.CollectionEvents, event.ID, eventFields(event))
	if err != nil {
		return model.Event{}, nil, err
	}

	managed := make([]model.ManagedParticipant, 0, len(names))
	for _, name := range names {
		m, err := s.createManaged(ctx, event.ID, name, now)
		if err != nil {
			return model.Event{}, nil, err
		}
		managed = append(managed, m)
	}

	metrics.RecordEventCreated("admin")
	s.logger.Info(ctx, "admin event created",
		logger.String("event_id", event.ID),
		logger.String("creator_id", callerID),
		logger.Int("participants", len(managed)),
	)
	return eventFromDoc(doc), managed, nil
}

// GetEvent loads one event.
func (s *Service) GetEvent(ctx context.Context, eventID string) (model.Event, error) {
	if err := s.ready(); err != nil {
		return model.Event{}, err
	}
	return s.loadEvent(ctx, eventID)
}

func (s *Service) loadEvent(ctx context.Context, eventID string) (model.Event, error) {
	doc, err := s.store.Get(ctx, repository.CollectionEvents, eventID)
	if err != nil {
		return model.Event{}, err
	}
	return eventFromDoc(doc), nil
}

// SearchEvents matches term case-insensitively against title, creator name
// and tag. An empty term lists every event. Results are newest first.
func (s *Service) SearchEvents(ctx context.Context, term string) ([]EventSummary, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	docs, err := s.store.List(ctx, repository.CollectionEvents, nil)
	if err != nil {
		return nil, err
	}

	term = strings.ToLower(strings.TrimSpace(term))
	term = strings.TrimPrefix(term, "#")
	hits := make([]repository.Document, 0, len(docs))
	for _, d := range docs {
		if term == "" ||
			strings.Contains(strings.ToLower(d.String(fieldTitle)), term) ||
			strings.Contains(strings.ToLower(d.String(fieldCreatorName)), term) ||
			strings.Contains(d.String(fieldTagLower), term) {
			hits = append(hits, d)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		ti, tj := hits[i].Int(fieldCreatedAt), hits[j].Int(fieldCreatedAt)
		if ti != tj {
			return ti > tj
		}
		return hits[i].Seq > hits[j].Seq
	})
	if len(hits) > s.maxSearchResults {
		hits = hits[:s.maxSearchResults]
	}

	out := make([]EventSummary, 0, len(hits))
	for _, d := range hits {
		n, err := s.store.Count(ctx, repository.CollectionParticipations, byEvent(d.ID))
		if err != nil {
			return nil, err
		}
		out = append(out, EventSummary{Event: eventFromDoc(d), Participants: n})
	}
	return out, nil
}

// Register adds userID to the event roster. A repeated registration returns
// the stored participation with model.ErrDuplicate.
func (s *Service) Register(ctx context.Context, eventID, userID string) (p model.Participation, err error) {
	defer func() { metrics.RecordRegistration(outcome(err)) }()

	if err := s.ready(); err != nil {
		return model.Participation{}, err
	}
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return model.Participation{}, err
	}
	docs, err := s.store.List(ctx, repository.CollectionParticipations, byEvent(eventID))
	if err != nil {
		return model.Participation{}, err
	}

	p, err = roster.Register(event, userID, directory.DisplayName(ctx, s.directory, userID), participationsFromDocs(docs), s.now())
	if err != nil {
		return p, err
	}

	doc, created, err := s.store.Create(ctx, repository.CollectionParticipations, p.Key(), participationFields(p))
	if err != nil {
		return model.Participation{}, err
	}
	if !created {
		return participationFromDoc(doc), model.NewError("service.register", model.ErrDuplicate, "")
	}

	s.logger.Debug(ctx, "participant registered",
		logger.String("event_id", eventID),
		logger.String("user_id", p.UserID),
	)
	return participationFromDoc(doc), nil
}

// Back records backerID's backing of targetUserID. Attempts by the same
// backer on the same event are serialized so the quota check and the write
// cannot interleave. A repeated backing returns the stored one with
// model.ErrDuplicate.
func (s *Service) Back(ctx context.Context, eventID, backerID, targetUserID string) (b model.Backing, err error) {
	defer func() { metrics.RecordBackingAttempt(outcome(err)) }()

	if err := s.ready(); err != nil {
		return model.Backing{}, err
	}
	// Ids are normalized before the quota lock is taken.
	backerID = strings.TrimSpace(backerID)
	targetUserID = strings.TrimSpace(targetUserID)
	unlock := s.backLocks.Lock(eventID + "\x00" + backerID)
	defer unlock()

	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return model.Backing{}, err
	}
	rosterDocs, err := s.store.List(ctx, repository.CollectionParticipations, byEvent(eventID))
	if err != nil {
		return model.Backing{}, err
	}
	backingDocs, err := s.store.List(ctx, repository.CollectionBackings, repository.Filter{
		fieldEventID:  eventID,
		fieldBackerID: backerID,
	})
	if err != nil {
		return model.Backing{}, err
	}

	b, err = ledger.AttemptBack(event, backerID, targetUserID, participationsFromDocs(rosterDocs), backingsFromDocs(backingDocs), s.now())
	if err != nil {
		return b, err
	}

	doc, created, err := s.store.Create(ctx, repository.CollectionBackings, b.Key(), backingFields(b))
	if err != nil {
		return model.Backing{}, err
	}
	if !created {
		return backingFromDoc(doc), model.NewError("service.back", model.ErrDuplicate, "")
	}

	s.logger.Debug(ctx, "backing recorded",
		logger.String("event_id", eventID),
		logger.String("backer_id", b.BackerID),
		logger.String("target_id", b.TargetUserID),
	)
	return backingFromDoc(doc), nil
}

// SetToggle checks that callerID may change field, queues the write on the
// event's worker and waits until it has been applied, so the next operation
// on the event sees the new value. Commands for one event are applied in
// acceptance order. A non-empty idempotencyKey makes retries return the first
// receipt instead of writing again.
func (s *Service) SetToggle(ctx context.Context, eventID string, field model.ToggleField, value bool, callerID, idempotencyKey string) (ToggleReceipt, error) {
	if err := s.ready(); err != nil {
		return ToggleReceipt{}, err
	}
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return ToggleReceipt{}, err
	}
	if _, err := eventcfg.SetToggle(event, field, value, callerID); err != nil {
		metrics.RecordToggleCommand(outcome(err))
		return ToggleReceipt{}, err
	}

	receipt := ToggleReceipt{CommandID: s.newID(), EventID: eventID, Field: field, Value: value}
	dedupeKey := ""
	if idempotencyKey != "" {
		dedupeKey = eventID + ":" + idempotencyKey
		if prior, seen := s.deduper.SeenAndRecord(ctx, dedupeKey, receipt.CommandID); seen {
			receipt.CommandID = prior
			receipt.Duplicate = true
			return receipt, nil
		}
	}
	forget := func() {
		if dedupeKey != "" {
			s.deduper.Unrecord(ctx, dedupeKey)
		}
	}

	cmd := model.ToggleCommand{
		ID:       receipt.CommandID,
		EventID:  eventID,
		Field:    field,
		Value:    value,
		CallerID: callerID,
		Accepted: s.now(),
	}
	done, ok := s.pool.Submit(ctx, cmd)
	if !ok {
		forget()
		s.logger.Warn(ctx, "toggle queue full",
			logger.String("event_id", eventID),
			logger.Int64("pending", s.pool.Pending()),
		)
		return ToggleReceipt{}, ErrBackpressure
	}

	select {
	case err := <-done:
		if err != nil {
			forget()
			if errors.Is(err, workerpool.ErrPoolClosed) {
				return ToggleReceipt{}, ErrNotStarted
			}
			return ToggleReceipt{}, err
		}
		return receipt, nil
	case <-ctx.Done():
		return ToggleReceipt{}, model.WrapError("service.set_toggle", model.ErrTransport, ctx.Err())
	}
}

// applyToggle is run by the worker pool. The creator check is repeated
// against the stored event before writing.
func (s *Service) applyToggle(ctx context.Context, cmd model.ToggleCommand) error {
	event, err := s.loadEvent(ctx, cmd.EventID)
	if err != nil {
		return err
	}
	if _, err := eventcfg.SetToggle(event, cmd.Field, cmd.Value, cmd.CallerID); err != nil {
		return err
	}
	if _, err := s.store.Put(ctx, repository.CollectionEvents, cmd.EventID, map[string]any{string(cmd.Field): cmd.Value}); err != nil {
		return err
	}
	s.logger.Info(ctx, "toggle applied",
		logger.String("command_id", cmd.ID),
		logger.String("event_id", cmd.EventID),
		logger.String("field", string(cmd.Field)),
		logger.Bool("value", cmd.Value),
	)
	return nil
}

// PendingToggles reports accepted toggle commands not yet applied.
func (s *Service) PendingToggles() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return 0
	}
	return s.pool.Pending()
}

// AddManagedParticipant adds a named entry to an admin-only event.
func (s *Service) AddManagedParticipant(ctx context.Context, eventID, name, callerID string) (model.ManagedParticipant, error) {
	if err := s.ready(); err != nil {
		return model.ManagedParticipant{}, err
	}
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return model.ManagedParticipant{}, err
	}
	if err := eventcfg.AuthorizeManage(event, callerID); err != nil {
		return model.ManagedParticipant{}, err
	}
	name, err = eventcfg.ValidateParticipantName(name)
	if err != nil {
		return model.ManagedParticipant{}, err
	}
	return s.createManaged(ctx, eventID, name, s.now())
}

func (s *Service) createManaged(ctx context.Context, eventID, name string, now time.Time) (model.ManagedParticipant, error) {
	m := model.ManagedParticipant{
		ID:        s.newID(),
		EventID:   eventID,
		Name:      name,
		CreatedAt: now.UTC(),
	}
	doc, _, err := s.store.Create(ctx, repository.CollectionManagedParticipants, m.ID, managedFields(m))
	if err != nil {
		return model.ManagedParticipant{}, err
	}
	return managedFromDoc(doc), nil
}

// SetPoints overwrites the score of a managed participant.
func (s *Service) SetPoints(ctx context.Context, eventID, participantID string, points int64, callerID string) (model.ManagedParticipant, error) {
	const op = "service.set_points"
	if err := s.ready(); err != nil {
		return model.ManagedParticipant{}, err
	}
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return model.ManagedParticipant{}, err
	}
	if err := eventcfg.AuthorizeManage(event, callerID); err != nil {
		return model.ManagedParticipant{}, err
	}
	doc, err := s.store.Get(ctx, repository.CollectionManagedParticipants, participantID)
	if err != nil {
		return model.ManagedParticipant{}, err
	}
	if doc.String(fieldEventID) != eventID {
		return model.ManagedParticipant{}, model.NewError(op, model.ErrNotFound, "participant %s is not part of event %s", participantID, eventID)
	}
	doc, err = s.store.Put(ctx, repository.CollectionManagedParticipants, participantID, map[string]any{fieldPoints: points})
	if err != nil {
		return model.ManagedParticipant{}, err
	}

	metrics.RecordPointsUpdate()
	s.logger.Debug(ctx, "points updated",
		logger.String("event_id", eventID),
		logger.String("participant_id", participantID),
		logger.Int64("points", points),
	)
	return managedFromDoc(doc), nil
}

// Leaderboard projects the event once from fresh snapshots.
func (s *Service) Leaderboard(ctx context.Context, eventID, viewerID string) (Board, error) {
	if err := s.ready(); err != nil {
		return Board{}, err
	}
	event, err := s.loadEvent(ctx, eventID)
	if err != nil {
		return Board{}, err
	}

	var (
		participants []model.Participation
		backings     []model.Backing
		managed      []model.ManagedParticipant
	)
	if event.IsAdminOnly {
		docs, err := s.store.List(ctx, repository.CollectionManagedParticipants, byEvent(eventID))
		if err != nil {
			return Board{}, err
		}
		managed = managedFromDocs(docs)
	} else {
		rosterDocs, err := s.store.List(ctx, repository.CollectionParticipations, byEvent(eventID))
		if err != nil {
			return Board{}, err
		}
		backingDocs, err := s.store.List(ctx, repository.CollectionBackings, byEvent(eventID))
		if err != nil {
			return Board{}, err
		}
		participants = participationsFromDocs(rosterDocs)
		backings = backingsFromDocs(backingDocs)
	}

	start := time.Now()
	entries := projector.Project(event, participants, backings, managed)
	metrics.RecordProjection(float64(time.Since(start).Microseconds()) / 1000)

	return Board{
		Event:   event,
		Entries: entries,
		Viewer:  projector.Viewer(event, participants, backings, viewerID),
	}, nil
}

// OpenView starts a live view of eventID for the identity reported by who.
// The view ends when ctx is done or Close is called.
func (s *Service) OpenView(ctx context.Context, eventID string, who session.Provider) (*View, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := s.loadEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.views.Open(ctx, eventID, who)
}

// UserStats counts userID's activity with the store's Count aggregate.
func (s *Service) UserStats(ctx context.Context, userID string) (UserStats, error) {
	if err := s.ready(); err != nil {
		return UserStats{}, err
	}
	if strings.TrimSpace(userID) == "" {
		return UserStats{}, model.NewError("service.user_stats", model.ErrValidation, "user id is required")
	}

	stats := UserStats{UserID: userID}
	counts := []struct {
		dst        *int
		collection string
		filter     repository.Filter
	}{
		{&stats.EventsCreated, repository.CollectionEvents, repository.Filter{fieldCreatorID: userID}},
		{&stats.EventsJoined, repository.CollectionParticipations, repository.Filter{fieldUserID: userID}},
		{&stats.BackingsGiven, repository.CollectionBackings, repository.Filter{fieldBackerID: userID}},
		{&stats.BackersReceived, repository.CollectionBackings, repository.Filter{fieldTargetUserID: userID}},
	}
	for _, c := range counts {
		n, err := s.store.Count(ctx, c.collection, c.filter)
		if err != nil {
			return UserStats{}, err
		}
		*c.dst = n
	}
	return stats, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
		"debounceMs":  s.debounce.Milliseconds(),
	}
	if s.started {
		stats["pendingToggles"] = s.pool.Pending()
		stats["appliedToggles"] = s.pool.Completed()
		stats["failedToggles"] = s.pool.Failed()
		stats["idempotencyKeys"] = s.deduper.Size()
		stats["activeViews"] = s.views.Active()
		stats["lockedBackers"] = s.backLocks.len()
	}
	return stats
}

// outcome labels err for metrics.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch model.KindOf(err) {
	case model.ErrValidation:
		return "validation"
	case model.ErrAuthorization:
		return "unauthorized"
	case model.ErrDisabled:
		return "disabled"
	case model.ErrDuplicate:
		return "duplicate"
	case model.ErrQuotaExceeded:
		return "quota_exceeded"
	case model.ErrUnknownTarget:
		return "unknown_target"
	case model.ErrTransport:
		return "transport"
	case model.ErrNotFound:
		return "not_found"
	default:
		return "error"
	}
}

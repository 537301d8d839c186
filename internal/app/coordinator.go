package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	repository "github.com/okian/backr/internal/adapters/repository"
	"github.com/okian/backr/internal/adapters/session"
	"github.com/okian/backr/internal/domain/model"
	"github.com/okian/backr/internal/domain/projector"
	"github.com/okian/backr/pkg/logger"
	"github.com/okian/backr/pkg/metrics"
)

const maxReconnectBackoff = 10 * time.Second

// ViewState is the lifecycle of a live view.
type ViewState string

// View states.
const (
	ViewIdle    ViewState = "idle"
	ViewLoading ViewState = "loading"
	ViewLive    ViewState = "live"
	ViewError   ViewState = "error"
)

// ViewSnapshot is what a live view publishes. In ViewLoading and ViewError
// the entries are the last good projection and Stale is set when they predate
// the failure.
type ViewSnapshot struct {
	EventID  string                   `json:"eventId"`
	State    ViewState                `json:"state"`
	Stale    bool                     `json:"stale"`
	Event    model.Event              `json:"event"`
	Entries  []model.LeaderboardEntry `json:"entries"`
	Viewer   projector.ViewerState    `json:"viewer"`
	Error    string                   `json:"error,omitempty"`
	Revision int64                    `json:"revision"`
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorDebounce sets how long snapshot bursts are coalesced before
// re-projecting. Zero projects on every snapshot.
func WithCoordinatorDebounce(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d >= 0 {
			c.debounce = d
		}
	}
}

// WithCoordinatorBackoff sets the first resubscribe delay after a failure.
// It doubles on every consecutive failure.
func WithCoordinatorBackoff(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.backoff = d
		}
	}
}

// WithCoordinatorLogger sets the coordinator logger.
func WithCoordinatorLogger(l logger.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// Coordinator opens live views over the document store.
type Coordinator struct {
	store    repository.Store
	debounce time.Duration
	backoff  time.Duration
	logger   logger.Logger

	mu     sync.Mutex
	views  map[*View]struct{}
	closed bool
}

// NewCoordinator creates a coordinator reading from store.
func NewCoordinator(store repository.Store, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:    store,
		debounce: defaultDebounce,
		backoff:  defaultReconnectBackoff,
		views:    make(map[*View]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("coordinator")
	}
	return c
}

// Open starts a view of eventID. who supplies the viewer identity; when it is
// a session.Watcher the viewer state follows identity changes. who may be nil
// for an anonymous view.
func (c *Coordinator) Open(ctx context.Context, eventID string, who session.Provider) (*View, error) {
	viewCtx, cancel := context.WithCancel(ctx)
	v := &View{
		eventID: eventID,
		updates: make(chan ViewSnapshot, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	v.latest.Store(&ViewSnapshot{EventID: eventID, State: ViewIdle, Entries: []model.LeaderboardEntry{}})

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil, ErrCoordinatorClosed
	}
	c.views[v] = struct{}{}
	c.mu.Unlock()
	metrics.AddActiveViews(1)

	l := &viewLoop{
		c:       c,
		v:       v,
		eventID: eventID,
		who:     who,
		state:   ViewIdle,
		entries: []model.LeaderboardEntry{},
		viewer:  projector.Viewer(model.Event{}, nil, nil, ""),
		logger:  c.logger.With(logger.String("event_id", eventID)),
	}
	if who != nil {
		l.viewerID, _ = who.CurrentUserID(ctx)
	}
	go l.run(viewCtx)
	return v, nil
}

// Active returns the number of open views.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.views)
}

// Close ends every view and rejects new ones.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	views := make([]*View, 0, len(c.views))
	for v := range c.views {
		views = append(views, v)
	}
	c.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}

func (c *Coordinator) remove(v *View) {
	c.mu.Lock()
	delete(c.views, v)
	c.mu.Unlock()
	metrics.AddActiveViews(-1)
}

// View is a live, self-updating projection of one event.
type View struct {
	eventID string
	updates chan ViewSnapshot
	latest  atomic.Pointer[ViewSnapshot]
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Updates delivers snapshots. Only the newest unread snapshot is kept. The
// channel is closed when the view ends.
func (v *View) Updates() <-chan ViewSnapshot { return v.updates }

// Current returns the most recently published snapshot.
func (v *View) Current() ViewSnapshot { return *v.latest.Load() }

// Done is closed once the view has released its subscriptions.
func (v *View) Done() <-chan struct{} { return v.done }

// Close cancels the view and waits until it has unsubscribed everything.
func (v *View) Close() {
	v.once.Do(v.cancel)
	<-v.done
}

// Streams of one view.
const (
	streamEvent = iota
	streamRoster
	streamLedger
	streamManaged
	streamCount
)

var streamCollections = [streamCount]string{
	streamEvent:   repository.CollectionEvents,
	streamRoster:  repository.CollectionParticipations,
	streamLedger:  repository.CollectionBackings,
	streamManaged: repository.CollectionManagedParticipants,
}

// viewLoop holds every piece of a view's state. Only run touches it.
type viewLoop struct {
	c       *Coordinator
	v       *View
	eventID string
	who     session.Provider
	logger  logger.Logger

	subs [streamCount]repository.Subscription
	seen [streamCount]bool

	state        ViewState
	viewerID     string
	event        model.Event
	participants []model.Participation
	backings     []model.Backing
	managed      []model.ManagedParticipant
	entries      []model.LeaderboardEntry
	viewer       projector.ViewerState
	haveGood     bool
	stale        bool
	lastErr      error
	revision     int64

	debounceC <-chan time.Time
	retryC    <-chan time.Time
	backoff   time.Duration
}

func (l *viewLoop) run(ctx context.Context) {
	defer func() {
		l.unsubscribe()
		select {
		case <-l.v.updates:
		default:
		}
		close(l.v.updates)
		l.c.remove(l.v)
		close(l.v.done)
	}()

	var identity <-chan string
	if w, ok := l.who.(session.Watcher); ok {
		identity = w.Watch(ctx)
	}

	l.backoff = l.c.backoff
	l.connect(ctx)

	for {
		select {
		case <-ctx.Done():
			return

		case docs := <-l.snapshots(streamEvent):
			l.seen[streamEvent] = len(docs) > 0
			if len(docs) > 0 {
				l.event = eventFromDoc(docs[0])
			}
			l.schedule()
		case docs := <-l.snapshots(streamRoster):
			l.seen[streamRoster] = true
			l.participants = participationsFromDocs(docs)
			l.schedule()
		case docs := <-l.snapshots(streamLedger):
			l.seen[streamLedger] = true
			l.backings = backingsFromDocs(docs)
			l.schedule()
		case docs := <-l.snapshots(streamManaged):
			l.seen[streamManaged] = true
			l.managed = managedFromDocs(docs)
			l.schedule()

		case err := <-l.errs(streamEvent):
			l.fail(err)
		case err := <-l.errs(streamRoster):
			l.fail(err)
		case err := <-l.errs(streamLedger):
			l.fail(err)
		case err := <-l.errs(streamManaged):
			l.fail(err)

		case id, ok := <-identity:
			if !ok {
				identity = nil
				continue
			}
			l.viewerID = id
			l.schedule()

		case <-l.debounceC:
			l.debounceC = nil
			l.project()

		case <-l.retryC:
			l.retryC = nil
			l.connect(ctx)
		}
	}
}

// connect (re)subscribes every stream and enters Loading.
func (l *viewLoop) connect(ctx context.Context) {
	l.seen = [streamCount]bool{}
	l.transition(ViewLoading)
	l.publish()

	filters := [streamCount]repository.Filter{
		streamEvent:   {repository.KeyID: l.eventID},
		streamRoster:  byEvent(l.eventID),
		streamLedger:  byEvent(l.eventID),
		streamManaged: byEvent(l.eventID),
	}
	for i := range l.subs {
		sub, err := l.c.store.Subscribe(ctx, streamCollections[i], filters[i])
		if err != nil {
			if ctx.Err() == nil {
				l.fail(err)
			}
			return
		}
		l.subs[i] = sub
	}
}

func (l *viewLoop) unsubscribe() {
	for i, sub := range l.subs {
		if sub != nil {
			sub.Close()
			l.subs[i] = nil
		}
	}
}

func (l *viewLoop) snapshots(i int) <-chan []repository.Document {
	if l.subs[i] == nil {
		return nil
	}
	return l.subs[i].Snapshots()
}

func (l *viewLoop) errs(i int) <-chan error {
	if l.subs[i] == nil {
		return nil
	}
	return l.subs[i].Err()
}

func (l *viewLoop) schedule() {
	if l.state == ViewError {
		return
	}
	if l.c.debounce == 0 {
		l.project()
		return
	}
	if l.debounceC == nil {
		l.debounceC = time.After(l.c.debounce)
	}
}

func (l *viewLoop) ready() bool {
	if !l.seen[streamEvent] {
		return false
	}
	if l.event.IsAdminOnly {
		return l.seen[streamManaged]
	}
	return l.seen[streamRoster] && l.seen[streamLedger]
}

func (l *viewLoop) project() {
	if l.state == ViewError || !l.ready() {
		return
	}

	start := time.Now()
	if l.event.IsAdminOnly {
		l.entries = projector.Project(l.event, nil, nil, l.managed)
		l.viewer = projector.Viewer(l.event, nil, nil, l.viewerID)
	} else {
		l.entries = projector.Project(l.event, l.participants, l.backings, nil)
		l.viewer = projector.Viewer(l.event, l.participants, l.backings, l.viewerID)
	}
	metrics.RecordProjection(float64(time.Since(start).Microseconds()) / 1000)

	l.haveGood = true
	l.stale = false
	l.lastErr = nil
	l.backoff = l.c.backoff
	l.transition(ViewLive)
	l.publish()
}

// fail drops every stream, keeps the last good projection marked stale and
// schedules a reconnect.
func (l *viewLoop) fail(err error) {
	l.unsubscribe()
	l.debounceC = nil
	l.lastErr = err
	l.stale = l.haveGood
	l.transition(ViewError)
	l.publish()

	l.logger.Warn(context.Background(), "view stream failed",
		logger.Error(err),
		logger.Duration("retry_in", l.backoff),
	)
	l.retryC = time.After(l.backoff)
	l.backoff = min(l.backoff*2, maxReconnectBackoff)
}

func (l *viewLoop) transition(to ViewState) {
	if l.state == to {
		return
	}
	l.logger.Debug(context.Background(), "view state changed",
		logger.String("from", string(l.state)),
		logger.String("to", string(to)),
	)
	l.state = to
	metrics.RecordViewTransition(string(to))
}

// publish replaces any unread snapshot. run is the only sender.
func (l *viewLoop) publish() {
	l.revision++
	snap := ViewSnapshot{
		EventID:  l.eventID,
		State:    l.state,
		Stale:    l.stale || (l.state != ViewLive && l.haveGood),
		Event:    l.event,
		Entries:  l.entries,
		Viewer:   l.viewer,
		Revision: l.revision,
	}
	if l.lastErr != nil {
		snap.Error = l.lastErr.Error()
	}
	l.v.latest.Store(&snap)

	select {
	case <-l.v.updates:
	default:
	}
	select {
	case l.v.updates <- snap:
	default:
	}
}

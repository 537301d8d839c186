// Package memory implements repository.Store in process memory, optionally
// persisted to a snapshot file.
package memory

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/backr/internal/adapters/repository"
	"github.com/okian/backr/pkg/logger"
	"github.com/okian/backr/pkg/metrics"
)

const driver = "memory"

const defaultSnapshotInterval = 5 * time.Second

var errOffline = errors.New("memory store is offline")

// Store keeps every collection in maps guarded by one lock.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]*repository.Document
	seq         int64

	hub    *repository.Hub
	online atomic.Bool
	closed atomic.Bool
	dirty  atomic.Bool

	snapshotPath     string
	snapshotInterval time.Duration
	now              func() time.Time
	logger           logger.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
}

var _ repository.Store = (*Store)(nil)

// New builds a store. When a snapshot path is configured the snapshot is
// restored and a background goroutine keeps it current.
func New(opts ...Option) (*Store, error) {
	s := &Store{
		collections:      make(map[string]map[string]*repository.Document),
		hub:              repository.NewHub(),
		snapshotInterval: defaultSnapshotInterval,
		now:              time.Now,
		stopChan:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("memory_store")
	}
	s.online.Store(true)

	if s.snapshotPath != "" {
		if err := s.restore(); err != nil {
			return nil, err
		}
		s.startPeriodicSnapshots()
	}
	return s, nil
}

// SetOnline simulates losing and regaining the store connection. While
// offline every call fails with model.ErrTransport and open subscriptions
// report the failure.
func (s *Store) SetOnline(online bool) {
	s.online.Store(online)
	s.hub.NotifyAll()
}

func (s *Store) check(op string) error {
	if s.closed.Load() {
		return repository.Transport(op, repository.ErrClosed)
	}
	if !s.online.Load() {
		return repository.Transport(op, errOffline)
	}
	return nil
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, collection, id string) (doc repository.Document, err error) {
	const op = "memory.get"
	defer func(start time.Time) { repository.Observe(driver, "get", start, err) }(time.Now())

	if err := s.check(op); err != nil {
		return repository.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.collections[collection][id]
	if !ok {
		return repository.Document{}, repository.NotFound(op, collection, id)
	}
	return d.Clone(), nil
}

// Create implements repository.Store.
func (s *Store) Create(ctx context.Context, collection, id string, fields map[string]any) (doc repository.Document, created bool, err error) {
	const op = "memory.create"
	defer func(start time.Time) { repository.Observe(driver, "create", start, err) }(time.Now())

	if err := s.check(op); err != nil {
		return repository.Document{}, false, err
	}
	if collection == "" || id == "" {
		return repository.Document{}, false, repository.Invalid(op, repository.ErrInvalidArgument)
	}
	norm, err := repository.NormalizeFields(fields)
	if err != nil {
		return repository.Document{}, false, repository.Invalid(op, err)
	}

	s.mu.Lock()
	coll := s.collectionLocked(collection)
	if existing, ok := coll[id]; ok {
		out := existing.Clone()
		s.mu.Unlock()
		return out, false, nil
	}
	s.seq++
	now := s.now().UTC()
	d := &repository.Document{
		Collection: collection,
		ID:         id,
		Seq:        s.seq,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
		Fields:     norm,
	}
	coll[id] = d
	out := d.Clone()
	count := len(coll)
	s.mu.Unlock()

	s.changed(collection, count)
	return out, true, nil
}

// Put implements repository.Store.
func (s *Store) Put(ctx context.Context, collection, id string, fields map[string]any) (doc repository.Document, err error) {
	const op = "memory.put"
	defer func(start time.Time) { repository.Observe(driver, "put", start, err) }(time.Now())

	if err := s.check(op); err != nil {
		return repository.Document{}, err
	}
	if collection == "" || id == "" {
		return repository.Document{}, repository.Invalid(op, repository.ErrInvalidArgument)
	}
	norm, err := repository.NormalizeFields(fields)
	if err != nil {
		return repository.Document{}, repository.Invalid(op, err)
	}

	s.mu.Lock()
	coll := s.collectionLocked(collection)
	now := s.now().UTC()
	d, ok := coll[id]
	if ok {
		merged := maps.Clone(d.Fields)
		maps.Copy(merged, norm)
		d.Fields = merged
		d.Version++
		d.UpdatedAt = now
	} else {
		s.seq++
		d = &repository.Document{
			Collection: collection,
			ID:         id,
			Seq:        s.seq,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
			Fields:     norm,
		}
		coll[id] = d
	}
	out := d.Clone()
	count := len(coll)
	s.mu.Unlock()

	s.changed(collection, count)
	return out, nil
}

// List implements repository.Store.
func (s *Store) List(ctx context.Context, collection string, filter repository.Filter) (docs []repository.Document, err error) {
	const op = "memory.list"
	defer func(start time.Time) { repository.Observe(driver, "list", start, err) }(time.Now())

	if err := s.check(op); err != nil {
		return nil, err
	}
	return s.list(collection, filter), nil
}

func (s *Store) list(collection string, filter repository.Filter) []repository.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.collections[collection]
	if id, ok := filter.ID(); ok {
		d, found := coll[id]
		if !found || !filter.Matches(*d) {
			return []repository.Document{}
		}
		return []repository.Document{d.Clone()}
	}

	out := make([]repository.Document, 0, len(coll))
	for _, d := range coll {
		if filter.Matches(*d) {
			out = append(out, d.Clone())
		}
	}
	repository.SortBySeq(out)
	return out
}

// Subscribe implements repository.Store.
func (s *Store) Subscribe(ctx context.Context, collection string, filter repository.Filter) (repository.Subscription, error) {
	const op = "memory.subscribe"
	if err := s.check(op); err != nil {
		return nil, err
	}
	sub, err := s.hub.Subscribe(ctx, collection, func(ctx context.Context) ([]repository.Document, error) {
		if err := s.check(op); err != nil {
			return nil, err
		}
		return s.list(collection, filter), nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrClosed) {
			return nil, repository.Transport(op, err)
		}
		return nil, err
	}
	metrics.UpdateStoreSubscriptions(s.hub.Len())
	return sub, nil
}

// Count implements repository.Store.
func (s *Store) Count(ctx context.Context, collection string, filter repository.Filter) (n int, err error) {
	const op = "memory.count"
	defer func(start time.Time) { repository.Observe(driver, "count", start, err) }(time.Now())

	if err := s.check(op); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.collections[collection] {
		if filter.Matches(*d) {
			n++
		}
	}
	return n, nil
}

// Close stops the snapshot goroutine, writes a final snapshot and ends all
// subscriptions.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.stopChan)
	s.wg.Wait()
	s.hub.Close()

	if s.snapshotPath != "" && s.dirty.Load() {
		return s.saveSnapshot()
	}
	return nil
}

func (s *Store) collectionLocked(name string) map[string]*repository.Document {
	coll, ok := s.collections[name]
	if !ok {
		coll = make(map[string]*repository.Document)
		s.collections[name] = coll
	}
	return coll
}

func (s *Store) changed(collection string, count int) {
	s.dirty.Store(true)
	metrics.UpdateStoreDocuments(collection, count)
	s.hub.Notify(collection)
}

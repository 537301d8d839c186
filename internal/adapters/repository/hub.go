package repository

import (
	"context"
	"slices"
	"sync"
)

// ListFunc loads the current snapshot of one subscription.
type ListFunc func(ctx context.Context) ([]Document, error)

// Hub fans change notifications out to subscriptions. Each subscription
// reloads its snapshot through its ListFunc after a notification and
// publishes it only when something changed.
type Hub struct {
	mu     sync.Mutex
	subs   map[*hubSubscription]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSubscription]struct{})}
}

// Subscribe loads the first snapshot synchronously, so a store that is down
// fails here rather than on the stream. The subscription is registered before
// that load, so a change committed while it runs still triggers a reload.
func (h *Hub) Subscribe(ctx context.Context, collection string, list ListFunc) (Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	s := &hubSubscription{
		hub:        h,
		collection: collection,
		list:       list,
		snapshots:  make(chan []Document, 1),
		errs:       make(chan error, 1),
		kick:       make(chan struct{}, 1),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	first, err := list(subCtx)
	if err != nil {
		h.remove(s)
		cancel()
		close(s.done)
		return nil, err
	}
	s.last = versionsOf(first)
	s.snapshots <- first

	go s.run(subCtx)
	return s, nil
}

// Notify wakes every subscription on collection.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if s.collection == collection {
			s.signal()
		}
	}
}

// NotifyAll wakes every subscription.
func (h *Hub) NotifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.signal()
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*hubSubscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (h *Hub) remove(s *hubSubscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

type docVersion struct {
	id      string
	version int64
}

type hubSubscription struct {
	hub        *Hub
	collection string
	list       ListFunc
	snapshots  chan []Document
	errs       chan error
	kick       chan struct{}
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
	last       []docVersion
}

func (s *hubSubscription) Snapshots() <-chan []Document { return s.snapshots }

func (s *hubSubscription) Err() <-chan error { return s.errs }

func (s *hubSubscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

func (s *hubSubscription) signal() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *hubSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer s.hub.remove(s)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}

		docs, err := s.list(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.errs <- err
			return
		}

		versions := versionsOf(docs)
		if slices.Equal(versions, s.last) {
			continue
		}
		s.last = versions
		s.publish(docs)
	}
}

// publish replaces any unread snapshot with docs. run is the only sender.
func (s *hubSubscription) publish(docs []Document) {
	select {
	case <-s.snapshots:
	default:
	}
	s.snapshots <- docs
}

func versionsOf(docs []Document) []docVersion {
	out := make([]docVersion, len(docs))
	for i, d := range docs {
		out[i] = docVersion{id: d.ID, version: d.Version}
	}
	return out
}

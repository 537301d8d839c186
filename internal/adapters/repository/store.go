// Package repository defines the document store used by every collection:
// insert-if-absent creates, merging puts, filtered snapshots and
// subscriptions that re-deliver the full snapshot on every change.
package repository

import "context"

// Collections.
const (
	CollectionEvents              = "events"
	CollectionParticipations      = "participations"
	CollectionBackings            = "backings"
	CollectionManagedParticipants = "managed_participants"
)

// Store provides read/write/subscribe access to documents.
// Transport failures are reported with model.ErrTransport, missing documents
// with model.ErrNotFound.
type Store interface {
	// Get returns one document.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Create inserts the document when id is free. When id already exists
	// the stored document is returned unchanged with created=false.
	Create(ctx context.Context, collection, id string, fields map[string]any) (doc Document, created bool, err error)

	// Put creates the document or merges fields into it. Fields not named
	// are left as they are.
	Put(ctx context.Context, collection, id string, fields map[string]any) (Document, error)

	// List returns the matching documents in insertion order.
	List(ctx context.Context, collection string, filter Filter) ([]Document, error)

	// Subscribe streams the matching documents. The current snapshot is
	// available immediately and a new one follows every change.
	Subscribe(ctx context.Context, collection string, filter Filter) (Subscription, error)

	// Count returns the number of matching documents.
	Count(ctx context.Context, collection string, filter Filter) (int, error)

	Close() error
}

// Subscription is a live view over a filtered collection.
//
// Snapshots holds at most one pending snapshot; a slow reader only ever sees
// the latest one. After a value arrives on Err the subscription is dead and no
// further snapshots follow.
type Subscription interface {
	Snapshots() <-chan []Document
	Err() <-chan error
	Close()
}

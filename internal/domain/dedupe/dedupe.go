// Package dedupe remembers idempotency keys so a retried request maps back to
// the command it first produced.
package dedupe

import (
	"container/list"
	"context"
	"sync"

	"github.com/okian/backr/pkg/metrics"
)

const defaultMaxSize = 50000

// Deduper records seen keys together with the value first stored for them.
type Deduper interface {
	// SeenAndRecord atomically checks key. When key is new, value is stored
	// and ("", false) is returned. Otherwise the stored value and true are
	// returned and value is ignored.
	SeenAndRecord(ctx context.Context, key, value string) (string, bool)

	// Unrecord forgets key so the request can be retried, typically after
	// the command it produced was refused by backpressure.
	Unrecord(ctx context.Context, key string)

	Size() int64
}

type entry struct {
	key   string
	value string
}

// inMemoryDeduper keeps at most maxSize keys and evicts the oldest first.
// A maxSize of zero or less disables eviction.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		seen:    make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SeenAndRecord implements Deduper.
func (d *inMemoryDeduper) SeenAndRecord(ctx context.Context, key, value string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[key]; ok {
		return el.Value.(*entry).value, true //nolint:forcetypeassert // only *entry is stored
	}

	if d.maxSize > 0 {
		for d.order.Len() >= d.maxSize {
			oldest := d.order.Front()
			d.order.Remove(oldest)
			delete(d.seen, oldest.Value.(*entry).key) //nolint:forcetypeassert // only *entry is stored
		}
	}
	d.seen[key] = d.order.PushBack(&entry{key: key, value: value})
	metrics.UpdateDedupeEntries(int64(d.order.Len()))
	return "", false
}

// Unrecord implements Deduper.
func (d *inMemoryDeduper) Unrecord(ctx context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[key]; ok {
		d.order.Remove(el)
		delete(d.seen, key)
		metrics.UpdateDedupeEntries(int64(d.order.Len()))
	}
}

// Size returns the number of remembered keys.
func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(d.order.Len())
}

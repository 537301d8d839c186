package memory

import (
	"time"

	"github.com/okian/backr/pkg/logger"
)

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSnapshotPath enables persistence to path. An existing snapshot is
// loaded by New.
func WithSnapshotPath(path string) Option {
	return func(s *Store) {
		s.snapshotPath = path
	}
}

// WithSnapshotInterval sets how often a changed store is written to disk.
func WithSnapshotInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval > 0 {
			s.snapshotInterval = interval
		}
	}
}

// WithClock replaces time.Now for document timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

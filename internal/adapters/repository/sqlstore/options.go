package sqlstore

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

// WithPollInterval sets how often subscriptions re-read the database to pick
// up writes from other processes. Zero disables polling.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Store) {
		if interval >= 0 {
			s.pollInterval = interval
		}
	}
}

// WithMaxOpenConns caps the connection pool. SQLite always uses one.
func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConns = n
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

package service

import (
	"time"

	"github.com/okian/backr/internal/adapters/directory"
	repository "github.com/okian/backr/internal/adapters/repository"
	"github.com/okian/backr/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the document store. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithDirectory sets the display name resolver.
func WithDirectory(r directory.Resolver) Option {
	return func(s *Service) {
		if r != nil {
			s.directory = r
		}
	}
}

// WithWorkerCount sets the number of toggle workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of pending toggle commands.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many idempotency keys are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithDebounce sets the re-projection window of live views.
func WithDebounce(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.debounce = d
		}
	}
}

// WithReconnectBackoff sets the first delay before a failed view resubscribes.
func WithReconnectBackoff(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.reconnectBackoff = d
		}
	}
}

// WithMaxSearchResults caps SearchEvents.
func WithMaxSearchResults(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSearchResults = n
		}
	}
}

// WithToggleRetries sets how often a toggle write is retried on transport errors.
func WithToggleRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.toggleRetries = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides uuid generation for events, participants and commands.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

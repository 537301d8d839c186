// Package worker applies accepted toggle commands in the background.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/backr/internal/adapters/mq/queue"
	"github.com/okian/backr/internal/domain/model"
	"github.com/okian/backr/pkg/logger"
	"github.com/okian/backr/pkg/metrics"
)

const (
	defaultRetries        = 3
	defaultBackoff        = 50 * time.Millisecond
	defaultQueueCapacity  = 1024
	metricsUpdateInterval = 5 * time.Second
)

// Command is what workers read off their queue.
type Command = model.ToggleCommand

// Applier performs the store write for a command.
type Applier interface {
	Apply(ctx context.Context, cmd Command) error
}

// ApplierFunc adapts a function to Applier.
type ApplierFunc func(ctx context.Context, cmd Command) error

// Apply implements Applier.
func (f ApplierFunc) Apply(ctx context.Context, cmd Command) error { return f(ctx, cmd) }

// Source defines how workers receive commands.
type Source interface {
	Dequeue(ctx context.Context) <-chan Command
}

// Worker processes commands until its source closes or ctx is canceled.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	source  Source
	applier Applier
	name    string

	retries int
	backoff time.Duration
	onDone  func(Command, error)

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker reading from source.
func NewInMemoryWorker(source Source, applier Applier, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		source:   source,
		applier:  applier,
		name:     "worker",
		retries:  defaultRetries,
		backoff:  defaultBackoff,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.With(logger.String("worker", w.name))
	}
	return w
}

// Run starts the worker loop. It returns once the source channel is closed
// and drained, Shutdown is called, or ctx is canceled.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	commands := w.source.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case cmd, ok := <-commands:
			if !ok {
				return
			}
			metrics.RecordQueueDequeue()
			err := w.process(ctx, cmd)
			if err != nil {
				w.logger.Error(ctx, "toggle command failed",
					logger.String("command_id", cmd.ID),
					logger.String("event_id", cmd.EventID),
					logger.Error(err),
				)
			}
			if w.onDone != nil {
				w.onDone(cmd, err)
			}
		}
	}
}

// Shutdown stops the worker without draining and waits for the loop to exit.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed once Run has returned.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

// process applies a command, retrying transport failures with linear backoff.
func (w *InMemoryWorker) process(ctx context.Context, cmd Command) error { //nolint:gocritic // passed by value off the channel
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			metrics.RecordWorkerRetry()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * w.backoff):
			}
		}
		err = w.applier.Apply(ctx, cmd)
		if err == nil {
			metrics.RecordToggleCommand("applied")
			return nil
		}
		if !errors.Is(err, model.ErrTransport) {
			break
		}
	}

	metrics.RecordWorkerError()
	metrics.RecordToggleCommand("failed")
	return fmt.Errorf("apply %s: %w", cmd.ID, err)
}

// Pool runs one worker per shard. Commands for the same event always land on
// the same shard so they are applied in acceptance order.
type Pool struct {
	shards  []*queue.InMemoryQueue
	workers []*InMemoryWorker
	applier Applier

	workerCount   int
	queueCapacity int
	workerOpts    []Option

	pending   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	waitMu  sync.Mutex
	waiters map[string]chan error

	shutdown     chan struct{}
	shutdownOnce sync.Once

	logger logger.Logger
}

// NewPool creates a sharded worker pool around applier.
func NewPool(applier Applier, opts ...PoolOption) *Pool {
	p := &Pool{
		applier:       applier,
		workerCount:   runtime.NumCPU(),
		queueCapacity: defaultQueueCapacity,
		shutdown:      make(chan struct{}),
		waiters:       make(map[string]chan error),
		logger:        logger.Get().Named("worker-pool"),
	}
	for _, opt := range opts {
		opt(p)
	}

	perShard := (p.queueCapacity + p.workerCount - 1) / p.workerCount
	p.shards = make([]*queue.InMemoryQueue, p.workerCount)
	p.workers = make([]*InMemoryWorker, p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		p.shards[i] = queue.NewInMemoryQueue(queue.WithCapacity(perShard))
		wopts := append([]Option{
			WithName("worker-" + strconv.Itoa(i)),
			WithCompletion(p.complete),
		}, p.workerOpts...)
		p.workers[i] = NewInMemoryWorker(p.shards[i], applier, wopts...)
	}

	metrics.UpdateWorkerCount(p.workerCount)
	metrics.UpdateQueueCapacity(perShard * p.workerCount)
	return p
}

// Start launches the workers and the metrics updater.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	go p.startMetricsUpdater(ctx)
}

// Dispatch hands cmd to its shard. It returns false when that shard is full
// or the pool is shutting down.
func (p *Pool) Dispatch(ctx context.Context, cmd Command) bool { //nolint:gocritic // value semantics match the queue
	shard := p.shards[p.shardFor(cmd.EventID)]
	p.pending.Add(1)
	if !shard.Enqueue(ctx, cmd) {
		p.pending.Add(-1)
		metrics.RecordToggleCommand("rejected")
		return false
	}
	metrics.RecordToggleCommand("accepted")
	return true
}

// Submit dispatches cmd and returns a channel that receives the outcome of
// applying it. cmd.ID must be unique among commands in flight.
func (p *Pool) Submit(ctx context.Context, cmd Command) (<-chan error, bool) { //nolint:gocritic // value semantics match the queue
	done := make(chan error, 1)
	p.waitMu.Lock()
	p.waiters[cmd.ID] = done
	p.waitMu.Unlock()

	if !p.Dispatch(ctx, cmd) {
		p.waitMu.Lock()
		delete(p.waiters, cmd.ID)
		p.waitMu.Unlock()
		return nil, false
	}
	return done, true
}

// Pending reports commands accepted but not yet finished.
func (p *Pool) Pending() int64 {
	return p.pending.Load()
}

// Completed reports how many commands were applied successfully.
func (p *Pool) Completed() int64 {
	return p.completed.Load()
}

// Failed reports how many commands gave up.
func (p *Pool) Failed() int64 {
	return p.failed.Load()
}

// Workers returns the number of shards.
func (p *Pool) Workers() int {
	return len(p.workers)
}

// Shutdown stops accepting commands, lets workers drain what is queued and
// waits for them until ctx expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	for _, shard := range p.shards {
		if err := shard.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.Done():
		case <-ctx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
		if timedOut {
			break
		}
	}
	p.shutdownOnce.Do(func() { close(p.shutdown) })
	p.abandonWaiters()

	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
	return nil
}

func (p *Pool) complete(cmd Command, err error) { //nolint:gocritic // matches the completion callback
	p.pending.Add(-1)
	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}

	p.waitMu.Lock()
	done, ok := p.waiters[cmd.ID]
	delete(p.waiters, cmd.ID)
	p.waitMu.Unlock()
	if ok {
		done <- err
	}
}

// abandonWaiters fails every Submit whose command will not be applied.
func (p *Pool) abandonWaiters() {
	p.waitMu.Lock()
	defer p.waitMu.Unlock()
	for id, done := range p.waiters {
		done <- ErrPoolClosed
		delete(p.waiters, id)
	}
}

func (p *Pool) shardFor(eventID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(eventID))
	return int(h.Sum32() % uint32(len(p.shards))) //nolint:gosec // shard count is small and positive
}

func (p *Pool) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			total := 0
			for _, shard := range p.shards {
				total += shard.Len(ctx)
			}
			metrics.UpdateQueueSize(total)
		}
	}
}

// Package queue runs per-message jobs one at a time in submission order.
package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
)

// StatsKey is the persistence key of the timing aggregate
const StatsKey = "classifyStats"

// State is the coarse queue status shown to observers
type State string

const (
	StateIdle    State = "idle"
	StateQueued  State = "queued"
	StateRunning State = "running"
	StateError   State = "error"
)

// Handler processes a single message. Returned errors and panics are
// contained at the job boundary.
type Handler func(ctx context.Context, id core.MessageID) error

// Observer receives queue telemetry
type Observer interface {
	JobFinished(elapsed time.Duration, err error)
	Depth(n int)
}

// Options configures a Queue
type Options struct {
	// ErrorHold is how long StateError is reported after a failed job
	ErrorHold time.Duration
	Observer  Observer
}

type batch struct {
	remaining int
	done      chan struct{}
}

type job struct {
	id    core.MessageID
	batch *batch
}

// Queue is an unbounded FIFO drained by exactly one worker goroutine
type Queue struct {
	handler   Handler
	store     core.Store
	logger    *zap.Logger
	observer  Observer
	errorHold time.Duration
	now       func() time.Time

	mu         sync.Mutex
	cond       *sync.Cond
	pending    []job
	closed     bool
	processing bool
	current    core.MessageID
	startedAt  time.Time
	errorUntil time.Time
	stopped    chan struct{}

	statsMu     sync.Mutex
	statsLoaded bool
	stats       core.TimingStats
}

// New creates a Queue and starts its worker
func New(handler Handler, store core.Store, logger *zap.Logger, opts Options) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.ErrorHold <= 0 {
		opts.ErrorHold = 3 * time.Second
	}

	q := &Queue{
		handler:   handler,
		store:     store,
		logger:    logger,
		observer:  opts.Observer,
		errorHold: opts.ErrorHold,
		now:       time.Now,
		stopped:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)

	go q.run()
	return q
}

// Enqueue appends ids in order behind any queued work. It never blocks; the
// returned channel is closed once every id of this call has been processed.
func (q *Queue) Enqueue(ids ...core.MessageID) <-chan struct{} {
	b := &batch{remaining: len(ids), done: make(chan struct{})}
	if len(ids) == 0 {
		close(b.done)
		return b.done
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("Queue closed, dropping messages", zap.Int("count", len(ids)))
		close(b.done)
		return b.done
	}
	for _, id := range ids {
		q.pending = append(q.pending, job{id: id, batch: b})
	}
	depth := len(q.pending)
	q.cond.Signal()
	q.mu.Unlock()

	q.observer.Depth(depth)
	q.logger.Debug("Messages queued", zap.Int("count", len(ids)), zap.Int("depth", depth))
	return b.done
}

// Depth returns the number of jobs waiting to start
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Processing reports whether a job is running
func (q *Queue) Processing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.processing
}

// State returns the current status
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	switch {
	case q.processing:
		return StateRunning
	case len(q.pending) > 0:
		return StateQueued
	case q.now().Before(q.errorUntil):
		return StateError
	default:
		return StateIdle
	}
}

// Stats returns the timing aggregate plus the elapsed time of the running job
func (q *Queue) Stats(ctx context.Context) Stats {
	q.mu.Lock()
	var current float64
	if q.processing {
		current = millis(q.now().Sub(q.startedAt))
	}
	q.mu.Unlock()

	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	q.loadStats(ctx)
	return summarize(q.stats, current)
}

// Close stops intake and waits for queued jobs to finish or ctx to end
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	select {
	case <-q.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		next := q.pending[0]
		q.pending[0] = job{}
		q.pending = q.pending[1:]
		q.processing = true
		q.current = next.id
		q.startedAt = q.now()
		depth := len(q.pending)
		q.mu.Unlock()

		q.observer.Depth(depth)
		elapsed, err := q.process(next.id)
		q.record(elapsed)
		q.observer.JobFinished(elapsed, err)

		q.mu.Lock()
		q.processing = false
		q.current = ""
		if err != nil {
			q.errorUntil = q.now().Add(q.errorHold)
		}
		next.batch.remaining--
		if next.batch.remaining == 0 {
			close(next.batch.done)
		}
		q.mu.Unlock()
	}
}

// process runs the handler for one message, containing errors and panics
func (q *Queue) process(id core.MessageID) (elapsed time.Duration, err error) {
	logger := q.logger.With(zap.String("job_id", uuid.NewString()), zap.String("message_id", string(id)))
	start := q.now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing message: %v", r)
			logger.Error("Job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
		elapsed = q.now().Sub(start)
		if err != nil {
			logger.Error("Job failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		} else {
			logger.Debug("Job finished", zap.Duration("elapsed", elapsed))
		}
	}()

	logger.Debug("Job started")
	return 0, q.handler(context.Background(), id)
}

// record adds one sample and persists the aggregate
func (q *Queue) record(elapsed time.Duration) {
	ctx := context.Background()

	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	q.loadStats(ctx)
	AddSample(&q.stats, millis(elapsed))
	if err := core.SaveJSON(ctx, q.store, StatsKey, q.stats); err != nil {
		q.logger.Error("Failed to persist timing stats", zap.Error(err))
	}
}

// loadStats must be called with statsMu held
func (q *Queue) loadStats(ctx context.Context) {
	if q.statsLoaded {
		return
	}
	q.statsLoaded = true
	if _, err := core.LoadJSON(ctx, q.store, StatsKey, &q.stats); err != nil {
		q.logger.Warn("Failed to load timing stats, starting fresh", zap.Error(err))
		q.stats = core.TimingStats{}
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type nopObserver struct{}

func (nopObserver) JobFinished(time.Duration, error) {}
func (nopObserver) Depth(int)                        {}

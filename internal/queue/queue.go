// Package queue runs deferred jobs with a fixed cap on how many are in flight.
//
// Jobs start in the order they were enqueued but may finish in any order. A
// failing or panicking job is counted and logged, never propagated: the job
// itself owns its recovery. There is no way to cancel a single job once it has
// started; Close cancels the context shared by all of them.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tagfeed/internal/metrics"
)

// Job is a unit of deferred work.
type Job func(ctx context.Context) error

// DefaultMaxConcurrency is the cap used by callers that do not configure one.
const DefaultMaxConcurrency = 4

// Config controls a Queue.
//   - MaxConcurrency: jobs allowed in flight at once (values below 1 become 1).
//   - JobTimeout: per-job deadline; zero disables it.
//   - BaseContext: parent of every job context (defaults to context.Background()).
//   - Logger: optional structured logger for job failures.
type Config struct {
	MaxConcurrency int
	JobTimeout     time.Duration
	BaseContext    context.Context
	Logger         *zap.Logger
}

// Stats is a point-in-time view of the queue counters.
type Stats struct {
	Pending      int
	InFlight     int
	PeakInFlight int
	Started      int
	Succeeded    int
	Failed       int
}

// Queue is a FIFO job runner bounded by MaxConcurrency.
type Queue struct {
	max     int
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger

	mu       sync.Mutex
	pending  []Job
	inFlight int
	stats    Stats
	closed   bool
	busy     bool
	idle     chan struct{}
}

// New builds an idle Queue.
func New(cfg Config) *Queue {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(cfg.BaseContext)
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		max:     cfg.MaxConcurrency,
		timeout: cfg.JobTimeout,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		idle:    idle,
	}
}

// Enqueue appends job to the pending list and starts as many pending jobs as
// the cap allows. It never blocks on job execution. Jobs enqueued after Close
// are dropped.
func (q *Queue) Enqueue(job Job) {
	if job == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Debug("job dropped; queue closed")
		return
	}
	if !q.busy {
		q.busy = true
		q.idle = make(chan struct{})
	}
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	q.advance()
}

// MaxConcurrency returns the configured cap.
func (q *Queue) MaxConcurrency() int {
	return q.max
}

// Stats returns a copy of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := q.stats
	stats.Pending = len(q.pending)
	stats.InFlight = q.inFlight
	return stats
}

// Drain blocks until nothing is pending or in flight, or until ctx ends.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue drain: %w", ctx.Err())
	}
}

// Close stops admitting jobs and cancels the context of running ones. Jobs
// already pending still run, with a canceled context.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()
}

// advance starts pending jobs, head first, while there is capacity.
func (q *Queue) advance() {
	q.mu.Lock()
	var ready []Job
	for q.inFlight < q.max && len(q.pending) > 0 {
		job := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.inFlight++
		q.stats.Started++
		if q.inFlight > q.stats.PeakInFlight {
			q.stats.PeakInFlight = q.inFlight
		}
		ready = append(ready, job)
	}
	pending, inFlight := len(q.pending), q.inFlight
	q.mu.Unlock()

	metrics.SetQueueDepth(pending, inFlight)
	for _, job := range ready {
		go q.run(job)
	}
}

func (q *Queue) run(job Job) {
	ctx, cancel := q.jobContext()
	start := time.Now()
	err := invoke(ctx, job)
	cancel()
	q.finish(err, time.Since(start))
	q.advance()
}

func (q *Queue) jobContext() (context.Context, context.CancelFunc) {
	if q.timeout > 0 {
		return context.WithTimeout(q.ctx, q.timeout)
	}
	return context.WithCancel(q.ctx)
}

func invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return job(ctx)
}

func (q *Queue) finish(err error, elapsed time.Duration) {
	q.mu.Lock()
	q.inFlight--
	if err != nil {
		q.stats.Failed++
	} else {
		q.stats.Succeeded++
	}
	if q.busy && q.inFlight == 0 && len(q.pending) == 0 {
		q.busy = false
		close(q.idle)
	}
	q.mu.Unlock()

	result := "success"
	if err != nil {
		result = "error"
		q.logger.Debug("job failed", zap.Error(err), zap.Duration("elapsed", elapsed))
	}
	metrics.ObserveJob(result, elapsed)
}

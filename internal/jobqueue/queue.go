package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/lensclip/internal/metrics"
)

// Config tunes the queue
type Config struct {
	Workers     int
	Capacity    int
	MaxAttempts int
	RetryDelay  time.Duration
	JobTimeout  time.Duration
}

// Queue delivers observation ids to a fixed pool of workers
type Queue struct {
	cfg       Config
	handler   Handler
	onFailure FailureHandler
	clock     Clock
	metrics   *metrics.QueueMetrics
	logger    *slog.Logger

	mu      sync.Mutex
	jobs    chan *Job
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	stats   Stats
}

// Option customizes a Queue
type Option func(*Queue)

// WithClock injects the clock used for redelivery delays
func WithClock(c Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithFailureHandler sets the hook run after the final failed attempt
func WithFailureHandler(f FailureHandler) Option {
	return func(q *Queue) { q.onFailure = f }
}

// WithMetrics records queue depth and job outcomes
func WithMetrics(m *metrics.QueueMetrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// New creates a stopped queue. Zero config values take the defaults.
func New(cfg Config, handler Handler, opts ...Option) (*Queue, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	q := &Queue{
		cfg:     cfg,
		handler: handler,
		clock:   realClock{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "jobqueue")
	q.stats.Capacity = cfg.Capacity
	return q, nil
}

// Start launches the workers. Calling Start on a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.jobs = make(chan *Job, q.cfg.Capacity)
	q.group, q.ctx = errgroup.WithContext(q.ctx)
	q.running = true

	for i := 0; i < q.cfg.Workers; i++ {
		worker := i
		q.group.Go(func() error {
			q.work(worker)
			return nil
		})
	}
	q.logger.Info("job queue started", "workers", q.cfg.Workers, "capacity", q.cfg.Capacity)
}

// Stop cancels the workers and waits for them to exit. Jobs still queued or
// waiting for redelivery are dropped.
func (q *Queue) Stop() error {
	return q.StopWithTimeout(30 * time.Second)
}

// StopWithTimeout stops the queue, giving running jobs at most timeout to return
func (q *Queue) StopWithTimeout(timeout time.Duration) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	group := q.group
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.mu.Lock()
		q.stats.InFlight = 0
		q.metrics.SetDepth(0)
		q.mu.Unlock()
		q.logger.Info("job queue stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for jobs to complete after %v", timeout)
	}
}

// Enqueue schedules an analysis of observationID
func (q *Queue) Enqueue(observationID string) (*Job, error) {
	if strings.TrimSpace(observationID) == "" {
		return nil, ErrEmptyID
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return nil, ErrQueueStopped
	}

	job := &Job{
		ID:            uuid.NewString(),
		ObservationID: observationID,
		MaxAttempts:   q.cfg.MaxAttempts,
		EnqueuedAt:    q.clock.Now(),
		Status:        JobStatusPending,
	}
	select {
	case q.jobs <- job:
	default:
		q.stats.Dropped++
		return nil, fmt.Errorf("%w: maximum queue size (%d) reached", ErrQueueFull, q.cfg.Capacity)
	}
	q.stats.Enqueued++
	q.stats.InFlight++
	q.metrics.SetDepth(q.stats.InFlight)
	return job, nil
}

// Stats returns a snapshot of the queue counters
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func (q *Queue) work(worker int) {
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.execute(worker, job)
		}
	}
}

func (q *Queue) execute(worker int, job *Job) {
	job.Attempts++
	job.Status = JobStatusRunning
	log := q.logger.With("job_id", job.ID, "observation_id", job.ObservationID, "worker", worker)
	if job.Attempts > 1 {
		log.Info("retrying job", "attempt", job.Attempts, "max_attempts", job.MaxAttempts)
	}

	err := q.run(job)
	if err == nil {
		job.Status = JobStatusCompleted
		q.finish(func(s *Stats) { s.Succeeded++ }, JobStatusCompleted)
		return
	}
	job.LastError = err

	if q.ctx.Err() != nil {
		log.Warn("job interrupted by shutdown", "error", err)
		q.finish(func(*Stats) {}, JobStatusPending)
		return
	}

	if job.Attempts >= job.MaxAttempts {
		job.Status = JobStatusFailed
		log.Error("job permanently failed", "attempts", job.Attempts, "error", err)
		if q.onFailure != nil {
			q.onFailure(context.WithoutCancel(q.ctx), job.ObservationID, err)
		}
		q.finish(func(s *Stats) { s.Failed++ }, JobStatusFailed)
		return
	}

	job.Status = JobStatusRetrying
	q.mu.Lock()
	q.stats.Retried++
	q.mu.Unlock()
	log.Warn("job failed, scheduling redelivery", "delay", q.cfg.RetryDelay, "attempt", job.Attempts, "error", err)

	wait := q.clock.After(q.cfg.RetryDelay)
	q.group.Go(func() error {
		select {
		case <-q.ctx.Done():
			return nil
		case <-wait:
		}
		select {
		case <-q.ctx.Done():
		case q.jobs <- job:
		}
		return nil
	})
}

// run executes the handler with a timeout, converting panics to errors
func (q *Queue) run(job *Job) (err error) {
	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.JobTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.mu.Lock()
			q.stats.Panics++
			q.mu.Unlock()
			q.logger.Error("job panicked", "observation_id", job.ObservationID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job execution panicked: %v", r)
		}
	}()
	return q.handler(ctx, job.ObservationID)
}

func (q *Queue) finish(update func(*Stats), status JobStatus) {
	q.mu.Lock()
	update(&q.stats)
	q.stats.InFlight--
	q.metrics.SetDepth(q.stats.InFlight)
	q.mu.Unlock()
	if status == JobStatusCompleted || status == JobStatusFailed {
		q.metrics.RecordJob(strings.ToLower(status.String()))
	}
}

// Package jobqueue runs analysis jobs on a bounded worker pool and redelivers
// failed jobs after a fixed delay.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by queue operations
var (
	ErrNilHandler   = errors.New("jobqueue: handler is nil")
	ErrQueueStopped = errors.New("jobqueue: queue is not running")
	ErrQueueFull    = errors.New("jobqueue: queue is full")
	ErrEmptyID      = errors.New("jobqueue: empty observation id")
)

// Defaults
const (
	DefaultWorkers     = 2
	DefaultCapacity    = 256
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 10 * time.Second
	DefaultJobTimeout  = 5 * time.Minute
)

// Handler processes one observation. A returned error schedules a redelivery
// until the attempt budget is spent.
type Handler func(ctx context.Context, observationID string) error

// FailureHandler is called once a job has used every attempt
type FailureHandler func(ctx context.Context, observationID string, err error)

// JobStatus represents the current status of a job
type JobStatus int

const (
	// JobStatusPending indicates the job is waiting for a worker
	JobStatusPending JobStatus = iota
	// JobStatusRunning indicates a worker is executing the job
	JobStatusRunning
	// JobStatusCompleted indicates the job finished without error
	JobStatusCompleted
	// JobStatusFailed indicates the job used every attempt
	JobStatusFailed
	// JobStatusRetrying indicates the job failed and waits for redelivery
	JobStatusRetrying
)

// String returns a string representation of the job status
func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "Pending"
	case JobStatusRunning:
		return "Running"
	case JobStatusCompleted:
		return "Completed"
	case JobStatusFailed:
		return "Failed"
	case JobStatusRetrying:
		return "Retrying"
	default:
		return "Unknown"
	}
}

// Job is one unit of work
type Job struct {
	ID            string
	ObservationID string
	Attempts      int
	MaxAttempts   int
	EnqueuedAt    time.Time
	Status        JobStatus
	LastError     error
}

// Stats is a point-in-time snapshot of queue counters
type Stats struct {
	Enqueued  int
	Succeeded int
	Failed    int
	Retried   int
	Dropped   int
	Panics    int
	InFlight  int
	Capacity  int
}

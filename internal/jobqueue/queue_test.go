package jobqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const testTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitForChannel(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		require.Fail(t, msg)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, testTimeout, time.Millisecond, msg)
}

func TestJobStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Pending", JobStatusPending.String())
	assert.Equal(t, "Running", JobStatusRunning.String())
	assert.Equal(t, "Completed", JobStatusCompleted.String())
	assert.Equal(t, "Failed", JobStatusFailed.String())
	assert.Equal(t, "Retrying", JobStatusRetrying.String())
	assert.Equal(t, "Unknown", JobStatus(42).String())
}

func TestNewRequiresHandler(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestEnqueueRequiresRunningQueue(t *testing.T) {
	t.Parallel()

	q, err := New(Config{}, func(context.Context, string) error { return nil })
	require.NoError(t, err)

	_, err = q.Enqueue("obs-1")
	assert.ErrorIs(t, err, ErrQueueStopped)

	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop()) }()
	_, err = q.Enqueue(" ")
	assert.ErrorIs(t, err, ErrEmptyID)
}

func TestJobsRunOnWorkers(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan struct{})
	var count atomic.Int32

	q, err := New(Config{Workers: 3}, func(_ context.Context, id string) error {
		mu.Lock()
		seen[id]++
		mu.Unlock()
		if count.Add(1) == 5 {
			close(done)
		}
		return nil
	})
	require.NoError(t, err)
	q.Start(context.Background())

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		job, err := q.Enqueue(id)
		require.NoError(t, err)
		assert.Equal(t, 3, job.MaxAttempts)
		assert.NotEmpty(t, job.ID)
	}
	waitForChannel(t, done, "jobs did not run")
	waitFor(t, func() bool { return q.Stats().Succeeded == 5 }, "stats not updated")
	require.NoError(t, q.Stop())

	assert.Len(t, seen, 5)
	stats := q.Stats()
	assert.Equal(t, 5, stats.Enqueued)
	assert.Equal(t, 0, stats.InFlight)
}

func TestFailedJobIsRedeliveredAfterDelay(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(time.Now())
	var attempts atomic.Int32
	succeeded := make(chan struct{})

	q, err := New(Config{Workers: 1}, func(context.Context, string) error {
		if attempts.Add(1) < 2 {
			return errors.New("database is locked")
		}
		close(succeeded)
		return nil
	}, WithClock(clock))
	require.NoError(t, err)
	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop()) }()

	_, err = q.Enqueue("obs-1")
	require.NoError(t, err)

	waitFor(t, func() bool { return clock.Waiters() == 1 }, "redelivery not scheduled")
	assert.Equal(t, int32(1), attempts.Load())

	clock.Advance(DefaultRetryDelay - time.Second)
	assert.Equal(t, int32(1), attempts.Load(), "redelivered before the delay elapsed")

	clock.Advance(time.Second)
	waitForChannel(t, succeeded, "job was not redelivered")
	waitFor(t, func() bool { return q.Stats().Succeeded == 1 }, "success not recorded")
	assert.Equal(t, 1, q.Stats().Retried)
}

func TestJobGivesUpAfterAttemptBudget(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(time.Now())
	var attempts atomic.Int32
	failed := make(chan struct{})
	var failure error
	var failedID string

	q, err := New(Config{Workers: 1, MaxAttempts: 3}, func(context.Context, string) error {
		attempts.Add(1)
		return errors.New("blob read failed")
	}, WithClock(clock), WithFailureHandler(func(_ context.Context, id string, err error) {
		failedID, failure = id, err
		close(failed)
	}))
	require.NoError(t, err)
	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop()) }()

	_, err = q.Enqueue("obs-9")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		waitFor(t, func() bool { return clock.Waiters() == 1 }, "redelivery not scheduled")
		clock.Advance(DefaultRetryDelay)
	}
	waitForChannel(t, failed, "failure hook not called")

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, "obs-9", failedID)
	assert.EqualError(t, failure, "blob read failed")
	waitFor(t, func() bool { return q.Stats().Failed == 1 }, "failure not counted")
	assert.Equal(t, 0, clock.Waiters())
}

func TestPanicIsRecoveredAsFailure(t *testing.T) {
	t.Parallel()

	failed := make(chan struct{})
	var failure error
	q, err := New(Config{Workers: 1, MaxAttempts: 1}, func(context.Context, string) error {
		panic("nil map")
	}, WithFailureHandler(func(_ context.Context, _ string, err error) {
		failure = err
		close(failed)
	}))
	require.NoError(t, err)
	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop()) }()

	_, err = q.Enqueue("obs-1")
	require.NoError(t, err)
	waitForChannel(t, failed, "panic not reported")

	require.Error(t, failure)
	assert.Contains(t, failure.Error(), "panicked")
	waitFor(t, func() bool { return q.Stats().Panics == 1 }, "panic not counted")
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	q, err := New(Config{Workers: 1, Capacity: 1}, func(ctx context.Context, _ string) error {
		once.Do(func() { close(started) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, err)
	q.Start(context.Background())

	_, err = q.Enqueue("running")
	require.NoError(t, err)
	waitForChannel(t, started, "worker did not pick up job")

	_, err = q.Enqueue("buffered")
	require.NoError(t, err)
	_, err = q.Enqueue("overflow")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, q.Stats().Dropped)

	close(release)
	require.NoError(t, q.Stop())
}

func TestStopCancelsPendingRedelivery(t *testing.T) {
	t.Parallel()

	clock := NewMockClock(time.Now())
	var attempts atomic.Int32
	q, err := New(Config{Workers: 2}, func(context.Context, string) error {
		attempts.Add(1)
		return errors.New("boom")
	}, WithClock(clock))
	require.NoError(t, err)
	q.Start(context.Background())

	_, err = q.Enqueue("obs-1")
	require.NoError(t, err)
	waitFor(t, func() bool { return clock.Waiters() == 1 }, "redelivery not scheduled")

	require.NoError(t, q.Stop())
	assert.Equal(t, int32(1), attempts.Load())
	require.NoError(t, q.Stop(), "second stop is a no-op")
}

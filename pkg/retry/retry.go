// Package retry runs remote calls under the shared exponential backoff policy.
//
// Every remote collaborator (localization, identification, narration) uses
// the same schedule: 3 attempts, 100ms base delay, doubling per attempt, and
// an optional per-attempt timeout. Only transient failures are retried.
package retry

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"

	"github.com/menta2k/lensclip/internal/errors"
)

// Default policy parameters
const (
	DefaultAttempts    = 3
	DefaultBaseDelay   = 100 * time.Millisecond
	DefaultMultiplier  = 2.0
	DefaultCallTimeout = 30 * time.Second
)

// Policy describes how a remote call is retried
type Policy struct {
	Attempts    int
	BaseDelay   time.Duration
	Multiplier  float64
	CallTimeout time.Duration // zero disables the per-attempt timeout

	// NewTimer overrides the backoff timer, used by tests to avoid sleeping
	NewTimer func() backoff.Timer
	// Notify is called before every sleep with the failed attempt error
	Notify func(attempt int, err error, delay time.Duration)
}

// Default returns the shared remote-call policy
func Default() Policy {
	return Policy{
		Attempts:    DefaultAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		CallTimeout: DefaultCallTimeout,
	}
}

// Schedule returns the delays the policy sleeps between attempts
func (p Policy) Schedule() []time.Duration {
	b := p.backOff()
	var out []time.Duration
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return out
		}
		out = append(out, d)
	}
}

func (p Policy) backOff() backoff.BackOff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = DefaultBaseDelay
	}
	eb.Multiplier = p.Multiplier
	if eb.Multiplier <= 0 {
		eb.Multiplier = DefaultMultiplier
	}
	eb.RandomizationFactor = 0
	eb.MaxInterval = time.Hour
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, uint64(attempts-1))
}

// Do runs op until it succeeds, fails permanently, or exhausts the attempt budget.
// Exhaustion yields a CategoryRetryExhausted error wrapping the last failure.
func Do(ctx context.Context, p Policy, component string, op func(ctx context.Context) error) error {
	attempts := 0
	var lastErr error

	operation := func() error {
		attempts++
		attemptCtx := ctx
		cancel := func() {}
		if p.CallTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && stdErrors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = errors.New(fmt.Errorf("call timed out after %s: %w", p.CallTimeout, err)).
				Category(errors.CategoryTransient).
				Component(component).
				Build()
		}
		lastErr = err
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, d time.Duration) {
		if p.Notify != nil {
			p.Notify(attempts, err, d)
		}
	}

	var timer backoff.Timer
	if p.NewTimer != nil {
		timer = p.NewTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(p.backOff(), ctx), notify, timer)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", component, ctx.Err())
	}
	if IsTransient(lastErr) {
		return errors.New(fmt.Errorf("%s failed after %d attempts: %w", component, attempts, lastErr)).
			Category(errors.CategoryRetryExhausted).
			Component(component).
			Context("attempts", attempts).
			Build()
	}
	return err
}

// IsTransient reports whether err is worth another attempt
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsCategory(err, errors.CategoryTransient) {
		return true
	}
	// Anything already classified otherwise is final
	if errors.CategoryOf(err) != "" {
		return false
	}

	var gerr *googleapi.Error
	if stdErrors.As(err, &gerr) {
		return IsTransientStatus(gerr.Code)
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if stdErrors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var uerr *url.Error
	if stdErrors.As(err, &uerr) {
		return !stdErrors.Is(uerr.Err, context.Canceled)
	}
	var operr *net.OpError
	return stdErrors.As(err, &operr)
}

// IsTransientStatus reports whether an HTTP status code should be retried
func IsTransientStatus(code int) bool {
	return code == 429 || code >= 500
}

// Transient marks err as retryable
func Transient(component string, err error) error {
	return errors.New(err).Category(errors.CategoryTransient).Component(component).Build()
}

// instantTimer fires immediately and is used to run the policy without sleeping
type instantTimer struct {
	ch chan time.Time
}

func (t *instantTimer) Start(time.Duration) { t.ch <- time.Now() }
func (t *instantTimer) Stop()               {}
func (t *instantTimer) C() <-chan time.Time { return t.ch }

// WithoutSleep returns a copy of p whose delays elapse instantly
func (p Policy) WithoutSleep() Policy {
	p.NewTimer = func() backoff.Timer { return &instantTimer{ch: make(chan time.Time, 1)} }
	return p
}

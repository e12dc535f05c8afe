// Package retry holds the one backoff policy shared by transcription,
// structuring and delivery, parameterized by how each stage classifies its
// errors.
package retry

import (
	"context"
	"time"
)

// Policy retries an operation with exponential backoff. Only errors the
// classifier reports as transient are retried; everything else propagates
// immediately.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Transient   func(error) bool
}

// New returns a policy with the default delay curve: 1s, 2s, 4s, ... capped
// at 30s.
func New(maxAttempts int, transient func(error) bool) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Transient:   transient,
	}
}

// Do runs op until it succeeds, fails permanently, exhausts the attempt
// bound, or the context is cancelled. The last error is returned.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if waitErr := p.wait(ctx, attempt); waitErr != nil {
				return waitErr
			}
		}
		err = op(ctx)
		if err == nil {
			return nil
		}
		if p.Transient == nil || !p.Transient(err) {
			return err
		}
	}
	return err
}

func (p Policy) wait(ctx context.Context, attempt int) error {
	delay := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy describes how a network call is retried. Delays grow as
// Delay * 2^attempt, capped at MaxDelay, with optional jitter.
type Policy struct {
	// Name identifies the call in logs ("embedding", "feed", ...).
	Name string

	// Attempts is the total number of tries including the first. Default: 3.
	Attempts int

	// Delay is the wait before the first retry. Default: 1s.
	Delay time.Duration

	// MaxDelay caps a single wait. Default: 30s.
	MaxDelay time.Duration

	// Jitter is the +/- fraction applied to each wait. Zero disables it.
	Jitter float64

	// Retryable overrides IsTransient.
	Retryable func(err error) bool

	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error)
}

// NewPolicy builds a policy from the "max_retries / retry_delay_ms" pair used
// by the collaborator config sections. maxRetries counts tries after the
// first; a negative value takes the default.
func NewPolicy(name string, maxRetries int, delay time.Duration) Policy {
	p := Policy{Name: name, Delay: delay, Jitter: 0.2}
	if maxRetries >= 0 {
		p.Attempts = maxRetries + 1
	}
	return p.withDefaults()
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Delay <= 0 {
		p.Delay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

func (p Policy) backoff(attempt int) time.Duration {
	d := float64(p.Delay) * math.Pow(2, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	return time.Duration(max(d, 0))
}

// Do runs fn until it succeeds, fails permanently, exhausts the policy or ctx
// is done. The last error is returned unchanged.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for calls that return a value.
func DoVal[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var err error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		var v T
		if v, err = fn(ctx); err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !retryable(err) || attempt == p.Attempts-1 {
			return zero, err
		}

		delay := p.backoff(attempt)
		zap.L().Warn("resilience: retrying",
			zap.String("call", p.Name),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
	return zero, err
}

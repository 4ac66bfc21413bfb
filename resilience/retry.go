package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// BackoffStrategy selects how the wait between attempts grows.
type BackoffStrategy int

const (
	// BackoffExponential doubles the wait after every failed attempt.
	BackoffExponential BackoffStrategy = iota
	// BackoffLinear grows the wait by the initial delay each attempt.
	BackoffLinear
	// BackoffConstant waits the same amount before every retry.
	BackoffConstant
)

// RetryConfig controls the retry loop around a single backend call.
type RetryConfig struct {
	// MaxAttempts bounds total tries, the first call included.
	// Default: 3
	MaxAttempts int

	// InitialDelay is the wait before the first retry.
	// Default: 100ms
	InitialDelay time.Duration

	// MaxDelay caps the wait between any two attempts.
	// Default: 30s
	MaxDelay time.Duration

	// Multiplier scales exponential growth.
	// Default: 2.0
	Multiplier float64

	// Strategy picks the growth curve.
	// Default: BackoffExponential
	Strategy BackoffStrategy

	// Jitter spreads concurrent retries by adding up to 25% random slack.
	Jitter bool

	// RetryIf reports whether a failure is worth another attempt.
	// Default: retry every non-nil error.
	RetryIf func(err error) bool

	// OnRetry observes each scheduled retry before the wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.RetryIf == nil {
		c.RetryIf = func(err error) bool { return err != nil }
	}
	return c
}

// Retry re-runs an operation until it succeeds, stops being retryable,
// or the attempt budget runs out.
type Retry struct {
	config RetryConfig
}

// NewRetry builds a retry loop from config, filling in defaults.
func NewRetry(config RetryConfig) *Retry {
	return &Retry{config: config.withDefaults()}
}

// Execute runs op up to MaxAttempts times. It returns nil on the first
// success, the operation's error once RetryIf rejects it or attempts are
// exhausted, and ctx.Err() if the context ends during a backoff wait.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	attempt := 0
	for {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !r.config.RetryIf(err) || attempt == r.config.MaxAttempts {
			return err
		}

		wait := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// delay returns the wait scheduled after the given 1-based failed attempt.
func (r *Retry) delay(attempt int) time.Duration {
	base := float64(r.config.InitialDelay)

	var wait float64
	switch r.config.Strategy {
	case BackoffConstant:
		wait = base
	case BackoffLinear:
		wait = base * float64(attempt)
	default:
		wait = base
		for i := 1; i < attempt; i++ {
			wait *= r.config.Multiplier
			if wait >= float64(r.config.MaxDelay) {
				break
			}
		}
	}

	d := time.Duration(wait)
	if d > r.config.MaxDelay {
		d = r.config.MaxDelay
	}
	if r.config.Jitter && d > 0 {
		// #nosec G404 -- timing spread only, not security sensitive.
		d += rand.N(d / 4)
	}
	return d
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// TransportConfig configures the resilient HTTP transport.
type TransportConfig struct {
	// Base is the underlying round tripper.
	// Default: http.DefaultTransport
	Base http.RoundTripper

	// Retry configures retry behavior for retryable failures.
	Retry RetryConfig

	// Circuit configures the circuit breaker. A zero value uses defaults.
	Circuit CircuitBreakerConfig

	// RetryableStatusCodes are HTTP status codes treated as retryable.
	// Default: 429, 500, 502, 503, 504
	RetryableStatusCodes []int
}

// Transport is an http.RoundTripper that wraps a base transport with
// retry and circuit breaking. It is intended for the backend clients:
// reads are retried, writes are retried only when the request body can
// be replayed via GetBody.
type Transport struct {
	base      http.RoundTripper
	retry     *Retry
	circuit   *CircuitBreaker
	retryable map[int]bool
}

// NewTransport creates a resilient transport.
func NewTransport(config TransportConfig) *Transport {
	base := config.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// Terminal transport errors must never be retried, regardless of the
	// caller's RetryIf.
	userRetryIf := config.Retry.RetryIf
	config.Retry.RetryIf = func(err error) bool {
		var terminal *terminalError
		if errors.As(err, &terminal) {
			return false
		}
		if userRetryIf != nil {
			return userRetryIf(err)
		}
		return err != nil
	}

	codes := config.RetryableStatusCodes
	if len(codes) == 0 {
		codes = []int{
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		}
	}
	retryable := make(map[int]bool, len(codes))
	for _, c := range codes {
		retryable[c] = true
	}

	return &Transport{
		base:      base,
		retry:     NewRetry(config.Retry),
		circuit:   NewCircuitBreaker(config.Circuit),
		retryable: retryable,
	}
}

// retryableStatusError marks a response status as retryable so the retry
// loop can distinguish it from terminal failures.
type retryableStatusError struct {
	status int
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("retryable status: %d %s", e.status, http.StatusText(e.status))
}

// RoundTrip executes the request with circuit breaking and retries.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response

	err := t.circuit.Execute(req.Context(), func(ctx context.Context) error {
		attempt := 0
		return t.retry.Execute(ctx, func(ctx context.Context) error {
			attempt++

			r := req
			if attempt > 1 {
				var err error
				r, err = rewindRequest(req)
				if err != nil {
					return err
				}
			}

			res, err := t.base.RoundTrip(r)
			if err != nil {
				if isRetryableNetErr(err) {
					return err
				}
				// Terminal transport error; wrap so RetryIf stops.
				return &terminalError{err: err}
			}

			if t.retryable[res.StatusCode] {
				res.Body.Close()
				resp = nil
				return &retryableStatusError{status: res.StatusCode}
			}

			resp = res
			return nil
		})
	})

	if err != nil {
		var terminal *terminalError
		if errors.As(err, &terminal) {
			return nil, terminal.err
		}
		return nil, err
	}
	return resp, nil
}

// State exposes the circuit breaker state for health reporting.
func (t *Transport) State() State {
	return t.circuit.State()
}

// terminalError wraps errors that must not be retried.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func rewindRequest(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req.Clone(req.Context()), nil
	}
	if req.GetBody == nil {
		return nil, ErrBodyNotRewindable
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	clone := req.Clone(req.Context())
	clone.Body = body
	return clone, nil
}

func isRetryableNetErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	// Connection resets and refusals surface as *net.OpError.
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// NewTransportWithDefaults returns a transport with fast client-side
// retry settings suitable for interactive UI fetches.
func NewTransportWithDefaults() *Transport {
	return NewTransport(TransportConfig{
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
	})
}

package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrTimeout is returned when an operation exceeds its deadline.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrBodyNotRewindable is returned when a request with a body cannot
	// be retried because GetBody is not set.
	ErrBodyNotRewindable = errors.New("resilience: request body cannot be rewound for retry")
)

// Package resilience provides retry, circuit breaking, timeouts, and a
// resilient HTTP transport for calls to the persistence and object
// storage backends.
//
// The cache layer itself never retries; retry policy lives at the
// transport boundary so failures surface to callers exactly once.
package resilience

// Package health provides health checking primitives for the
// data-access layer.
//
// A Checker is any component that can report its health status. The
// Status type represents the health state: Healthy, Degraded, or
// Unhealthy. The backend client exposes a Checker for its REST
// endpoint; wrap it in Cached so a readiness probe polled every few
// seconds does not turn into a backend probe every few seconds:
//
//	checker := health.NewCached(client.Checker(), 15*time.Second)
//	result := checker.Check(ctx)
//	if result.Status == health.StatusUnhealthy {
//	    log.Printf("backend down: %s", result.Message)
//	}
package health

package backend

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonwraymond/datacache/health"
	"github.com/jonwraymond/datacache/resilience"
)

// probeTimeout bounds a single health probe so a stuck backend cannot
// stall readiness reporting.
const probeTimeout = 5 * time.Second

// Checker returns a health checker that probes the REST endpoint.
// Wrap it in health.Cached to avoid probing on every check.
func (c *Client) Checker() health.Checker {
	return health.NewCheckerFunc("backend", func(ctx context.Context) health.Result {
		var status int
		err := resilience.ExecuteWithTimeout(ctx, probeTimeout, func(ctx context.Context) error {
			req, err := c.newRequest(ctx, http.MethodHead, c.baseURL+"/rest/v1/", nil)
			if err != nil {
				return err
			}
			resp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			status = resp.StatusCode
			return nil
		})
		if err != nil {
			return health.Unhealthy("backend unreachable", err)
		}

		if status >= 500 {
			return health.Unhealthy(
				fmt.Sprintf("backend returned status %d", status), nil)
		}
		return health.Healthy("backend reachable").WithDetails(map[string]any{
			"status": status,
		})
	})
}

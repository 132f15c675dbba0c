package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// healthTimeout bounds each check so one hung dependency cannot stall /health.
const healthTimeout = 3 * time.Second

// HealthCheck checks one dependency.
type HealthCheck func(ctx context.Context) error

// HealthResponse is the /health body. Services maps check name to
// "healthy" or "unhealthy: <reason>".
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// Health runs every check concurrently and answers 503 if any fails.
func Health(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		results := make([]error, len(names))

		var g errgroup.Group
		for i, name := range names {
			i, check := i, checks[name]
			g.Go(func() error {
				ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
				defer cancel()
				results[i] = check(ctx)
				return nil
			})
		}
		_ = g.Wait()

		resp := HealthResponse{Status: "ok", Services: make(map[string]string, len(names))}
		status := http.StatusOK
		for i, name := range names {
			if err := results[i]; err != nil {
				resp.Status = "degraded"
				resp.Services[name] = "unhealthy: " + err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Services[name] = "healthy"
		}
		writeJSON(w, status, resp)
	}
}

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pageza/foodlens/backend/internal/logging"
)

// Check probes one dependency
type Check struct {
	Name string
	// Probe returns nil when the dependency is usable
	Probe func(ctx context.Context) error
}

// HealthHandler reports liveness and dependency status. The service keeps
// answering with degraded dependencies, so the status code stays 200.
type HealthHandler struct {
	version string
	checks  []Check
	timeout time.Duration
	// Info adds static or cheap fields such as the breaker state
	Info func() map[string]string
}

func NewHealthHandler(version string, checks ...Check) *HealthHandler {
	return &HealthHandler{version: version, checks: checks, timeout: 2 * time.Second}
}

// Check returns the health status of the API
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	status := "healthy"
	deps := make(map[string]string, len(h.checks))
	for _, check := range h.checks {
		if err := check.Probe(ctx); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("dependency", check.Name).Msg("health check failed")
			deps[check.Name] = "unavailable"
			status = "degraded"
			continue
		}
		deps[check.Name] = "ok"
	}
	if h.Info != nil {
		for k, v := range h.Info() {
			deps[k] = v
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"version":      h.version,
		"dependencies": deps,
	})
}

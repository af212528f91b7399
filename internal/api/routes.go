// Package api exposes the HTTP routes.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/events"
	"github.com/pageza/foodlens/backend/internal/middleware"
	"github.com/pageza/foodlens/backend/internal/nutrition"
	"github.com/pageza/foodlens/backend/internal/pipeline"
	"github.com/pageza/foodlens/backend/internal/service"
)

// Analyzer runs the analysis pipeline
type Analyzer interface {
	Analyze(ctx context.Context, in pipeline.Input) (*pipeline.Outcome, error)
}

// Catalog looks up nutrition facts
type Catalog interface {
	Lookup(label string) nutrition.Entry
}

// Deps are everything the routes need. Limiter, Tokens and Analytics are optional.
type Deps struct {
	Analyzer        Analyzer
	Recommendations service.IRecommendationService
	Preferences     service.IPreferenceService
	Catalog         Catalog
	Limiter         *middleware.RateLimiter
	Tokens          middleware.TokenValidator
	Analytics       *events.Analytics
	Health          *HealthHandler
	CORSOrigins     []string
	MaxImageBytes   int64
}

// RegisterRoutes registers all API routes
func RegisterRoutes(router *gin.Engine, deps Deps) {
	if deps.Health == nil {
		deps.Health = NewHealthHandler("v1")
	}
	router.Use(middleware.RequestLogger(), middleware.ErrorHandler(), middleware.CORS(deps.CORSOrigins))

	// Health check endpoints (no auth required)
	router.GET("/health", deps.Health.Check)
	router.GET("/api/health", deps.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	if deps.Tokens != nil {
		v1.Use(middleware.OptionalAuth(deps.Tokens))
	}

	NewAnalyzeHandler(deps.Analyzer, deps.Limiter, deps.MaxImageBytes).RegisterRoutes(v1)
	NewRecommendationHandler(deps.Recommendations, deps.Tokens == nil).RegisterRoutes(v1)
	NewPreferenceHandler(deps.Preferences, deps.Tokens).RegisterRoutes(v1)
	NewNutritionHandler(deps.Catalog).RegisterRoutes(v1)

	if deps.Limiter != nil {
		RegisterRateLimitRoutes(v1, deps.Limiter)
	}
	if deps.Analytics != nil {
		v1.GET("/analytics/summary", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.Analytics.Snapshot(10))
		})
	}
}

// RegisterRateLimitRoutes registers endpoints for checking rate limit status
func RegisterRateLimitRoutes(router *gin.RouterGroup, limiter *middleware.RateLimiter) {
	router.GET("/rate-limits/analyze", func(c *gin.Context) {
		quota, err := limiter.Remaining(c.Request.Context(), middleware.CallerKey(c))
		if err != nil {
			middleware.Abort(c, apperr.Wrap(apperr.KindCacheUnavailable, "failed to check rate limit", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"limit":      quota.Limit,
			"remaining":  quota.Remaining,
			"reset_time": quota.Reset.Unix(),
			"window":     quota.Window,
		})
	})
}

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/pageza/foodlens/backend/config"
	"github.com/pageza/foodlens/backend/internal/api"
	"github.com/pageza/foodlens/backend/internal/cache"
	"github.com/pageza/foodlens/backend/internal/database"
	"github.com/pageza/foodlens/backend/internal/detection"
	"github.com/pageza/foodlens/backend/internal/enrichment"
	"github.com/pageza/foodlens/backend/internal/events"
	"github.com/pageza/foodlens/backend/internal/logging"
	"github.com/pageza/foodlens/backend/internal/middleware"
	"github.com/pageza/foodlens/backend/internal/models"
	"github.com/pageza/foodlens/backend/internal/nutrition"
	"github.com/pageza/foodlens/backend/internal/pipeline"
	"github.com/pageza/foodlens/backend/internal/recommend"
	"github.com/pageza/foodlens/backend/internal/server"
	"github.com/pageza/foodlens/backend/internal/service"
)

func main() {
	if config.GetEnvironment().LoadsDotEnv() {
		// A missing .env is normal outside local development.
		_ = godotenv.Load()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Fatal().Err(err).Msg("server error")
	}
	logging.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	catalog, err := loadCatalog(cfg.Catalog)
	if err != nil {
		return err
	}
	pool, err := loadPool(cfg.Recommend)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close(db) }()
	if err := database.Migrate(db); err != nil {
		return err
	}

	// Redis backs the shared cache tier and the rate limiter. Both are
	// optional, so a failed connection only disables them.
	var redisClient *redis.Client
	if cfg.Cache.RedisEnabled || cfg.RateLimit.Enabled {
		redisClient, err = database.NewRedisClient(cfg.Redis)
		if err != nil {
			logging.Warn().Err(err).Msg("redis unavailable, continuing without shared cache and rate limiting")
			redisClient = nil
		} else {
			defer func() { _ = redisClient.Close() }()
		}
	}

	bus := events.NewBus(256)
	defer func() { _ = bus.Close() }()
	analytics := events.NewAnalytics()
	if _, err := analytics.Start(ctx, bus); err != nil {
		return err
	}

	cacheOpts := cache.Options{
		MaxEntries:    cfg.Cache.MaxEntries,
		SweepInterval: cfg.Cache.SweepInterval,
	}
	if cfg.Cache.RedisEnabled && redisClient != nil {
		cacheOpts.Store = cache.NewRedisStore(redisClient, cfg.Cache.KeyPrefix)
	}
	results := cache.New(cacheOpts)
	defer results.Close()

	detector, err := newDetector(ctx, cfg.Detection, catalog)
	if err != nil {
		return err
	}

	deps := pipeline.Deps{
		Detector:  detector,
		Catalog:   catalog,
		Cache:     results,
		Fetcher:   service.NewImageFetcher(nil, cfg.Pipeline.MaxImageBytes, cfg.Pipeline.FetchTimeout),
		Publisher: bus,
	}

	var enricher *enrichment.Client
	if cfg.Enrichment.Enabled && cfg.Enrichment.APIKey != "" {
		gen := enrichment.NewChatGenerator(cfg.Enrichment.APIURL, cfg.Enrichment.APIKey, cfg.Enrichment.Model, nil)
		enricher = enrichment.NewClient(gen, enrichment.Config{
			MaxAttempts:     cfg.Enrichment.MaxAttempts,
			BaseDelay:       cfg.Enrichment.BaseDelay,
			AttemptTimeout:  cfg.Enrichment.AttemptTimeout,
			Budget:          cfg.Enrichment.Budget,
			BreakerFailures: cfg.Enrichment.BreakerFailures,
			BreakerCooldown: cfg.Enrichment.BreakerCooldown,
			BreakerHalfOpen: cfg.Enrichment.BreakerHalfOpens,
		})
		deps.Enricher = enricher
	} else {
		logging.Info().Msg("AI enrichment disabled")
	}

	if cfg.Archive.Enabled {
		s3cfg, err := config.NewS3Config(ctx, cfg.Archive)
		if err != nil {
			return err
		}
		deps.Archiver = service.NewImageArchiver(s3cfg)
	}

	analyzer := pipeline.New(pipeline.Config{
		Version:       cfg.Pipeline.Version,
		DefaultLocale: cfg.Pipeline.DefaultLocale,
		MaxImageBytes: cfg.Pipeline.MaxImageBytes,
		TTL:           cfg.Cache.TTL,
		DegradedTTL:   cfg.Cache.DegradedTTL,
	}, deps)

	prefRepo := database.NewPreferenceRepository(db)
	engine := recommend.NewEngine(pool, recommend.Config{
		DefaultLimit: cfg.Recommend.DefaultLimit,
		MaxLimit:     cfg.Recommend.MaxLimit,
		Location:     cfg.Server.Location(),
	})
	logging.Info().Int("items", engine.Size()).Msg("recommendation pool loaded")

	routeDeps := api.Deps{
		Analyzer:        analyzer,
		Recommendations: service.NewRecommendationService(engine, prefRepo, bus),
		Preferences:     service.NewPreferenceService(prefRepo, bus),
		Catalog:         catalog,
		Analytics:       analytics,
		Health:          newHealth(cfg, db, redisClient, enricher),
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxImageBytes:   cfg.Pipeline.MaxImageBytes,
	}
	if cfg.Auth.JWTSecret != "" {
		routeDeps.Tokens = service.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	}
	if cfg.RateLimit.Enabled && redisClient != nil {
		routeDeps.Limiter = middleware.NewRateLimiter(redisClient, middleware.RateLimitConfig{
			Window:    cfg.RateLimit.Window,
			Limit:     cfg.RateLimit.Limit,
			KeyPrefix: cfg.RateLimit.KeyPrefix,
		})
	}

	if config.GetEnvironment().IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	api.RegisterRoutes(router, routeDeps)
	srv := server.New(cfg.Server, router)

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start() }()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logging.Info().Msg("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadCatalog(cfg config.CatalogConfig) (*nutrition.Catalog, error) {
	if cfg.Path == "" {
		return nutrition.Default(), nil
	}
	return nutrition.LoadFile(cfg.Path)
}

func loadPool(cfg config.RecommendConfig) ([]models.RecommendationItem, error) {
	if cfg.PoolPath == "" {
		return recommend.DefaultPool(), nil
	}
	return recommend.LoadPoolFile(cfg.PoolPath)
}

func newDetector(ctx context.Context, cfg config.DetectionConfig, catalog *nutrition.Catalog) (*detection.Adapter, error) {
	var classifier detection.Classifier
	switch cfg.Provider {
	case "rekognition":
		client, err := config.NewRekognitionClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		classifier = detection.NewRekognitionClassifier(client, 20)
	default:
		classifier = detection.NewModelServerClassifier(cfg.ModelServerURL, cfg.ModelName, &http.Client{})
	}
	return detection.NewAdapter(classifier, catalog, detection.Config{
		TopK:          cfg.TopK,
		MinConfidence: cfg.MinConfidence,
		Timeout:       cfg.Timeout,
	}), nil
}

func newHealth(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, enricher *enrichment.Client) *api.HealthHandler {
	checks := []api.Check{{
		Name:  "database",
		Probe: func(ctx context.Context) error { return database.HealthCheck(ctx, db) },
	}}
	if redisClient != nil {
		checks = append(checks, api.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	h := api.NewHealthHandler(cfg.Pipeline.Version, checks...)
	h.Info = func() map[string]string {
		info := map[string]string{"detection_provider": cfg.Detection.Provider}
		if enricher != nil {
			info["enrichment_breaker"] = enricher.State()
		} else {
			info["enrichment_breaker"] = "disabled"
		}
		return info
	}
	return h
}

// Package enrichment adds AI commentary to analysis results. Every failure
// is classified as a timeout or a rejection so the pipeline can degrade.
package enrichment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/logging"
	"github.com/pageza/foodlens/backend/internal/metrics"
	"github.com/pageza/foodlens/backend/internal/models"
)

var (
	// ErrEnrichmentTimeout means retryable failures exhausted the attempts or the budget
	ErrEnrichmentTimeout = apperr.New(apperr.KindEnrichmentTimeout, "AI enrichment timed out")
	// ErrEnrichmentRejected means the service refused the request or the circuit is open
	ErrEnrichmentRejected = apperr.New(apperr.KindEnrichmentRejected, "AI enrichment was rejected")
)

// Enrichment is the generated text attached to an analysis
type Enrichment struct {
	Commentary      string `json:"commentary"`
	CulturalContext string `json:"cultural_context"`
}

// Config tunes retries, deadlines and the circuit breaker
type Config struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	AttemptTimeout  time.Duration
	Budget          time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
	BreakerHalfOpen uint32
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.Budget <= 0 {
		c.Budget = 15 * time.Second
	}
	if c.AttemptTimeout <= 0 || c.AttemptTimeout > c.Budget {
		c.AttemptTimeout = c.Budget
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.BreakerHalfOpen == 0 {
		c.BreakerHalfOpen = 1
	}
}

// Client calls the Generator with bounded retries behind a circuit breaker
type Client struct {
	gen     Generator
	cfg     Config
	breaker *gobreaker.CircuitBreaker[Enrichment]
	logger  zerolog.Logger
}

// NewClient creates an enrichment client
func NewClient(gen Generator, cfg Config) *Client {
	cfg.applyDefaults()
	logger := logging.With("enrichment")

	settings := gobreaker.Settings{
		Name:        "enrichment",
		MaxRequests: cfg.BreakerHalfOpen,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Rejections and caller cancellations say nothing about service health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrEnrichmentRejected) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &Client{
		gen:     gen,
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker[Enrichment](settings),
		logger:  logger,
	}
}

// State reports the breaker state for health checks
func (c *Client) State() string {
	return c.breaker.State().String()
}

// Enrich asks the generator for commentary on the detections. It returns
// ErrEnrichmentTimeout or ErrEnrichmentRejected on failure, never both.
func (c *Client) Enrich(ctx context.Context, detections []models.Detection, locale string) (Enrichment, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Budget)
	defer cancel()

	prompt := BuildPrompt(detections, locale)
	out, err := c.breaker.Execute(func() (Enrichment, error) {
		return c.withRetry(ctx, prompt)
	})

	switch {
	case err == nil:
		metrics.EnrichmentOutcomes.WithLabelValues("ok").Inc()
		return out, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.EnrichmentOutcomes.WithLabelValues("rejected").Inc()
		c.logger.Debug().Msg("circuit open, skipping enrichment")
		return Enrichment{}, apperr.Wrap(apperr.KindEnrichmentRejected, ErrEnrichmentRejected.Message, err)
	case errors.Is(err, ErrEnrichmentRejected):
		metrics.EnrichmentOutcomes.WithLabelValues("rejected").Inc()
		return Enrichment{}, err
	default:
		metrics.EnrichmentOutcomes.WithLabelValues("timeout").Inc()
		return Enrichment{}, err
	}
}

func (c *Client) withRetry(ctx context.Context, prompt string) (Enrichment, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.cfg.Budget
	b.MaxElapsedTime = c.cfg.Budget
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxAttempts-1)), ctx)

	attempt := 0
	op := func() (Enrichment, error) {
		attempt++
		actx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()

		text, err := c.gen.Generate(actx, prompt)
		if err == nil {
			out, perr := parseReply(text)
			if perr != nil {
				metrics.EnrichmentAttempts.WithLabelValues("malformed").Inc()
				return Enrichment{}, backoff.Permanent(perr)
			}
			metrics.EnrichmentAttempts.WithLabelValues("ok").Inc()
			return out, nil
		}

		if ctx.Err() != nil {
			metrics.EnrichmentAttempts.WithLabelValues("deadline").Inc()
			return Enrichment{}, backoff.Permanent(err)
		}
		if !Retryable(err) {
			metrics.EnrichmentAttempts.WithLabelValues("rejected").Inc()
			return Enrichment{}, backoff.Permanent(err)
		}
		metrics.EnrichmentAttempts.WithLabelValues("retryable").Inc()
		return Enrichment{}, err
	}

	notify := func(err error, next time.Duration) {
		c.logger.Info().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("enrichment attempt failed")
	}

	out, err := backoff.RetryNotifyWithData(op, policy, notify)
	if err == nil {
		return out, nil
	}
	return Enrichment{}, c.classify(ctx, err, attempt)
}

// classify maps the final retry error onto the two public failure kinds
func (c *Client) classify(ctx context.Context, err error, attempts int) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		// The caller went away; keep the cause so the breaker ignores it.
		return apperr.Wrap(apperr.KindEnrichmentTimeout, ErrEnrichmentTimeout.Message, context.Canceled)
	case ctx.Err() != nil:
		c.logger.Warn().Int("attempts", attempts).Msg("enrichment budget exhausted")
		return apperr.Wrap(apperr.KindEnrichmentTimeout, ErrEnrichmentTimeout.Message, err)
	case Retryable(err):
		c.logger.Warn().Err(err).Int("attempts", attempts).Msg("enrichment retries exhausted")
		return apperr.Wrap(apperr.KindEnrichmentTimeout, ErrEnrichmentTimeout.Message, err)
	default:
		c.logger.Warn().Err(err).Int("attempts", attempts).Msg("enrichment rejected")
		return apperr.Wrap(apperr.KindEnrichmentRejected, ErrEnrichmentRejected.Message, err)
	}
}

// Retryable reports whether another attempt could succeed
func Retryable(err error) bool {
	if err == nil || errors.Is(err, ErrMalformed) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var status *StatusError
	if errors.As(err, &status) {
		switch {
		case status.StatusCode == http.StatusRequestTimeout,
			status.StatusCode == http.StatusTooManyRequests,
			status.StatusCode >= 500:
			return true
		default:
			return false
		}
	}
	// Transport failures and anything unclassified are treated as transient.
	return true
}

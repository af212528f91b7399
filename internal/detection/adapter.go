// Package detection turns raw vision-model output into ranked food detections.
package detection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/logging"
	"github.com/pageza/foodlens/backend/internal/metrics"
	"github.com/pageza/foodlens/backend/internal/models"
	"github.com/pageza/foodlens/backend/internal/nutrition"
)

// ErrDetectionUnavailable is returned when the vision capability fails,
// times out or produces output that cannot be trusted.
var ErrDetectionUnavailable = apperr.New(apperr.KindDetectionUnavailable, "food detection is temporarily unavailable")

// Prediction is one raw label/score pair from a classifier
type Prediction struct {
	Label string
	Score float64
}

// Classifier is the vision capability
type Classifier interface {
	Classify(ctx context.Context, image []byte) ([]Prediction, error)
}

// ClassifierFunc adapts a function to Classifier
type ClassifierFunc func(ctx context.Context, image []byte) ([]Prediction, error)

func (f ClassifierFunc) Classify(ctx context.Context, image []byte) ([]Prediction, error) {
	return f(ctx, image)
}

// Catalog resolves labels to categories
type Catalog interface {
	Lookup(label string) nutrition.Entry
}

// Config tunes the adapter
type Config struct {
	TopK          int
	MinConfidence float64
	Timeout       time.Duration
}

// Adapter wraps a Classifier with a deadline and output normalization.
// It never retries.
type Adapter struct {
	classifier Classifier
	catalog    Catalog
	cfg        Config
	logger     zerolog.Logger
}

// NewAdapter creates a detection adapter
func NewAdapter(classifier Classifier, catalog Catalog, cfg Config) *Adapter {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Adapter{
		classifier: classifier,
		catalog:    catalog,
		cfg:        cfg,
		logger:     logging.With("detection"),
	}
}

type classifyResult struct {
	preds []Prediction
	err   error
}

// Detect classifies the image and returns at most TopK unique detections
// sorted by confidence, highest first.
func (a *Adapter) Detect(ctx context.Context, image []byte) ([]models.Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan classifyResult, 1)
	go func() {
		preds, err := a.classifier.Classify(ctx, image)
		done <- classifyResult{preds: preds, err: err}
	}()

	var res classifyResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = ctx.Err()
	}

	if res.err != nil {
		metrics.DetectionDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		a.logger.Warn().Err(res.err).Dur("elapsed", time.Since(start)).Msg("classifier failed")
		return nil, apperr.Wrap(apperr.KindDetectionUnavailable, ErrDetectionUnavailable.Message, res.err)
	}

	detections, err := a.normalize(res.preds)
	if err != nil {
		metrics.DetectionDuration.WithLabelValues("malformed").Observe(time.Since(start).Seconds())
		a.logger.Warn().Err(err).Msg("classifier returned malformed output")
		return nil, apperr.Wrap(apperr.KindDetectionUnavailable, ErrDetectionUnavailable.Message, err)
	}

	metrics.DetectionDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	a.logger.Debug().Int("raw", len(res.preds)).Int("kept", len(detections)).Msg("detection complete")
	return detections, nil
}

var errNonFinite = errors.New("non-finite confidence score")

func (a *Adapter) normalize(preds []Prediction) ([]models.Detection, error) {
	best := make(map[string]models.Detection, len(preds))
	for _, p := range preds {
		if math.IsNaN(p.Score) || math.IsInf(p.Score, 0) {
			return nil, fmt.Errorf("%w for label %q", errNonFinite, p.Label)
		}
		entry := a.catalog.Lookup(p.Label)
		if entry.Label == "" {
			continue
		}
		score := clamp(p.Score)
		if score < a.cfg.MinConfidence {
			continue
		}
		if prev, ok := best[entry.Label]; ok && prev.Confidence >= score {
			continue
		}
		best[entry.Label] = models.Detection{
			Label:      entry.Label,
			Confidence: score,
			Category:   entry.Category,
		}
	}

	out := make([]models.Detection, 0, len(best))
	for _, d := range best {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Label < out[j].Label
	})
	if len(out) > a.cfg.TopK {
		out = out[:a.cfg.TopK]
	}
	return out, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Package pipeline runs image analysis: fingerprint, cache lookup, detection,
// nutrition, optional AI enrichment and assembly.
package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/cache"
	"github.com/pageza/foodlens/backend/internal/enrichment"
	"github.com/pageza/foodlens/backend/internal/events"
	"github.com/pageza/foodlens/backend/internal/logging"
	"github.com/pageza/foodlens/backend/internal/metrics"
	"github.com/pageza/foodlens/backend/internal/models"
	"github.com/pageza/foodlens/backend/internal/nutrition"
)

// State is a step of one analysis request
type State string

const (
	StateStart               State = "start"
	StateFingerprintComputed State = "fingerprint_computed"
	StateCacheLookup         State = "cache_lookup"
	StateCacheHit            State = "cache_hit"
	StateCacheMiss           State = "cache_miss"
	StateDetecting           State = "detecting"
	StateNutritionResolved   State = "nutrition_resolved"
	StateEnriching           State = "enriching"
	StateAssembled           State = "assembled"
	StateCached              State = "cached"
	StateDone                State = "done"
	StateFailed              State = "failed"
)

// ErrInvalidImage is returned for input that cannot be analyzed
var ErrInvalidImage = apperr.New(apperr.KindInvalidImage, "the image could not be read")

// Detector finds foods in image bytes
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]models.Detection, error)
}

// Catalog resolves labels to nutrition facts
type Catalog interface {
	Lookup(label string) nutrition.Entry
}

// Enricher adds generated commentary
type Enricher interface {
	Enrich(ctx context.Context, detections []models.Detection, locale string) (enrichment.Enrichment, error)
}

// Cache stores results by fingerprint and coalesces concurrent loads
type Cache interface {
	Do(ctx context.Context, fingerprint string, load cache.Loader) (*models.AnalysisResult, bool, error)
}

// Fetcher downloads images given by URL
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Archiver keeps a copy of analyzed images
type Archiver interface {
	Archive(ctx context.Context, fingerprint string, image []byte, contentType string) error
}

// Input is one analyze request. Image takes precedence over ImageURL.
type Input struct {
	Image    []byte
	ImageURL string
	Locale   string
}

// Config tunes the pipeline
type Config struct {
	Version       string
	DefaultLocale string
	MaxImageBytes int64
	TTL           time.Duration
	DegradedTTL   time.Duration
}

// Deps are the collaborators. Enricher, Fetcher, Archiver and Publisher are optional.
type Deps struct {
	Detector  Detector
	Catalog   Catalog
	Cache     Cache
	Enricher  Enricher
	Fetcher   Fetcher
	Archiver  Archiver
	Publisher events.Publisher
	Now       func() time.Time
}

// Outcome describes how a request was served
type Outcome struct {
	Result      *models.AnalysisResult
	Fingerprint string
	CacheHit    bool
	// Degraded is the error kind that made enrichment fall back, if this
	// request ran the load.
	Degraded string
	// States lists the steps this request went through
	States []State
}

// Pipeline is safe for concurrent use
type Pipeline struct {
	cfg  Config
	deps Deps
}

// New creates a pipeline
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.Version == "" {
		cfg.Version = "v1"
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "en"
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 10 << 20
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.DegradedTTL <= 0 || cfg.DegradedTTL > cfg.TTL {
		cfg.DegradedTTL = cfg.TTL
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	return &Pipeline{cfg: cfg, deps: deps}
}

// trace records states; the load may append from another goroutine
type trace struct {
	mu       sync.Mutex
	states   []State
	degraded string
}

func (t *trace) add(s State) {
	t.mu.Lock()
	t.states = append(t.states, s)
	t.mu.Unlock()
}

func (t *trace) snapshot() ([]State, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]State(nil), t.states...), t.degraded
}

func (t *trace) has(s State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, v := range t.states {
		if v == s {
			return true
		}
	}
	return false
}

// Analyze runs one request. It fails only on invalid input or when
// detection is unavailable; enrichment problems degrade the result.
func (p *Pipeline) Analyze(ctx context.Context, in Input) (*Outcome, error) {
	start := p.deps.Now()
	logger := logging.Ctx(ctx)
	tr := &trace{states: []State{StateStart}}

	locale := strings.TrimSpace(in.Locale)
	if locale == "" {
		locale = p.cfg.DefaultLocale
	}

	var canonical string
	switch {
	case len(in.Image) > 0:
		if err := p.checkImage(in.Image, ""); err != nil {
			return p.fail(tr, "", err)
		}
	case in.ImageURL != "":
		u, err := CanonicalURL(in.ImageURL)
		if err != nil {
			return p.fail(tr, "", apperr.Wrap(apperr.KindInvalidImage, "invalid image URL", err))
		}
		canonical = u
	default:
		return p.fail(tr, "", apperr.New(apperr.KindInvalidImage, "an image file or image_url is required"))
	}

	fp := Fingerprint(p.cfg.Version, locale, in.Image, canonical)
	tr.add(StateFingerprintComputed)
	tr.add(StateCacheLookup)

	load := func(lctx context.Context) (*models.AnalysisResult, time.Duration, error) {
		return p.load(lctx, tr, fp, in.Image, canonical, locale)
	}
	result, hit, err := p.deps.Cache.Do(ctx, fp, load)
	if hit {
		tr.add(StateCacheHit)
	} else if !tr.has(StateCacheMiss) {
		// Joined another request's load.
		tr.add(StateCacheMiss)
	}
	if err != nil {
		return p.fail(tr, fp, err)
	}
	if tr.has(StateAssembled) {
		tr.add(StateCached)
	}
	tr.add(StateDone)

	states, degraded := tr.snapshot()
	metrics.RecordAnalysis(string(StateDone), result.AIEnhanced)
	logger.Info().
		Str("fingerprint", fp).
		Bool("cache_hit", hit).
		Bool("ai_enhanced", result.AIEnhanced).
		Int("detections", len(result.Detections)).
		Dur("elapsed", p.deps.Now().Sub(start)).
		Msg("analysis complete")

	labels := make([]string, len(result.Detections))
	for i, d := range result.Detections {
		labels[i] = d.Label
	}
	events.PublishAsync(p.deps.Publisher, events.TopicAnalysisCompleted, events.AnalysisCompleted{
		Fingerprint: fp,
		Labels:      labels,
		CacheHit:    hit,
		AIEnhanced:  result.AIEnhanced,
		Degraded:    degraded,
		DurationMS:  p.deps.Now().Sub(start).Milliseconds(),
		At:          p.deps.Now(),
	})

	return &Outcome{Result: result, Fingerprint: fp, CacheHit: hit, Degraded: degraded, States: states}, nil
}

// load runs on a cache miss, at most once per fingerprint at a time
func (p *Pipeline) load(ctx context.Context, tr *trace, fp string, image []byte, canonical, locale string) (*models.AnalysisResult, time.Duration, error) {
	tr.add(StateCacheMiss)
	logger := logging.Ctx(ctx)

	contentType := ""
	if len(image) == 0 {
		if p.deps.Fetcher == nil {
			return nil, 0, apperr.New(apperr.KindInvalidImage, "image URLs are not supported")
		}
		data, ct, err := p.deps.Fetcher.Fetch(ctx, canonical)
		if err != nil {
			return nil, 0, err
		}
		if err := p.checkImage(data, ct); err != nil {
			return nil, 0, err
		}
		image, contentType = data, ct
	}

	tr.add(StateDetecting)
	detections, err := p.deps.Detector.Detect(ctx, image)
	if err != nil {
		return nil, 0, err
	}

	entries := make([]nutrition.Entry, len(detections))
	facts := make(map[string]models.NutritionFacts, len(detections))
	for i, d := range detections {
		e := p.deps.Catalog.Lookup(d.Label)
		entries[i] = e
		f := e.Facts
		f.Known = e.Known()
		facts[d.Label] = f
	}
	summary := nutrition.Summarize(entries)
	tr.add(StateNutritionResolved)

	result := &models.AnalysisResult{
		Detections:      detections,
		Nutrition:       facts,
		TotalNutrition:  summary.Total,
		UnknownLabels:   summary.Unknown,
		ConfidenceScore: meanConfidence(detections),
		Tips:            summary.Tips,
		Locale:          locale,
		PipelineVersion: p.cfg.Version,
	}

	ttl := p.cfg.TTL
	if p.deps.Enricher != nil && len(detections) > 0 {
		tr.add(StateEnriching)
		enr, err := p.deps.Enricher.Enrich(ctx, detections, locale)
		if err != nil && ctx.Err() != nil {
			// Abandoned by every caller, not an enrichment outage.
			return nil, 0, ctx.Err()
		}
		if err != nil {
			kind := apperr.KindOf(err)
			tr.mu.Lock()
			tr.degraded = string(kind)
			tr.mu.Unlock()
			ttl = p.cfg.DegradedTTL
			logger.Warn().Err(err).Str("fingerprint", fp).Str("kind", string(kind)).Msg("enrichment failed, returning degraded result")
		} else {
			result.AIEnhanced = true
			result.Commentary = enr.Commentary
			result.CulturalContext = enr.CulturalContext
		}
	}

	result.GeneratedAt = p.deps.Now().UTC()
	tr.add(StateAssembled)

	if p.deps.Archiver != nil {
		p.archive(fp, image, contentType)
	}
	return result, ttl, nil
}

func (p *Pipeline) archive(fp string, image []byte, contentType string) {
	if contentType == "" {
		contentType = http.DetectContentType(image)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.deps.Archiver.Archive(ctx, fp, image, contentType); err != nil {
			logging.Warn().Err(err).Str("fingerprint", fp).Msg("failed to archive image")
		}
	}()
}

// checkImage enforces the size limit and an image/* content type
func (p *Pipeline) checkImage(data []byte, contentType string) error {
	if len(data) == 0 {
		return apperr.New(apperr.KindInvalidImage, "the image is empty")
	}
	if int64(len(data)) > p.cfg.MaxImageBytes {
		return apperr.New(apperr.KindInvalidImage, "the image is too large")
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return apperr.New(apperr.KindInvalidImage, "the file is not an image")
	}
	return nil
}

func (p *Pipeline) fail(tr *trace, fp string, err error) (*Outcome, error) {
	tr.add(StateFailed)
	metrics.RecordAnalysis(string(StateFailed), false)

	var appErr *apperr.Error
	if !errors.As(err, &appErr) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		err = apperr.Wrap(apperr.KindInternal, "analysis failed", err)
	}
	logging.Warn().Err(err).Str("fingerprint", fp).Str("kind", string(apperr.KindOf(err))).Msg("analysis failed")
	return nil, err
}

func meanConfidence(ds []models.Detection) float64 {
	if len(ds) == 0 {
		return 0
	}
	var sum float64
	for _, d := range ds {
		sum += d.Confidence
	}
	return sum / float64(len(ds))
}

package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/cache"
	"github.com/pageza/foodlens/backend/internal/detection"
	"github.com/pageza/foodlens/backend/internal/enrichment"
	"github.com/pageza/foodlens/backend/internal/events"
	"github.com/pageza/foodlens/backend/internal/models"
	"github.com/pageza/foodlens/backend/internal/nutrition"
)

var pngImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDRfake-image-body")

type detectorFunc func(ctx context.Context, image []byte) ([]models.Detection, error)

func (f detectorFunc) Detect(ctx context.Context, image []byte) ([]models.Detection, error) {
	return f(ctx, image)
}

type enricherFunc func(ctx context.Context, ds []models.Detection, locale string) (enrichment.Enrichment, error)

func (f enricherFunc) Enrich(ctx context.Context, ds []models.Detection, locale string) (enrichment.Enrichment, error) {
	return f(ctx, ds, locale)
}

type fetcherFunc func(ctx context.Context, rawURL string) ([]byte, string, error)

func (f fetcherFunc) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	return f(ctx, rawURL)
}

type capturePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (c *capturePublisher) Publish(ctx context.Context, topic string, payload any) error {
	c.mu.Lock()
	c.topics = append(c.topics, topic)
	c.mu.Unlock()
	return nil
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.topics)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	pipeline    *Pipeline
	clock       *fakeClock
	detectCalls atomic.Int32
	enrichCalls atomic.Int32
	publisher   *capturePublisher
}

type harnessOpts struct {
	detect   detectorFunc
	enrich   enricherFunc
	fetch    fetcherFunc
	noEnrich bool
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	h := &harness{
		clock:     &fakeClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)},
		publisher: &capturePublisher{},
	}

	detect := opts.detect
	if detect == nil {
		detect = func(ctx context.Context, image []byte) ([]models.Detection, error) {
			return []models.Detection{
				{Label: "pizza", Confidence: 0.9, Category: "main_course"},
				{Label: "caesar_salad", Confidence: 0.5, Category: "side_dish"},
			}, nil
		}
	}
	enrich := opts.enrich
	if enrich == nil {
		enrich = func(ctx context.Context, ds []models.Detection, locale string) (enrichment.Enrichment, error) {
			return enrichment.Enrichment{Commentary: "Classic pairing.", CulturalContext: "Italian and American."}, nil
		}
	}

	c := cache.New(cache.Options{Now: h.clock.Now})
	t.Cleanup(c.Close)

	deps := Deps{
		Detector: detectorFunc(func(ctx context.Context, image []byte) ([]models.Detection, error) {
			h.detectCalls.Add(1)
			return detect(ctx, image)
		}),
		Catalog:   nutrition.Default(),
		Cache:     c,
		Publisher: h.publisher,
		Now:       h.clock.Now,
	}
	if !opts.noEnrich {
		deps.Enricher = enricherFunc(func(ctx context.Context, ds []models.Detection, locale string) (enrichment.Enrichment, error) {
			h.enrichCalls.Add(1)
			return enrich(ctx, ds, locale)
		})
	}
	if opts.fetch != nil {
		deps.Fetcher = opts.fetch
	}

	h.pipeline = New(Config{Version: "test", TTL: time.Hour, DegradedTTL: 2 * time.Minute, MaxImageBytes: 1024}, deps)
	return h
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()

	t.Run("should assemble an enriched result on a miss", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		out, err := h.pipeline.Analyze(ctx, Input{Image: pngImage, Locale: "en"})
		require.NoError(t, err)

		r := out.Result
		assert.False(t, out.CacheHit)
		assert.True(t, r.AIEnhanced)
		assert.Equal(t, "Classic pairing.", r.Commentary)
		assert.Equal(t, "Italian and American.", r.CulturalContext)
		assert.Equal(t, "test", r.PipelineVersion)
		assert.Equal(t, "en", r.Locale)
		assert.InDelta(t, 0.7, r.ConfidenceScore, 1e-9)
		assert.Equal(t, h.clock.Now(), r.GeneratedAt)
		require.Contains(t, r.Nutrition, "pizza")
		assert.True(t, r.Nutrition["pizza"].Known)
		assert.Equal(t, r.Nutrition["pizza"].Calories+r.Nutrition["caesar_salad"].Calories, r.TotalNutrition.Calories)
		assert.Equal(t, []State{
			StateStart, StateFingerprintComputed, StateCacheLookup, StateCacheMiss, StateDetecting,
			StateNutritionResolved, StateEnriching, StateAssembled, StateCached, StateDone,
		}, out.States)

		require.Eventually(t, func() bool { return h.publisher.count() == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("should serve repeats from the cache", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		first, err := h.pipeline.Analyze(ctx, Input{Image: pngImage})
		require.NoError(t, err)

		second, err := h.pipeline.Analyze(ctx, Input{Image: pngImage})
		require.NoError(t, err)
		assert.True(t, second.CacheHit)
		assert.Same(t, first.Result, second.Result)
		assert.Equal(t, []State{StateStart, StateFingerprintComputed, StateCacheLookup, StateCacheHit, StateDone}, second.States)
		assert.EqualValues(t, 1, h.detectCalls.Load())
		assert.EqualValues(t, 1, h.enrichCalls.Load())
	})

	t.Run("should key by locale", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		_, err := h.pipeline.Analyze(ctx, Input{Image: pngImage, Locale: "en"})
		require.NoError(t, err)
		out, err := h.pipeline.Analyze(ctx, Input{Image: pngImage, Locale: "fr"})
		require.NoError(t, err)
		assert.False(t, out.CacheHit)
		assert.Equal(t, "fr", out.Result.Locale)
	})

	t.Run("should skip enrichment when disabled", func(t *testing.T) {
		h := newHarness(t, harnessOpts{noEnrich: true})
		out, err := h.pipeline.Analyze(ctx, Input{Image: pngImage})
		require.NoError(t, err)
		assert.False(t, out.Result.AIEnhanced)
		assert.Empty(t, out.Degraded)
		assert.NotContains(t, out.States, StateEnriching)
	})

	t.Run("should not call enrichment for an empty plate", func(t *testing.T) {
		h := newHarness(t, harnessOpts{detect: func(ctx context.Context, image []byte) ([]models.Detection, error) {
			return nil, nil
		}})
		out, err := h.pipeline.Analyze(ctx, Input{Image: pngImage})
		require.NoError(t, err)
		assert.Empty(t, out.Result.Detections)
		assert.NotEmpty(t, out.Result.Tips)
		assert.EqualValues(t, 0, h.enrichCalls.Load())
	})
}

func TestAnalyzeDegraded(t *testing.T) {
	ctx := context.Background()

	t.Run("should succeed without AI when enrichment always times out", func(t *testing.T) {
		h := newHarness(t, harnessOpts{enrich: func(ctx context.Context, ds []models.Detection, locale string) (enrichment.Enrichment, error) {
			return enrichment.Enrichment{}, apperr.Wrap(apperr.KindEnrichmentTimeout, "timed out", context.DeadlineExceeded)
		}})

		out, err := h.pipeline.Analyze(ctx, Input{Image: pngImage})
		require.NoError(t, err)
		assert.False(t, out.Result.AIEnhanced)
		assert.Empty(t, out.Result.Commentary)
		assert.Empty(t, out.Result.CulturalContext)
		assert.Equal(t, "enrichment_timeout", out.Degraded)
		assert.Len(t, out.Result.Detections, 2)
		assert.Equal(t, StateDone, out.States[len(out.States)-1])
	})

	t.Run("should keep degraded results only for the degraded ttl", func(t *testing.T) {
		h := newHarness(t, harnessOpts{enrich: func(ctx context.Context, ds []models.Detection, locale string) (enrichment.Enrichment, error) {
			return enrichment.Enrichment{}, enrichment.ErrEnrichmentRejected
		}})

		_, err := h.pipeline.Analyze(ctx, Input{Image: pngImage})
		require.NoError(t, err)
		out, err := h.pipeline.Analyze(ctx, Input{Image: pngImage})
		require.NoError(t, err)
		assert.True(t, out.CacheHit)

		h.clock.Advance(2 * time.Minute)
		out, err = h.pipeline.Analyze(ctx, Input{Image: pngImage})
		require.NoError(t, err)
		assert.False(t, out.CacheHit)
		assert.EqualValues(t, 2, h.enrichCalls.Load())
	})
}

func TestAnalyzeAbandoned(t *testing.T) {
	t.Run("should not cache a degraded result when every caller left", func(t *testing.T) {
		var block atomic.Bool
		block.Store(true)
		entered := make(chan struct{}, 1)
		returned := make(chan struct{}, 1)
		h := newHarness(t, harnessOpts{
			enrich: func(ctx context.Context, ds []models.Detection, locale string) (enrichment.Enrichment, error) {
				if !block.Load() {
					return enrichment.Enrichment{Commentary: "Fresh."}, nil
				}
				defer func() { returned <- struct{}{} }()
				entered <- struct{}{}
				<-ctx.Done()
				return enrichment.Enrichment{}, apperr.Wrap(apperr.KindEnrichmentTimeout, "enrichment timed out", ctx.Err())
			},
		})

		ctx, cancel := context.WithCancel(context.Background())
		errs := make(chan error, 1)
		go func() {
			_, err := h.pipeline.Analyze(ctx, Input{Image: pngImage})
			errs <- err
		}()
		<-entered
		cancel()
		assert.ErrorIs(t, <-errs, context.Canceled)
		<-returned

		block.Store(false)
		out, err := h.pipeline.Analyze(context.Background(), Input{Image: pngImage})
		require.NoError(t, err)
		assert.False(t, out.CacheHit)
		assert.True(t, out.Result.AIEnhanced)
		assert.Equal(t, "Fresh.", out.Result.Commentary)
	})
}

func TestAnalyzeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("should fail when detection is unavailable and not cache it", func(t *testing.T) {
		h := newHarness(t, harnessOpts{detect: func(ctx context.Context, image []byte) ([]models.Detection, error) {
			return nil, apperr.Wrap(apperr.KindDetectionUnavailable, "down", errors.New("connection refused"))
		}})

		out, err := h.pipeline.Analyze(ctx, Input{Image: pngImage})
		assert.Nil(t, out)
		assert.ErrorIs(t, err, detection.ErrDetectionUnavailable)

		_, err = h.pipeline.Analyze(ctx, Input{Image: pngImage})
		assert.Error(t, err)
		assert.EqualValues(t, 2, h.detectCalls.Load())
		assert.EqualValues(t, 0, h.enrichCalls.Load())
	})

	for name, in := range map[string]Input{
		"no input":         {},
		"not an image":     {Image: []byte("just some text")},
		"too large":        {Image: append(append([]byte{}, pngImage...), make([]byte, 2048)...)},
		"bad url scheme":   {ImageURL: "ftp://example.com/a.png"},
		"url without host": {ImageURL: "https:///a.png"},
	} {
		t.Run("should reject "+name, func(t *testing.T) {
			h := newHarness(t, harnessOpts{})
			_, err := h.pipeline.Analyze(ctx, in)
			assert.Equal(t, apperr.KindInvalidImage, apperr.KindOf(err))
			assert.EqualValues(t, 0, h.detectCalls.Load())
		})
	}

	t.Run("should reject URL inputs without a fetcher", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		_, err := h.pipeline.Analyze(ctx, Input{ImageURL: "https://example.com/a.png"})
		assert.Equal(t, apperr.KindInvalidImage, apperr.KindOf(err))
	})
}

func TestAnalyzeURL(t *testing.T) {
	t.Run("should fetch once for equivalent URLs", func(t *testing.T) {
		var fetches atomic.Int32
		h := newHarness(t, harnessOpts{fetch: func(ctx context.Context, rawURL string) ([]byte, string, error) {
			fetches.Add(1)
			assert.Equal(t, "https://example.com/food.png?a=1&b=2", rawURL)
			return pngImage, "image/png", nil
		}})

		_, err := h.pipeline.Analyze(context.Background(), Input{ImageURL: "HTTPS://Example.com:443/food.png?b=2&a=1#top"})
		require.NoError(t, err)
		out, err := h.pipeline.Analyze(context.Background(), Input{ImageURL: "https://example.com/food.png?a=1&b=2"})
		require.NoError(t, err)
		assert.True(t, out.CacheHit)
		assert.EqualValues(t, 1, fetches.Load())
	})

	t.Run("should reject downloads that are not images", func(t *testing.T) {
		h := newHarness(t, harnessOpts{fetch: func(ctx context.Context, rawURL string) ([]byte, string, error) {
			return []byte("<html></html>"), "text/html", nil
		}})
		_, err := h.pipeline.Analyze(context.Background(), Input{ImageURL: "https://example.com/page"})
		assert.Equal(t, apperr.KindInvalidImage, apperr.KindOf(err))
	})
}

func TestAnalyzeConcurrent(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, harnessOpts{detect: func(ctx context.Context, image []byte) ([]models.Detection, error) {
		<-release
		return []models.Detection{{Label: "sushi", Confidence: 0.8, Category: "main_course"}}, nil
	}})

	const n = 16
	var wg sync.WaitGroup
	results := make([]*models.AnalysisResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := h.pipeline.Analyze(context.Background(), Input{Image: pngImage})
			if assert.NoError(t, err) {
				results[i] = out.Result
			}
		}(i)
	}

	require.Eventually(t, func() bool { return h.detectCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, h.detectCalls.Load())
	assert.EqualValues(t, 1, h.enrichCalls.Load())
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestFingerprint(t *testing.T) {
	t.Run("should be deterministic and scoped by version and locale", func(t *testing.T) {
		a := Fingerprint("v1", "en", pngImage, "")
		assert.Equal(t, a, Fingerprint("v1", "EN", pngImage, ""))
		assert.Len(t, a, 64)
		assert.NotEqual(t, a, Fingerprint("v2", "en", pngImage, ""))
		assert.NotEqual(t, a, Fingerprint("v1", "fr", pngImage, ""))
		assert.NotEqual(t, a, Fingerprint("v1", "en", []byte("other"), ""))
	})

	t.Run("should distinguish image and URL inputs", func(t *testing.T) {
		assert.NotEqual(t, Fingerprint("v1", "en", nil, "https://a.com/x"), Fingerprint("v1", "en", nil, "https://a.com/y"))
	})
}

func TestCanonicalURL(t *testing.T) {
	cases := map[string]string{
		"HTTP://Example.COM:80/a.jpg":          "http://example.com/a.jpg",
		"https://example.com:443/a.jpg#frag":   "https://example.com/a.jpg",
		"https://example.com:8443/a.jpg":       "https://example.com:8443/a.jpg",
		"https://example.com":                  "https://example.com/",
		"https://example.com/a?z=1&a=2&a=1":    "https://example.com/a?a=1&a=2&z=1",
		"  https://example.com/Path/Case.PNG ": "https://example.com/Path/Case.PNG",
	}
	for in, want := range cases {
		got, err := CanonicalURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"ftp://example.com/a", "not a url", "https://", "://x"} {
		_, err := CanonicalURL(bad)
		assert.Error(t, err, bad)
	}
}

var _ events.Publisher = (*capturePublisher)(nil)

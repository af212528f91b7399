// Package cache stores analysis results by request fingerprint.
//
// Entries live in an in-process LRU with per-entry TTL, optionally backed by
// a shared Store (Redis). Concurrent misses for one fingerprint share a
// single load.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/pageza/foodlens/backend/internal/apperr"
	"github.com/pageza/foodlens/backend/internal/logging"
	"github.com/pageza/foodlens/backend/internal/metrics"
	"github.com/pageza/foodlens/backend/internal/models"
)

var (
	// ErrMiss is returned by a Store that has no live entry for a fingerprint
	ErrMiss = errors.New("cache: miss")
	// ErrCacheUnavailable wraps failures of the shared tier. It is logged and absorbed.
	ErrCacheUnavailable = apperr.New(apperr.KindCacheUnavailable, "shared cache unavailable")
)

// Store is a shared second tier
type Store interface {
	// Get returns the result and its remaining lifetime, or ErrMiss
	Get(ctx context.Context, fingerprint string) (*models.AnalysisResult, time.Duration, error)
	Set(ctx context.Context, fingerprint string, result *models.AnalysisResult, ttl time.Duration) error
}

// Loader computes a result on a miss and says how long to keep it.
// A ttl of zero or less means the result is returned but not stored.
type Loader func(ctx context.Context) (*models.AnalysisResult, time.Duration, error)

// Options configures a ResultCache
type Options struct {
	// MaxEntries caps the in-process tier; zero means unbounded
	MaxEntries    int
	SweepInterval time.Duration
	Store         Store
	// StoreTimeout bounds each call to Store
	StoreTimeout time.Duration
	Now          func() time.Time
}

type entry struct {
	fingerprint string
	result      *models.AnalysisResult
	expiresAt   time.Time
}

type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// ResultCache is safe for concurrent use. Call Close to stop the sweeper.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]*list.Element
	lru     *list.List
	pins    map[string]int

	flightMu sync.Mutex
	flights  map[string]*flight
	group    singleflight.Group

	maxEntries   int
	store        Store
	storeTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its sweeper
func New(opts Options) *ResultCache {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 500 * time.Millisecond
	}

	c := &ResultCache{
		entries:      make(map[string]*list.Element),
		lru:          list.New(),
		pins:         make(map[string]int),
		flights:      make(map[string]*flight),
		maxEntries:   opts.MaxEntries,
		store:        opts.Store,
		storeTimeout: opts.StoreTimeout,
		now:          opts.Now,
		logger:       logging.With("cache"),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go c.sweepLoop(opts.SweepInterval)
	return c
}

// Get returns a live entry. Expired entries are misses and are dropped.
func (c *ResultCache) Get(ctx context.Context, fingerprint string) (*models.AnalysisResult, bool) {
	if r, ok := c.getLocal(fingerprint); ok {
		metrics.CacheHits.WithLabelValues("memory").Inc()
		return r, true
	}

	if c.store != nil {
		r, ttl, err := c.storeGet(ctx, fingerprint)
		switch {
		case err == nil:
			metrics.CacheHits.WithLabelValues("redis").Inc()
			c.putLocal(fingerprint, r, ttl)
			return r, true
		case errors.Is(err, ErrMiss):
		default:
			c.unavailable(err, "read")
		}
	}

	metrics.CacheMisses.Inc()
	return nil, false
}

// Put stores result for ttl in every tier. Non-positive ttls are ignored.
func (c *ResultCache) Put(ctx context.Context, fingerprint string, result *models.AnalysisResult, ttl time.Duration) {
	if ttl <= 0 || result == nil {
		return
	}
	c.putLocal(fingerprint, result, ttl)

	if c.store != nil {
		sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
		defer cancel()
		if err := c.store.Set(sctx, fingerprint, result, ttl); err != nil {
			c.unavailable(err, "write")
		}
	}
}

// Do returns the cached result for fingerprint or runs load. Concurrent
// callers with the same fingerprint share one load. A caller may leave on
// its own context; the load is cancelled only once every caller has left.
// hit reports whether the result came from the cache.
func (c *ResultCache) Do(ctx context.Context, fingerprint string, load Loader) (result *models.AnalysisResult, hit bool, err error) {
	if r, ok := c.Get(ctx, fingerprint); ok {
		return r, true, nil
	}

	f, ch := c.join(ctx, fingerprint, load)
	select {
	case res := <-ch:
		c.leave(fingerprint, f)
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*models.AnalysisResult), false, nil
	case <-ctx.Done():
		c.leave(fingerprint, f)
		return nil, false, ctx.Err()
	}
}

// join attaches the caller to the in-flight load for fingerprint, starting
// one if none is running.
func (c *ResultCache) join(ctx context.Context, fingerprint string, load Loader) (*flight, <-chan singleflight.Result) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	f, ok := c.flights[fingerprint]
	if ok {
		metrics.CoalescedRequests.Inc()
	} else {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[fingerprint] = f
		c.pin(fingerprint)
	}
	f.waiters++

	// While flights[fingerprint] is f the group key belongs to f's call, so
	// this closure only runs for the caller that created f.
	ch := c.group.DoChan(fingerprint, func() (any, error) {
		defer c.finish(fingerprint, f)
		return c.load(f.ctx, fingerprint, load)
	})
	return f, ch
}

func (c *ResultCache) load(ctx context.Context, fingerprint string, load Loader) (*models.AnalysisResult, error) {
	// A previous flight may have stored the result after this caller missed.
	if r, ok := c.getLocal(fingerprint); ok {
		return r, nil
	}
	r, ttl, err := load(ctx)
	if err != nil {
		return nil, err
	}
	// Every caller left. Whatever the loader salvaged was built under a
	// cancelled context and must not outlive it.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.Put(ctx, fingerprint, r, ttl)
	return r, nil
}

func (c *ResultCache) finish(fingerprint string, f *flight) {
	c.flightMu.Lock()
	if c.flights[fingerprint] == f {
		delete(c.flights, fingerprint)
		c.group.Forget(fingerprint)
	}
	c.flightMu.Unlock()
	c.unpin(fingerprint)
}

func (c *ResultCache) leave(fingerprint string, f *flight) {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[fingerprint] == f {
		// Abandoned: the next caller starts a fresh load.
		delete(c.flights, fingerprint)
		c.group.Forget(fingerprint)
		c.logger.Debug().Str("fingerprint", fingerprint).Msg("all callers left, cancelling load")
	}
}

// Waiting reports how many callers are attached to the in-flight load
func (c *ResultCache) Waiting(fingerprint string) int {
	c.flightMu.Lock()
	defer c.flightMu.Unlock()
	if f, ok := c.flights[fingerprint]; ok {
		return f.waiters
	}
	return 0
}

// Len returns the number of entries in the in-process tier, expired or not
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// Close stops the sweeper. The cache stays usable.
func (c *ResultCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

func (c *ResultCache) getLocal(fingerprint string) (*models.AnalysisResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[fingerprint]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if !c.now().Before(e.expiresAt) {
		c.removeElement(el)
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
		return nil, false
	}
	c.lru.MoveToFront(el)
	return e.result, true
}

func (c *ResultCache) putLocal(fingerprint string, result *models.AnalysisResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{fingerprint: fingerprint, result: result, expiresAt: c.now().Add(ttl)}
	if el, ok := c.entries[fingerprint]; ok {
		el.Value = e
		c.lru.MoveToFront(el)
	} else {
		c.entries[fingerprint] = c.lru.PushFront(e)
	}
	c.evictOverCapacity(fingerprint)
}

// evictOverCapacity drops least recently used entries, skipping pinned
// fingerprints and keep. Callers hold c.mu.
func (c *ResultCache) evictOverCapacity(keep string) {
	if c.maxEntries <= 0 {
		return
	}
	for el := c.lru.Back(); el != nil && c.lru.Len() > c.maxEntries; {
		prev := el.Prev()
		fp := el.Value.(*entry).fingerprint
		if fp != keep && c.pins[fp] == 0 {
			c.removeElement(el)
			metrics.CacheEvictions.WithLabelValues("capacity").Inc()
		}
		el = prev
	}
}

func (c *ResultCache) removeElement(el *list.Element) {
	c.lru.Remove(el)
	delete(c.entries, el.Value.(*entry).fingerprint)
}

func (c *ResultCache) pin(fingerprint string) {
	c.mu.Lock()
	c.pins[fingerprint]++
	c.mu.Unlock()
}

func (c *ResultCache) unpin(fingerprint string) {
	c.mu.Lock()
	if c.pins[fingerprint] <= 1 {
		delete(c.pins, fingerprint)
	} else {
		c.pins[fingerprint]--
	}
	c.mu.Unlock()
}

// Sweep removes every expired entry and returns how many were dropped
func (c *ResultCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*entry).expiresAt) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("expired").Add(float64(removed))
	}
	return removed
}

func (c *ResultCache) sweepLoop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug().Int("removed", n).Msg("swept expired entries")
			}
		}
	}
}

func (c *ResultCache) storeGet(ctx context.Context, fingerprint string) (*models.AnalysisResult, time.Duration, error) {
	sctx, cancel := context.WithTimeout(ctx, c.storeTimeout)
	defer cancel()
	return c.store.Get(sctx, fingerprint)
}

func (c *ResultCache) unavailable(err error, op string) {
	metrics.CacheUnavailable.Inc()
	c.logger.Warn().Err(apperr.Wrap(apperr.KindCacheUnavailable, ErrCacheUnavailable.Message, err)).
		Str("op", op).Msg("shared cache failed, continuing without it")
}

// Package enrich fetches external movie metadata under rate and
// availability constraints. The client wraps a Provider with caching, rate
// limiting and bounded retry; it performs no store writes beyond optional
// cache persistence.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tsalonen/cinetl/internal/conf"
	"github.com/tsalonen/cinetl/internal/errors"
	"github.com/tsalonen/cinetl/internal/logging"
	"github.com/tsalonen/cinetl/internal/store"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Result is the metadata fetched for one movie. Missing fields stay nil:
// enrichment is best-effort, not all-or-nothing.
type Result struct {
	Found     bool
	Director  *string
	Plot      *string
	BoxOffice *string
}

// Provider performs one metadata lookup against the external service.
type Provider interface {
	Lookup(ctx context.Context, title string, year *int) (Result, error)
}

// cacheEntry remembers the outcome of a lookup, success or failure, so an
// identical key is never fetched twice in one run.
type cacheEntry struct {
	result Result
	err    error
}

const defaultBackoffBase = time.Second

// Client is the enrichment client. Its lifetime is one pipeline run; the
// in-memory cache is not shared across runs unless persistence is enabled.
type Client struct {
	provider    Provider
	limiter     *rate.Limiter
	cache       *gocache.Cache
	store       store.Interface // nil unless the persistent cache is enabled
	maxWait     time.Duration
	maxRetries  int
	backoffBase time.Duration // overridable in tests
	cacheTTL    time.Duration
	debug       bool
	logger      *slog.Logger

	// flight collapses concurrent fetches for the same key so workers
	// racing on a shared (title, year) issue one provider call.
	flight singleflight.Group
}

// New creates an enrichment client around the given provider. st may be nil;
// it is only used when settings enable the persistent cache.
func New(settings *conf.Settings, provider Provider, st store.Interface) *Client {
	e := settings.Enrichment
	if !e.CachePersist {
		st = nil
	}
	maxRetries := e.OMDb.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	c := &Client{
		provider:    provider,
		limiter:     rate.NewLimiter(rate.Limit(e.OMDb.RequestsPerSecond), max(e.OMDb.Burst, 1)),
		cache:       gocache.New(e.CacheTTL, 2*e.CacheTTL),
		store:       st,
		maxWait:     e.OMDb.MaxWait,
		maxRetries:  maxRetries,
		backoffBase: defaultBackoffBase,
		cacheTTL:    e.CacheTTL,
		debug:       e.Debug,
		logger:      logging.ForService("enrich"),
	}
	c.warmFromStore()
	return c
}

// warmFromStore preloads fresh persisted outcomes so a run starts with the
// previous runs' cache already in memory.
func (c *Client) warmFromStore() {
	if c.store == nil {
		return
	}
	entries, err := c.store.GetAllEnrichmentCaches()
	if err != nil {
		c.logger.Warn("failed to preload enrichment cache", "error", err)
		return
	}
	loaded := 0
	for i := range entries {
		stored := &entries[i]
		if c.cacheTTL > 0 && time.Since(stored.CachedAt) > c.cacheTTL {
			continue
		}
		c.cache.SetDefault(stored.CacheKey, entryFromStored(stored))
		loaded++
	}
	if loaded > 0 {
		c.logger.Info("preloaded enrichment cache", "entries", loaded)
	}
}

// cacheKey builds the (title, year) cache key.
func cacheKey(title string, year *int) string {
	if year == nil {
		return title
	}
	return fmt.Sprintf("%s (%d)", title, *year)
}

// Fetch looks up metadata for one movie. The error, when non-nil, carries a
// category the orchestrator maps to a report outcome: not-found/enrichment
// for terminal failures, network/timeout when retries exhausted, rate-limit
// when the limiter wait exceeded its bound.
func (c *Client) Fetch(ctx context.Context, title string, year *int) (Result, error) {
	key := cacheKey(title, year)

	if v, ok := c.cache.Get(key); ok {
		entry := v.(cacheEntry)
		if c.debug {
			c.logger.Debug("cache hit", "key", key, "found", entry.result.Found)
		}
		return entry.result, entry.err
	}

	// Concurrent callers for the same key share one lookup; the late ones
	// get the first caller's outcome.
	v, err, _ := c.flight.Do(key, func() (any, error) {
		return c.lookup(ctx, key, title, year)
	})
	result, _ := v.(Result)
	return result, err
}

// lookup is the cache-miss path behind the flight group. A caller that
// queued behind a finished flight for the same key re-checks the cache
// first instead of refetching.
func (c *Client) lookup(ctx context.Context, key, title string, year *int) (Result, error) {
	if v, ok := c.cache.Get(key); ok {
		entry := v.(cacheEntry)
		return entry.result, entry.err
	}

	if entry, ok := c.loadPersisted(key); ok {
		c.cache.SetDefault(key, entry)
		return entry.result, entry.err
	}

	result, err := c.fetchWithRetry(ctx, key, title, year)

	switch {
	case err == nil:
		c.cache.SetDefault(key, cacheEntry{result: result})
		c.persist(key, title, year, result, "")
	case isTerminal(err):
		// Negative caching: a known-missing title is not refetched.
		c.cache.SetDefault(key, cacheEntry{err: err})
		c.persist(key, title, year, Result{}, err.Error())
	case errors.HasCategory(err, errors.CategoryNetwork) || errors.HasCategory(err, errors.CategoryTimeout):
		// Remember the exhausted attempt for the rest of this run only.
		c.cache.SetDefault(key, cacheEntry{err: err})
	}
	return result, err
}

// fetchWithRetry runs the bounded-attempt loop: wait on the limiter, call
// the provider, back off exponentially on transient failures.
func (c *Client) fetchWithRetry(ctx context.Context, key, title string, year *int) (Result, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.waitForLimiter(ctx); err != nil {
			return Result{}, err
		}

		result, err := c.provider.Lookup(ctx, title, year)
		if err == nil {
			if c.debug {
				c.logger.Debug("lookup succeeded", "key", key, "attempt", attempt+1)
			}
			return result, nil
		}
		if isTerminal(err) {
			return Result{}, err
		}
		lastErr = err
		c.logger.Warn("transient lookup failure",
			"key", key,
			"attempt", attempt+1,
			"max_attempts", c.maxRetries,
			"error", err)

		if attempt < c.maxRetries-1 {
			if err := c.backoff(ctx, attempt); err != nil {
				return Result{}, err
			}
		}
	}

	return Result{}, errors.New(lastErr).
		Component("enrich").
		Category(errors.GetCategory(lastErr)).
		Context("key", key).
		Context("attempts", c.maxRetries).
		Build()
}

// waitForLimiter blocks on the rate limiter up to the configured maximum
// wait, after which the call is abandoned as rate-limit exceeded.
func (c *Client) waitForLimiter(ctx context.Context) error {
	waitCtx := ctx
	if c.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.maxWait)
		defer cancel()
	}
	if err := c.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return errors.New(ctx.Err()).
				Component("enrich").
				Category(errors.CategoryCancellation).
				Build()
		}
		return errors.Newf("rate limiter wait exceeded %v", c.maxWait).
			Component("enrich").
			Category(errors.CategoryRateLimit).
			Build()
	}
	return nil
}

// backoff sleeps for an exponentially growing interval with jitter,
// returning early when the context is cancelled.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	wait := c.backoffBase<<attempt + time.Duration(rand.Int64N(int64(c.backoffBase)))
	select {
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("enrich").
			Category(errors.CategoryCancellation).
			Build()
	case <-time.After(wait):
		return nil
	}
}

// loadPersisted checks the store-backed cache for a fresh entry.
func (c *Client) loadPersisted(key string) (cacheEntry, bool) {
	if c.store == nil {
		return cacheEntry{}, false
	}
	stored, err := c.store.GetEnrichmentCache(key)
	if err != nil || stored == nil {
		return cacheEntry{}, false
	}
	if c.cacheTTL > 0 && time.Since(stored.CachedAt) > c.cacheTTL {
		return cacheEntry{}, false
	}
	return entryFromStored(stored), true
}

// entryFromStored maps a persisted cache row back to an in-memory entry.
func entryFromStored(stored *store.EnrichmentCache) cacheEntry {
	if !stored.Found {
		return cacheEntry{err: errors.Newf("%s", stored.FailureReason).
			Component("enrich").
			Category(errors.CategoryNotFound).
			Context("key", stored.CacheKey).
			Build()}
	}
	return cacheEntry{result: Result{
		Found:     true,
		Director:  stored.Director,
		Plot:      stored.Plot,
		BoxOffice: stored.BoxOffice,
	}}
}

// persist writes an outcome to the store-backed cache when enabled.
func (c *Client) persist(key, title string, year *int, result Result, failureReason string) {
	if c.store == nil {
		return
	}
	entry := &store.EnrichmentCache{
		CacheKey:      key,
		Title:         title,
		Year:          year,
		Found:         failureReason == "",
		Director:      result.Director,
		Plot:          result.Plot,
		BoxOffice:     result.BoxOffice,
		FailureReason: failureReason,
		CachedAt:      time.Now(),
	}
	if err := c.store.SaveEnrichmentCache(entry); err != nil {
		// Cache persistence is best-effort, the run continues without it.
		c.logger.Warn("failed to persist cache entry", "key", key, "error", err)
	}
}

// isTerminal reports whether a lookup error must not be retried.
func isTerminal(err error) bool {
	switch errors.GetCategory(err) {
	case errors.CategoryNotFound, errors.CategoryEnrichment, errors.CategoryConfiguration:
		return true
	}
	return false
}

package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/zhouzirui/smartguard/internal/service/assets"

// Cache is a named, write-once store of widget assets. It is filled by
// Precache and never invalidated; a new cache name is the only refresh.
type Cache struct {
	name   string
	origin Origin
	logger *zap.Logger

	requests metric.Int64Counter

	mu      sync.RWMutex
	entries map[string]*Asset
}

// NewCache returns an empty cache backed by origin.
func NewCache(name string, origin Origin, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		name:    name,
		origin:  origin,
		logger:  logger.Named("assets").With(zap.String("cache", name)),
		entries: make(map[string]*Asset),
	}

	var err error
	c.requests, err = otel.Meter(instrumentationName).Int64Counter(
		"smartguard.assets.requests",
		metric.WithDescription("Asset requests by cache outcome"),
	)
	if err != nil {
		c.logger.Warn("failed to create asset counter", zap.Error(err))
	}
	return c
}

// Name returns the cache name.
func (c *Cache) Name() string { return c.name }

// Len returns the number of cached assets.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Precache fetches every path and stores them together. If any fetch fails
// nothing is stored and the first error is returned.
func (c *Cache) Precache(ctx context.Context, paths []string) error {
	fetched := make(map[string]*Asset, len(paths))
	for _, p := range paths {
		asset, err := c.origin.Fetch(ctx, p)
		if err != nil {
			return fmt.Errorf("precache %s: %w", p, err)
		}
		fetched[cleanPath(p)] = asset
	}

	c.mu.Lock()
	for k, v := range fetched {
		c.entries[k] = v
	}
	c.mu.Unlock()

	c.logger.Info("assets precached", zap.Int("count", len(fetched)))
	return nil
}

// Lookup returns the cached asset for path.
func (c *Cache) Lookup(path string) (*Asset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.entries[cleanPath(path)]
	return a, ok
}

// ServeHTTP answers from the cache first and falls back to the origin.
// Origin responses are not stored.
func (c *Cache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	if asset, ok := c.Lookup(r.URL.Path); ok {
		c.count(r.Context(), "hit")
		serve(w, r, asset)
		return
	}

	asset, err := c.origin.Fetch(r.Context(), r.URL.Path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.count(r.Context(), "not_found")
			http.NotFound(w, r)
			return
		}
		c.count(r.Context(), "error")
		c.logger.Warn("origin fetch failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	c.count(r.Context(), "miss")
	serve(w, r, asset)
}

func (c *Cache) count(ctx context.Context, outcome string) {
	if c.requests == nil {
		return
	}
	c.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", c.name),
		attribute.String("outcome", outcome),
	))
}

func serve(w http.ResponseWriter, r *http.Request, a *Asset) {
	if a.ContentType != "" {
		w.Header().Set("Content-Type", a.ContentType)
	}
	http.ServeContent(w, r, a.Path, a.ModTime, bytes.NewReader(a.Body))
}

package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/fweather/internal/models"
	"github.com/kjstillabower/fweather/internal/observability"
)

// DefaultTTL is how long a fetched snapshot may be served as a fallback.
const DefaultTTL = 2 * time.Hour

// WeatherCache is the single-slot snapshot cache. Writes go to memory and the durable
// Store; the last write wins. Safe for concurrent use.
type WeatherCache struct {
	mu        sync.Mutex
	store     Store
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger
	snapshot  *models.WeatherSnapshot
	timestamp int64 // ms since epoch, 0 when empty

	warmOnce sync.Once
	warmErr  error
}

// Option configures a WeatherCache.
type Option func(*WeatherCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *WeatherCache) { c.now = now }
}

func NewWeatherCache(store Store, ttl time.Duration, logger *zap.Logger, opts ...Option) *WeatherCache {
	if store == nil {
		store = NewMemoryStore()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &WeatherCache{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.Named("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *WeatherCache) TTL() time.Duration {
	return c.ttl
}

// IsValid reports whether the slot holds a real snapshot younger than the TTL.
func (c *WeatherCache) IsValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validLocked()
}

func (c *WeatherCache) validLocked() bool {
	if c.snapshot == nil || c.timestamp <= 0 || c.snapshot.IsSentinel() {
		return false
	}
	return c.now().UnixMilli()-c.timestamp < c.ttl.Milliseconds()
}

// Latest returns the cached snapshot when valid. A stale entry is cleared from memory
// and from the store.
func (c *WeatherCache) Latest(ctx context.Context) (models.WeatherSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.validLocked() {
		return *c.snapshot, true
	}
	if c.snapshot != nil {
		c.logger.Debug("dropping stale cache entry", zap.Int64("timestamp", c.timestamp))
		c.clearLocked(ctx)
	}
	return models.WeatherSnapshot{}, false
}

// Age returns how old the cached snapshot is. ok is false when the slot is empty.
func (c *WeatherCache) Age() (age time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil || c.timestamp <= 0 {
		return 0, false
	}
	return time.Duration(c.now().UnixMilli()-c.timestamp) * time.Millisecond, true
}

// Store replaces the cached snapshot and stamps it with the current time. The memory
// slot is updated even when the durable write fails.
func (c *WeatherCache) Store(ctx context.Context, s models.WeatherSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UnixMilli()
	c.snapshot = &s
	c.timestamp = ts

	if err := c.store.Save(ctx, Record{Serialized: s.Serialize(), TimestampMillis: ts}); err != nil {
		observability.CacheStoreErrorsTotal.WithLabelValues("save").Inc()
		c.logger.Warn("failed to persist cache entry", zap.Error(err))
		return err
	}
	return nil
}

// Invalidate empties the slot in memory and in the durable store.
func (c *WeatherCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clearLocked(ctx)
}

func (c *WeatherCache) clearLocked(ctx context.Context) error {
	c.snapshot = nil
	c.timestamp = 0
	if err := c.store.Clear(ctx); err != nil {
		observability.CacheStoreErrorsTotal.WithLabelValues("clear").Inc()
		c.logger.Warn("failed to clear persisted cache", zap.Error(err))
		return err
	}
	return nil
}

package cache

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/fweather/internal/models"
	"github.com/kjstillabower/fweather/internal/observability"
)

// Warm loads the persisted slot into memory. Only the first call per WeatherCache does
// any work; later calls return the first call's result. A record that fails to
// deserialize is removed from the store.
func (c *WeatherCache) Warm(ctx context.Context) error {
	c.warmOnce.Do(func() {
		c.warmErr = c.warm(ctx)
	})
	return c.warmErr
}

func (c *WeatherCache) warm(ctx context.Context) error {
	rec, err := c.store.Load(ctx)
	if errors.Is(err, ErrNoRecord) {
		c.logger.Debug("no persisted cache entry")
		return nil
	}
	if err != nil {
		observability.CacheStoreErrorsTotal.WithLabelValues("load").Inc()
		return fmt.Errorf("load persisted cache: %w", err)
	}

	snapshot, ok := models.DeserializeSnapshot(rec.Serialized)
	if !ok {
		c.logger.Warn("discarding unreadable cache entry", zap.String("serialized", rec.Serialized))
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.clearLocked(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A Store that raced ahead of warm-up holds a newer reading.
	if c.snapshot != nil && c.timestamp >= rec.TimestampMillis {
		return nil
	}
	c.snapshot = &snapshot
	c.timestamp = rec.TimestampMillis
	c.logger.Info("cache warmed from store",
		zap.String("location", snapshot.Location),
		zap.Int64("timestamp", rec.TimestampMillis),
		zap.Bool("valid", c.validLocked()),
	)
	return nil
}

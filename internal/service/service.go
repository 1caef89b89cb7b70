// Package service holds the weather retrieval pipeline: location or manual place in,
// best-effort snapshot out.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/fweather/internal/cache"
	"github.com/kjstillabower/fweather/internal/client"
	"github.com/kjstillabower/fweather/internal/location"
	"github.com/kjstillabower/fweather/internal/models"
	"github.com/kjstillabower/fweather/internal/network"
	"github.com/kjstillabower/fweather/internal/observability"
	"github.com/kjstillabower/fweather/internal/traffic"
	"github.com/kjstillabower/fweather/internal/validation"
)

// ErrLocationNotReady means no fix has arrived yet. The caller must leave the current
// display alone; the pipeline asks the location source to call back once ready.
var ErrLocationNotReady = errors.New("location not ready")

// Diagnostic event descriptions.
const (
	EventNoLocation     = "no location found"
	EventNoWeatherData  = "no weather data"
	EventInvalidWeather = "invalid weather JSON"
	EventNoNetwork      = "no network"
)

// LocationSource is the part of location.Tracker the pipeline uses.
type LocationSource interface {
	LastKnown(onReady func()) (*location.Location, error)
}

// Options wires the pipeline. Client, Cache, Locations and Network are required.
type Options struct {
	Client    client.WeatherClient
	Cache     *cache.WeatherCache
	Locations LocationSource
	Network   network.Checker
	Events    observability.EventSink
	Outcomes  *traffic.Tracker
	Logger    *zap.Logger

	// ManualPlace, when set, replaces location lookup with a place query.
	ManualPlace string
	// OnLocationReady is handed to the location source when no fix is available yet.
	OnLocationReady func()
}

// Pipeline produces the snapshot shown on widgets. FetchWeather may be called from
// several goroutines, though the updater runs it from one worker.
type Pipeline struct {
	client    client.WeatherClient
	cache     *cache.WeatherCache
	locations LocationSource
	network   network.Checker
	events    observability.EventSink
	outcomes  *traffic.Tracker
	logger    *zap.Logger

	mu              sync.Mutex
	manualPlace     string
	onLocationReady func()
}

func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Client == nil || opts.Cache == nil || opts.Locations == nil || opts.Network == nil {
		return nil, errors.New("pipeline: client, cache, locations and network are required")
	}
	if opts.Events == nil {
		opts.Events = observability.NopEvents{}
	}
	if opts.Outcomes == nil {
		opts.Outcomes = traffic.NewTracker(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	p := &Pipeline{
		client:          opts.Client,
		cache:           opts.Cache,
		locations:       opts.Locations,
		network:         opts.Network,
		events:          opts.Events,
		outcomes:        opts.Outcomes,
		logger:          opts.Logger.Named("pipeline"),
		onLocationReady: opts.OnLocationReady,
	}
	if err := p.SetManualPlace(opts.ManualPlace); err != nil {
		return nil, err
	}
	return p, nil
}

// SetManualPlace sets the place override. An empty string switches back to location lookup.
func (p *Pipeline) SetManualPlace(place string) error {
	if place != "" {
		valid, err := validation.ValidatePlace(place, validation.PlaceMinLen, validation.PlaceMaxLen)
		if err != nil {
			return fmt.Errorf("manual place %q: %w", place, err)
		}
		place = valid
	}
	p.mu.Lock()
	p.manualPlace = place
	p.mu.Unlock()
	return nil
}

func (p *Pipeline) ManualPlace() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manualPlace
}

// SetOnLocationReady replaces the callback handed to the location source.
func (p *Pipeline) SetOnLocationReady(fn func()) {
	p.mu.Lock()
	p.onLocationReady = fn
	p.mu.Unlock()
}

func (p *Pipeline) onReady() func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onLocationReady
}

// Latest returns the cached snapshot when it is still valid.
func (p *Pipeline) Latest(ctx context.Context) (models.WeatherSnapshot, bool) {
	return p.cache.Latest(ctx)
}

// FetchWeather returns the best snapshot available. The only error is ErrLocationNotReady;
// every other failure resolves to a cached or sentinel snapshot.
func (p *Pipeline) FetchWeather(ctx context.Context, forced bool) (models.WeatherSnapshot, error) {
	logger := observability.LoggerFrom(ctx, p.logger)

	// Warm first so a forced refresh also drops what a previous process persisted.
	if err := p.cache.Warm(ctx); err != nil {
		logger.Warn("cache warm-up failed", zap.Error(err))
	}
	if forced {
		logger.Debug("forced refresh, dropping cached weather")
		if err := p.cache.Invalidate(ctx); err != nil {
			logger.Warn("cache invalidation failed", zap.Error(err))
		}
	}

	if !p.network.Available(ctx) {
		logger.Warn("no network available, using cached weather if any")
		p.events.SendException(EventNoNetwork, false)
		return p.fallback(ctx, models.ConditionNoNetwork, "no_network"), nil
	}

	query, city, err := p.resolveQuery(ctx)
	if errors.Is(err, ErrLocationNotReady) {
		observability.WeatherFetchesTotal.WithLabelValues("not_ready").Inc()
		logger.Debug("location not ready yet, waiting for callback")
		return models.WeatherSnapshot{}, err
	}
	if err != nil {
		logger.Warn("no location available", zap.Error(err))
		p.events.SendException(EventNoLocation, false)
		p.outcomes.RecordFallback()
		observability.WeatherFetchesTotal.WithLabelValues("sentinel").Inc()
		return models.NewSentinelSnapshot(models.ConditionNoLocation), nil
	}

	conditions, err := p.client.CurrentConditions(ctx, query)
	if err != nil {
		logger.Error("cannot fetch weather",
			zap.String("query", query.String()),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		event := EventNoWeatherData
		if errors.Is(err, client.ErrMalformedResponse) {
			event = EventInvalidWeather
		}
		p.events.SendException(event, false)
		return p.fallback(ctx, models.ConditionNoData, "fetch_failed"), nil
	}

	if conditions.City == "" && city != "" {
		conditions.City = city
	}
	snapshot := conditions.Snapshot()
	// Store logs and counts persistence failures; the memory slot is updated regardless.
	_ = p.cache.Store(ctx, snapshot)

	p.outcomes.RecordFresh()
	observability.WeatherFetchesTotal.WithLabelValues("fresh").Inc()
	logger.Info("weather updated", zap.Stringer("snapshot", snapshot))
	return snapshot, nil
}

var errNoLocation = errors.New("location ready but empty")

// resolveQuery picks the manual place or snapshots the last known location.
func (p *Pipeline) resolveQuery(ctx context.Context) (client.Query, string, error) {
	if place := p.ManualPlace(); place != "" {
		return client.ByPlace(place), "", nil
	}

	loc, err := p.locations.LastKnown(p.onReady())
	if errors.Is(err, location.ErrNotReadyYet) {
		return client.Query{}, "", fmt.Errorf("%w: %w", ErrLocationNotReady, err)
	}
	if err != nil {
		return client.Query{}, "", fmt.Errorf("%w: %v", errNoLocation, err)
	}
	if loc == nil {
		return client.Query{}, "", errNoLocation
	}
	fix := *loc
	return client.ByCoordinates(fix.Latitude, fix.Longitude), fix.City, nil
}

// fallback returns the valid cached snapshot, or a sentinel with the given code.
func (p *Pipeline) fallback(ctx context.Context, code int, reason string) models.WeatherSnapshot {
	p.outcomes.RecordFallback()
	if cached, ok := p.cache.Latest(ctx); ok {
		observability.CacheFallbacksTotal.WithLabelValues(reason).Inc()
		observability.WeatherFetchesTotal.WithLabelValues("cache").Inc()
		return cached
	}
	observability.WeatherFetchesTotal.WithLabelValues("sentinel").Inc()
	return models.NewSentinelSnapshot(code)
}

package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/fweather/internal/validation"
)

var errNoFix = errors.New("geolocation service returned no position")

// geoResponse matches ip-api.com style JSON: {"status":"success","lat":..,"lon":..,"city":..}.
type geoResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city"`
}

// FusedBackend asks a remote geolocation service for the current position. It is the
// preferred backend whenever the service answers.
type FusedBackend struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *zap.Logger
	now      func() time.Time
}

func NewFusedBackend(url string, timeout, interval time.Duration, logger *zap.Logger) *FusedBackend {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FusedBackend{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.Named("fused"),
		now:      time.Now,
	}
}

func (b *FusedBackend) Name() string { return "fused" }

// Available reports whether the geolocation service is configured and reachable.
func (b *FusedBackend) Available(ctx context.Context) bool {
	if b == nil || b.url == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.logger.Debug("geolocation service unreachable", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Run connects, delivers the position if there is one, and repeats every interval.
// A failed connection is logged and retried at the next tick.
func (b *FusedBackend) Run(ctx context.Context, onFix func(Location)) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		loc, err := b.locate(ctx)
		switch {
		case err == nil:
			onFix(loc)
		case ctx.Err() != nil:
			return
		default:
			b.logger.Warn("geolocation lookup failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (b *FusedBackend) locate(ctx context.Context) (Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url, nil)
	if err != nil {
		return Location{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("geolocation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("geolocation request failed: HTTP %d", resp.StatusCode)
	}

	var body geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("parse geolocation response: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return Location{}, fmt.Errorf("%w: %s", errNoFix, body.Message)
	}
	if err := validation.ValidateCoordinates(body.Lat, body.Lon); err != nil {
		return Location{}, err
	}
	if body.Lat == 0 && body.Lon == 0 {
		return Location{}, errNoFix
	}

	return Location{
		Latitude:  body.Lat,
		Longitude: body.Lon,
		City:      body.City,
		Source:    b.Name(),
		Time:      b.now(),
	}, nil
}

package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/fweather/internal/validation"
)

// Source is one low-level position provider polled by PollingBackend.
type Source interface {
	Name() string
	Available() bool
	Read(ctx context.Context) (Location, error)
}

// PollingBackend reads the best available Source at a fixed interval.
type PollingBackend struct {
	source   Source
	interval time.Duration
	logger   *zap.Logger
}

// NewPollingBackend picks the first available source. It returns nil when none is.
func NewPollingBackend(interval time.Duration, logger *zap.Logger, sources ...Source) *PollingBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	for _, s := range sources {
		if s != nil && s.Available() {
			return &PollingBackend{source: s, interval: interval, logger: logger.Named("polling")}
		}
	}
	return nil
}

func (b *PollingBackend) Name() string { return "polling" }

// SourceName returns the name of the polled provider.
func (b *PollingBackend) SourceName() string { return b.source.Name() }

// Run delivers every successful read. Read errors are logged and retried at the next tick.
func (b *PollingBackend) Run(ctx context.Context, onFix func(Location)) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		loc, err := b.source.Read(ctx)
		if err == nil {
			onFix(loc)
		} else if ctx.Err() == nil {
			b.logger.Warn("location read failed", zap.String("source", b.source.Name()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// FileSource reads a JSON fix ({"latitude":..,"longitude":..,"city":..}) written by an
// external GPS daemon.
type FileSource struct {
	path string
	now  func() time.Time
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path, now: time.Now}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Available() bool {
	if s == nil || s.path == "" {
		return false
	}
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *FileSource) Read(ctx context.Context) (Location, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Location{}, fmt.Errorf("read fix file: %w", err)
	}
	var loc Location
	if err := json.Unmarshal(raw, &loc); err != nil {
		return Location{}, fmt.Errorf("parse fix file: %w", err)
	}
	if err := validation.ValidateCoordinates(loc.Latitude, loc.Longitude); err != nil {
		return Location{}, err
	}
	loc.Source = s.Name()
	if loc.Time.IsZero() {
		loc.Time = s.now()
	}
	return loc, nil
}

// StaticSource always reports the configured coordinates.
type StaticSource struct {
	loc   Location
	valid bool
}

func NewStaticSource(lat, lon float64, city string) *StaticSource {
	return &StaticSource{
		loc:   Location{Latitude: lat, Longitude: lon, City: city, Source: "static"},
		valid: validation.ValidateCoordinates(lat, lon) == nil && (lat != 0 || lon != 0),
	}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Available() bool { return s != nil && s.valid }

func (s *StaticSource) Read(ctx context.Context) (Location, error) {
	if !s.valid {
		return Location{}, errors.New("static location not configured")
	}
	loc := s.loc
	loc.Time = time.Now()
	return loc, nil
}

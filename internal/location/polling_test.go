package location

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFix(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write fix file: %v", err)
	}
}

func TestFileSource_Read(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fix.json")

	s := NewFileSource(path)
	if s.Available() {
		t.Error("Available() = true before the file exists")
	}

	writeFix(t, path, `{"latitude":45.07,"longitude":7.69,"city":"Turin"}`)
	if !s.Available() {
		t.Fatal("Available() = false with fix file present")
	}
	loc, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if loc.Latitude != 45.07 || loc.Longitude != 7.69 || loc.City != "Turin" || loc.Source != "file" {
		t.Errorf("Read() = %+v", loc)
	}
	if loc.Time.IsZero() {
		t.Error("Read() should stamp a time")
	}

	writeFix(t, path, `{"latitude":95,"longitude":7}`)
	if _, err := s.Read(context.Background()); err == nil {
		t.Error("Read() error = nil for out-of-range latitude")
	}
	writeFix(t, path, `not json`)
	if _, err := s.Read(context.Background()); err == nil {
		t.Error("Read() error = nil for malformed file")
	}
}

func TestStaticSource(t *testing.T) {
	tests := []struct {
		name      string
		lat, lon  float64
		available bool
	}{
		{"configured", 41.9, 12.5, true},
		{"unset", 0, 0, false},
		{"out of range", 91, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStaticSource(tt.lat, tt.lon, "")
			if got := s.Available(); got != tt.available {
				t.Errorf("Available() = %v, want %v", got, tt.available)
			}
			_, err := s.Read(context.Background())
			if tt.available && err != nil {
				t.Errorf("Read() error = %v", err)
			}
			if !tt.available && err == nil {
				t.Error("Read() error = nil for unavailable source")
			}
		})
	}
}

func TestNewPollingBackend_PicksFirstAvailable(t *testing.T) {
	missing := NewFileSource(filepath.Join(t.TempDir(), "absent.json"))
	static := NewStaticSource(41.9, 12.5, "Rome")

	b := NewPollingBackend(time.Minute, nil, missing, static)
	if b == nil {
		t.Fatal("NewPollingBackend() = nil, want backend over static source")
	}
	if b.SourceName() != "static" {
		t.Errorf("SourceName() = %q, want static", b.SourceName())
	}

	if got := NewPollingBackend(time.Minute, nil, missing, NewStaticSource(0, 0, "")); got != nil {
		t.Errorf("NewPollingBackend() = %+v, want nil when no source is available", got)
	}
}

func TestPollingBackend_AnyUpdateMakesReady(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewPollingBackend(time.Hour, nil, NewStaticSource(41.9, 12.5, "Rome"))
	tr := NewTracker(nil)
	tr.Init(ctx, staticSelector(b))
	waitState(t, tr, StateReady)

	loc, err := tr.LastKnown(nil)
	if err != nil || loc.City != "Rome" || loc.Source != "static" {
		t.Errorf("LastKnown() = %+v, %v", loc, err)
	}
}

func TestDefaultSelector(t *testing.T) {
	polling := NewPollingBackend(time.Minute, nil, NewStaticSource(1, 1, ""))

	tests := []struct {
		name string
		sel  DefaultSelector
		want string
	}{
		{"fused unavailable falls back", DefaultSelector{Fused: NewFusedBackend("", time.Second, time.Minute, nil), Polling: polling}, "polling"},
		{"nothing configured", DefaultSelector{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.sel.Select(context.Background())
			name := ""
			if got != nil {
				name = got.Name()
			}
			if name != tt.want {
				t.Errorf("Select() = %q, want %q", name, tt.want)
			}
		})
	}
}

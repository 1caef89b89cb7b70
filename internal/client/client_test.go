package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/fweather/internal/observability"
)

const testAPIKey = "test-api-key-12345"

const sampleResponseJSON = `{
	"coord": {"lon": 9.19, "lat": 45.4642},
	"weather": [{"id": 500, "main": "Rain", "description": "light rain", "icon": "10d"}],
	"main": {"temp": 14.4, "temp_min": 12.6, "temp_max": 16.5, "pressure": 1012, "humidity": 81},
	"wind": {"speed": 3.1, "deg": 200},
	"clouds": {"all": 75},
	"sys": {"country": "IT", "sunrise": 1700000000, "sunset": 1700036000},
	"name": "Milan"
}`

func writeSample(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sampleResponseJSON))
}

func newTestClient(t *testing.T, url string, cfg Config) *OpenWeatherClient {
	t.Helper()
	cfg.APIKey = testAPIKey
	cfg.APIURL = url
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	c, err := NewOpenWeatherClientWithConfig(cfg, nil)
	if err != nil {
		t.Fatalf("NewOpenWeatherClientWithConfig() error = %v", err)
	}
	return c
}

func TestNewOpenWeatherClient_InvalidAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr error
	}{
		{name: "empty API key", apiKey: "", wantErr: ErrInvalidAPIKey},
		{name: "too short API key", apiKey: "short", wantErr: ErrInvalidAPIKey},
		{name: "valid API key", apiKey: "valid-api-key-12345", wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewOpenWeatherClient(tt.apiKey, "https://api.test.com", 2*time.Second)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("NewOpenWeatherClient() error = %v, want %v", err, tt.wantErr)
				}
				if client != nil {
					t.Errorf("NewOpenWeatherClient() expected nil client on error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewOpenWeatherClient() unexpected error: %v", err)
			}
			if client.retryAttempts != DefaultRetryAttempts {
				t.Errorf("retryAttempts = %d, want %d", client.retryAttempts, DefaultRetryAttempts)
			}
		})
	}
}

func TestOpenWeatherClient_CurrentConditions_Coordinates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("lat") != "45.4642" || q.Get("lon") != "9.19" {
			t.Errorf("lat/lon = %q/%q", q.Get("lat"), q.Get("lon"))
		}
		if q.Has("q") {
			t.Errorf("unexpected q parameter for coordinate query")
		}
		if q.Get("appid") != testAPIKey {
			t.Errorf("appid = %q", q.Get("appid"))
		}
		if q.Get("units") != "metric" || q.Get("mode") != "json" || q.Get("lang") != "it" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		writeSample(w)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{Language: "it"})
	got, err := client.CurrentConditions(context.Background(), ByCoordinates(45.4642, 9.19))
	if err != nil {
		t.Fatalf("CurrentConditions() error = %v", err)
	}

	if got.City != "Milan" || got.Country != "IT" {
		t.Errorf("City/Country = %q/%q", got.City, got.Country)
	}
	if got.WeatherID != 500 || got.Main != "Rain" || got.Description != "light rain" || got.Icon != "10d" {
		t.Errorf("weather fields = %+v", got)
	}
	if got.Temperature != 14.4 || got.TempMin != 12.6 || got.TempMax != 16.5 {
		t.Errorf("temperatures = %v %v %v", got.Temperature, got.TempMin, got.TempMax)
	}
	if got.Humidity != 81 || got.Pressure != 1012 || got.WindSpeed != 3.1 || got.WindDeg != 200 || got.Clouds != 75 {
		t.Errorf("atmosphere fields = %+v", got)
	}
	if !got.Sunrise.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Sunrise = %v", got.Sunrise)
	}

	snap := got.Snapshot()
	if snap.Location != "Milan" || snap.Temperature != 14 || snap.Low != 13 || snap.High != 17 {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestOpenWeatherClient_CurrentConditions_Place(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "Milan,IT" {
			t.Errorf("q = %q, want Milan,IT", q.Get("q"))
		}
		if q.Has("lat") || q.Has("lon") {
			t.Errorf("unexpected coordinates for place query")
		}
		writeSample(w)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{})
	if _, err := client.CurrentConditions(context.Background(), ByPlace("Milan,IT")); err != nil {
		t.Fatalf("CurrentConditions() error = %v", err)
	}
}

// TestOpenWeatherClient_RetryBound verifies that a call failing every time is attempted
// exactly RetryAttempts times and reports ErrCannotFetch with the last cause.
func TestOpenWeatherClient_RetryBound(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		attempts int
		wantErr  error
	}{
		{"500 three attempts", http.StatusInternalServerError, 3, ErrUpstreamFailure},
		{"502 five attempts", http.StatusBadGateway, 5, ErrUpstreamFailure},
		{"401 still retried", http.StatusUnauthorized, 3, ErrInvalidAPIKey},
		{"404 still retried", http.StatusNotFound, 3, ErrLocationNotFound},
		{"429 single attempt", http.StatusTooManyRequests, 1, ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, Config{RetryAttempts: tt.attempts})
			_, err := client.CurrentConditions(context.Background(), ByPlace("test"))

			if !errors.Is(err, ErrCannotFetch) {
				t.Errorf("error = %v, want ErrCannotFetch", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want wrapped %v", err, tt.wantErr)
			}
			if got := atomic.LoadInt32(&calls); int(got) != tt.attempts {
				t.Errorf("attempts = %d, want %d", got, tt.attempts)
			}
		})
	}
}

func TestOpenWeatherClient_SucceedsOnSecondAttempt(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeSample(w)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{})
	got, err := client.CurrentConditions(context.Background(), ByCoordinates(45.4642, 9.19))
	if err != nil {
		t.Fatalf("CurrentConditions() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("attempts = %d, want 2", calls)
	}
	if got.City != "Milan" {
		t.Errorf("City = %q, want Milan", got.City)
	}
}

func TestOpenWeatherClient_LogsEveryFailedAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	core, logs := observer.New(zap.WarnLevel)
	client, err := NewOpenWeatherClientWithConfig(Config{
		APIKey:        testAPIKey,
		APIURL:        server.URL,
		Timeout:       time.Second,
		RetryAttempts: 3,
	}, zap.New(core))
	if err != nil {
		t.Fatalf("NewOpenWeatherClientWithConfig() error = %v", err)
	}

	_, _ = client.CurrentConditions(context.Background(), ByPlace("test"))

	entries := logs.FilterMessage("weather fetch attempt failed").All()
	if len(entries) != 3 {
		t.Fatalf("logged %d failures, want 3", len(entries))
	}
	for i, e := range entries {
		fields := e.ContextMap()
		if fields["attempt"] != int64(i+1) {
			t.Errorf("entry %d attempt = %v, want %d", i, fields["attempt"], i+1)
		}
		if fields["remaining"] != int64(2-i) {
			t.Errorf("entry %d remaining = %v, want %d", i, fields["remaining"], 2-i)
		}
	}
}

func TestOpenWeatherClient_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"weather": [`},
		{"missing weather array", `{"main": {"temp": 10}, "name": "Milan"}`},
		{"empty weather array", `{"weather": [], "name": "Milan"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, Config{RetryAttempts: 1})
			_, err := client.CurrentConditions(context.Background(), ByPlace("Milan"))
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("error = %v, want ErrMalformedResponse", err)
			}
			if !errors.Is(err, ErrCannotFetch) {
				t.Errorf("error = %v, want ErrCannotFetch", err)
			}
		})
	}
}

func TestOpenWeatherClient_ContextCancellation(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeSample(w)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.CurrentConditions(ctx, ByPlace("test"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("server saw %d calls after cancellation, want 0", calls)
	}
	if !strings.Contains(err.Error(), "after 0 attempts") {
		t.Errorf("error = %v, want the attempt count to be 0", err)
	}
}

// TestOpenWeatherClient_CanceledDuringRetries verifies that the error reports the
// attempts made before the context ended, not the configured maximum.
func TestOpenWeatherClient_CanceledDuringRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 2 {
			cancel()
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{RetryAttempts: 5})
	_, err := client.CurrentConditions(ctx, ByPlace("Milan"))
	if !errors.Is(err, ErrCannotFetch) || !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want ErrCannotFetch wrapping context.Canceled", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("upstream calls = %d, want 2", got)
	}
	if !strings.Contains(err.Error(), "after 2 attempts") {
		t.Errorf("error = %v, want 2 attempts reported", err)
	}
}

func TestOpenWeatherClient_CorrelationID(t *testing.T) {
	var captured string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Get("X-Correlation-ID")
		writeSample(w)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{})
	ctx := observability.WithCorrelationID(context.Background(), "test-correlation-id-123")
	if _, err := client.CurrentConditions(ctx, ByPlace("Milan")); err != nil {
		t.Fatalf("CurrentConditions() error = %v", err)
	}
	if captured != "test-correlation-id-123" {
		t.Errorf("X-Correlation-ID header = %q, want %q", captured, "test-correlation-id-123")
	}
}

// TestOpenWeatherClient_CircuitBreaker verifies that once the breaker opens, attempts fail
// without reaching the upstream server.
func TestOpenWeatherClient_CircuitBreaker(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{
		RetryAttempts:      3,
		BreakerFailures:    2,
		BreakerOpenTimeout: time.Minute,
	})

	_, err := client.CurrentConditions(context.Background(), ByPlace("test"))
	if !errors.Is(err, ErrCannotFetch) {
		t.Fatalf("error = %v, want ErrCannotFetch", err)
	}
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2 (third attempt short-circuited)", calls)
	}
	if !errors.Is(err, ErrUpstreamFailure) {
		t.Errorf("error = %v, want ErrUpstreamFailure for open circuit", err)
	}
	if !strings.Contains(err.Error(), "after 2 attempts") {
		t.Errorf("error = %v, want the short-circuited attempt left out of the count", err)
	}

	atomic.StoreInt32(&calls, 0)
	_, err = client.CurrentConditions(context.Background(), ByPlace("test"))
	if atomic.LoadInt32(&calls) != 0 || !strings.Contains(err.Error(), "after 0 attempts") {
		t.Errorf("open circuit: calls = %d, error = %v, want no attempts", calls, err)
	}
}

// TestOpenWeatherClient_NoBreakerKeepsRetryBound verifies that without a breaker every
// failing fetch makes exactly RetryAttempts calls, however many fetches fail in a row.
func TestOpenWeatherClient_NoBreakerKeepsRetryBound(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, Config{RetryAttempts: 3})
	for i := 1; i <= 4; i++ {
		atomic.StoreInt32(&calls, 0)
		_, err := client.CurrentConditions(context.Background(), ByPlace("test"))
		if got := atomic.LoadInt32(&calls); got != 3 {
			t.Errorf("fetch %d: upstream calls = %d, want 3", i, got)
		}
		if !strings.Contains(err.Error(), "after 3 attempts") {
			t.Errorf("fetch %d: error = %v", i, err)
		}
	}
}

func TestOpenWeatherClient_CalculateBackoff(t *testing.T) {
	noDelay := newTestClient(t, "http://unused", Config{})
	if d := noDelay.calculateBackoff(1); d != 0 {
		t.Errorf("calculateBackoff() = %v, want 0 without base delay", d)
	}

	client := newTestClient(t, "http://unused", Config{
		RetryBaseDelay: 100 * time.Millisecond,
		RetryMaxDelay:  300 * time.Millisecond,
	})
	tests := []struct {
		retry int
		min   time.Duration
		max   time.Duration
	}{
		{1, 100 * time.Millisecond, 110 * time.Millisecond},
		{2, 200 * time.Millisecond, 220 * time.Millisecond},
		{3, 300 * time.Millisecond, 330 * time.Millisecond},
		{6, 300 * time.Millisecond, 330 * time.Millisecond},
	}
	for _, tt := range tests {
		got := client.calculateBackoff(tt.retry)
		if got < tt.min || got > tt.max {
			t.Errorf("calculateBackoff(%d) = %v, want in [%v, %v]", tt.retry, got, tt.min, tt.max)
		}
	}
}

func TestOpenWeatherClient_ValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
		ok      bool
	}{
		{"valid", http.StatusOK, nil, true},
		{"unauthorized", http.StatusUnauthorized, ErrInvalidAPIKey, false},
		{"server error", http.StatusInternalServerError, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, Config{})
			err := client.ValidateAPIKey(context.Background())
			if tt.ok && err != nil {
				t.Errorf("ValidateAPIKey() error = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("ValidateAPIKey() error = nil, want error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateAPIKey() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "success"},
		{404, "client_error"},
		{429, "rate_limited"},
		{503, "server_error"},
		{100, "error"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.code); got != tt.want {
			t.Errorf("statusLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

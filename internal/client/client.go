package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/fweather/internal/models"
	"github.com/kjstillabower/fweather/internal/observability"
)

// WeatherClient fetches current conditions for a coordinate pair or a place identifier.
type WeatherClient interface {
	CurrentConditions(ctx context.Context, q Query) (models.Conditions, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrLocationNotFound  = errors.New("location not found")
	ErrUpstreamFailure   = errors.New("upstream failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrMalformedResponse = errors.New("malformed weather response")
	// ErrCannotFetch is returned once every attempt has failed. The last failure is wrapped as well.
	ErrCannotFetch = errors.New("cannot fetch weather")
)

const (
	DefaultRetryAttempts = 3
	breakerName          = "weather_api"
)

// Query selects what to ask the API for. A non-empty Place wins over coordinates.
type Query struct {
	Latitude  float64
	Longitude float64
	Place     string
}

func ByCoordinates(lat, lon float64) Query {
	return Query{Latitude: lat, Longitude: lon}
}

func ByPlace(place string) Query {
	return Query{Place: place}
}

func (q Query) String() string {
	if q.Place != "" {
		return q.Place
	}
	return fmt.Sprintf("%.4f,%.4f", q.Latitude, q.Longitude)
}

// Config holds client settings. Zero RetryBaseDelay means attempts run back to back.
type Config struct {
	APIKey   string
	APIURL   string
	Timeout  time.Duration
	Units    string
	Language string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// BreakerFailures trips the circuit after that many consecutive failures. Zero disables it.
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
	BreakerMaxRequests uint32
}

type OpenWeatherClient struct {
	apiKey         string
	apiURL         string
	timeout        time.Duration
	units          string
	language       string
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	circuit        *gobreaker.CircuitBreaker
	logger         *zap.Logger
}

func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	return NewOpenWeatherClientWithConfig(Config{
		APIKey:        apiKey,
		APIURL:        apiURL,
		Timeout:       timeout,
		RetryAttempts: DefaultRetryAttempts,
	}, nil)
}

func NewOpenWeatherClientWithConfig(cfg Config, logger *zap.Logger) (*OpenWeatherClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(cfg.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Units == "" {
		cfg.Units = "metric"
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &OpenWeatherClient{
		apiKey:         cfg.APIKey,
		apiURL:         cfg.APIURL,
		timeout:        cfg.Timeout,
		units:          cfg.Units,
		language:       cfg.Language,
		retryAttempts:  cfg.RetryAttempts,
		retryBaseDelay: cfg.RetryBaseDelay,
		retryMaxDelay:  cfg.RetryMaxDelay,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.Named("client"),
	}

	if cfg.BreakerFailures > 0 {
		c.circuit = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: cfg.BreakerMaxRequests,
			Timeout:     cfg.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrLocationNotFound)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				observability.RecordCircuitBreakerTransition(name, from.String(), to.String())
				c.logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		})
	}

	return c, nil
}

type openWeatherResponse struct {
	Coord struct {
		Lon float64 `json:"lon"`
		Lat float64 `json:"lat"`
	} `json:"coord"`
	Weather []struct {
		ID          int    `json:"id"`
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Main struct {
		Temp     float64 `json:"temp"`
		TempMin  float64 `json:"temp_min"`
		TempMax  float64 `json:"temp_max"`
		Pressure float64 `json:"pressure"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Sys struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
	Name string `json:"name"`
}

// CurrentConditions calls the API up to retryAttempts times. Every failed attempt is
// logged; when none succeeds the returned error wraps ErrCannotFetch and the last failure.
// Cancellation of ctx or an open circuit ends the loop early, and the error reports the
// number of attempts actually made.
func (c *OpenWeatherClient) CurrentConditions(ctx context.Context, q Query) (models.Conditions, error) {
	var lastErr error
	made := 0

	for attempt := 1; attempt <= c.retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return models.Conditions{}, cannotFetch(made, err)
		}
		if attempt > 1 {
			observability.WeatherAPIRetriesTotal.Inc()
			if delay := c.calculateBackoff(attempt - 1); delay > 0 {
				select {
				case <-ctx.Done():
					return models.Conditions{}, cannotFetch(made, ctx.Err())
				case <-time.After(delay):
				}
			}
		}

		result, err := c.attempt(ctx, q)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if isCircuitOpen(err) {
			c.logger.Warn("weather fetch stopped, circuit breaker open",
				zap.String("query", q.String()),
				zap.Int("attempts", made),
			)
			break
		}
		made++

		c.logger.Warn("weather fetch attempt failed",
			zap.String("query", q.String()),
			zap.Int("attempt", attempt),
			zap.Int("remaining", c.retryAttempts-attempt),
			zap.String("category", string(CategorizeError(err))),
			zap.Error(err),
		)
	}

	return models.Conditions{}, cannotFetch(made, lastErr)
}

func cannotFetch(attempts int, cause error) error {
	return fmt.Errorf("%w after %d attempts: %w", ErrCannotFetch, attempts, cause)
}

func isCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func (c *OpenWeatherClient) attempt(ctx context.Context, q Query) (models.Conditions, error) {
	if c.circuit == nil {
		return c.callAPI(ctx, q)
	}
	result, err := c.circuit.Execute(func() (interface{}, error) {
		return c.callAPI(ctx, q)
	})
	if err != nil {
		if isCircuitOpen(err) {
			observability.WeatherAPICallsTotal.WithLabelValues("circuit_open").Inc()
			return models.Conditions{}, fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
		}
		return models.Conditions{}, err
	}
	return result.(models.Conditions), nil
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, q Query) (models.Conditions, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, q)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.Conditions{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.Conditions{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.Conditions{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := c.handleErrorResponse(resp); err != nil {
		return models.Conditions{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Conditions{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.Conditions{}, fmt.Errorf("%w: parse response: %v", ErrMalformedResponse, err)
	}
	if len(apiResp.Weather) == 0 {
		return models.Conditions{}, fmt.Errorf("%w: missing weather array", ErrMalformedResponse)
	}

	return mapResponse(apiResp), nil
}

func (c *OpenWeatherClient) calculateBackoff(retry int) time.Duration {
	if c.retryBaseDelay <= 0 {
		return 0
	}
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(retry-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, q Query) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	if q.Place != "" {
		params.Set("q", q.Place)
	} else {
		params.Set("lat", strconv.FormatFloat(q.Latitude, 'f', -1, 64))
		params.Set("lon", strconv.FormatFloat(q.Longitude, 'f', -1, 64))
	}
	params.Set("appid", c.apiKey)
	params.Set("units", c.units)
	params.Set("mode", "json")
	if c.language != "" {
		params.Set("lang", c.language)
	}
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *OpenWeatherClient) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func mapResponse(apiResp openWeatherResponse) models.Conditions {
	w := apiResp.Weather[0]
	return models.Conditions{
		City:        apiResp.Name,
		Country:     apiResp.Sys.Country,
		Latitude:    apiResp.Coord.Lat,
		Longitude:   apiResp.Coord.Lon,
		Sunrise:     unixOrZero(apiResp.Sys.Sunrise),
		Sunset:      unixOrZero(apiResp.Sys.Sunset),
		WeatherID:   w.ID,
		Main:        w.Main,
		Description: w.Description,
		Icon:        w.Icon,
		Temperature: apiResp.Main.Temp,
		TempMin:     apiResp.Main.TempMin,
		TempMax:     apiResp.Main.TempMax,
		Humidity:    apiResp.Main.Humidity,
		Pressure:    apiResp.Main.Pressure,
		WindSpeed:   apiResp.Wind.Speed,
		WindDeg:     apiResp.Wind.Deg,
		Clouds:      apiResp.Clouds.All,
	}
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues a single request for a well-known place, bypassing retries and the breaker.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(ctx, ByPlace("London"))
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}

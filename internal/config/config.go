package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/fweather/internal/client"
	"github.com/kjstillabower/fweather/internal/validation"
)

// Cache backends.
const (
	BackendInMemory  = "in_memory"
	BackendSQLite    = "sqlite"
	BackendMemcached = "memcached"
)

// Config holds service configuration loaded from YAML, .env and env.
type Config struct {
	TestingMode bool

	ServerPort      string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	Units             string
	Language          string

	RetryAttempts       int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	BreakerFailures     uint32
	BreakerOpenTimeout  time.Duration
	BreakerMaxRequests  uint32
	RateLimitRPS        int
	RateLimitBurst      int
	DegradedWindow      time.Duration
	DegradedFallbackPct int

	CacheTTL              time.Duration
	CacheBackend          string
	SQLitePath            string
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	ManualLocation string
	FusedURL       string
	FusedTimeout   time.Duration
	FusedInterval  time.Duration
	PollInterval   time.Duration
	LocationFile   string
	StaticLocation *StaticLocation

	NetworkProbeAddr     string
	NetworkProbeTimeout  time.Duration
	NetworkWatchInterval time.Duration

	SyncInterval time.Duration
	WidgetIDs    []int
	QueueSize    int

	DarkMode          bool
	BackgroundOpacity int
	ShowTemperature   bool
	ShowIcon          bool
	ShowButtons       bool
}

// ClientConfig returns the weather client settings.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		APIKey:             c.WeatherAPIKey,
		APIURL:             c.WeatherAPIURL,
		Timeout:            c.WeatherAPITimeout,
		Units:              c.Units,
		Language:           c.Language,
		RetryAttempts:      c.RetryAttempts,
		RetryBaseDelay:     c.RetryBaseDelay,
		RetryMaxDelay:      c.RetryMaxDelay,
		BreakerFailures:    c.BreakerFailures,
		BreakerOpenTimeout: c.BreakerOpenTimeout,
		BreakerMaxRequests: c.BreakerMaxRequests,
	}
}

// StaticLocation is a fixed position used when no other location source works.
type StaticLocation struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	City      string  `yaml:"city"`
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL      string `yaml:"url"`
		Timeout  string `yaml:"timeout"`
		Units    string `yaml:"units"`
		Language string `yaml:"language"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend string `yaml:"backend"`
		TTL     string `yaml:"ttl"`
		SQLite  struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts    int    `yaml:"retry_max_attempts"`
		RetryBaseDelay      string `yaml:"retry_base_delay"`
		RetryMaxDelay       string `yaml:"retry_max_delay"`
		BreakerFailures     uint32 `yaml:"breaker_failures"`
		BreakerOpenTimeout  string `yaml:"breaker_open_timeout"`
		BreakerMaxRequests  uint32 `yaml:"breaker_max_requests"`
		RateLimitRPS        int    `yaml:"rate_limit_rps"`
		RateLimitBurst      int    `yaml:"rate_limit_burst"`
		DegradedWindow      string `yaml:"degraded_window"`
		DegradedFallbackPct int    `yaml:"degraded_fallback_pct"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Location struct {
		Manual string `yaml:"manual"`
		Fused  struct {
			URL      string `yaml:"url"`
			Timeout  string `yaml:"timeout"`
			Interval string `yaml:"interval"`
		} `yaml:"fused"`
		PollInterval string          `yaml:"poll_interval"`
		File         string          `yaml:"file"`
		Static       *StaticLocation `yaml:"static"`
	} `yaml:"location"`

	Network struct {
		ProbeAddr     string `yaml:"probe_addr"`
		ProbeTimeout  string `yaml:"probe_timeout"`
		WatchInterval string `yaml:"watch_interval"`
	} `yaml:"network"`

	Updater struct {
		SyncInterval string `yaml:"sync_interval"`
		WidgetIDs    []int  `yaml:"widget_ids"`
		QueueSize    int    `yaml:"queue_size"`
	} `yaml:"updater"`

	UI struct {
		DarkMode          bool  `yaml:"dark_mode"`
		BackgroundOpacity int   `yaml:"background_opacity"`
		ShowTemperature   *bool `yaml:"show_temperature"`
		ShowIcon          *bool `yaml:"show_icon"`
		ShowButtons       *bool `yaml:"show_buttons"`
	} `yaml:"ui"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads .env (if present), config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// API key comes from WEATHER_API_KEY env or secrets file. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey, err = loadAPIKey(cwd)
	if err != nil {
		return nil, err
	}

	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.Units = stringOr(fc.WeatherAPI.Units, "metric")
	cfg.Language = stringOr(fc.WeatherAPI.Language, "en")

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 30*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 2*time.Hour)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = BackendSQLite
	}
	cfg.SQLitePath = stringOr(fc.Cache.SQLite.Path, "data/fweather.db")
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = stringOr(fc.Cache.Memcached.Addrs, "localhost:11211")
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDurationOrZero(fc.Reliability.RetryBaseDelay, 0)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	// Zero leaves the breaker off. An open breaker cuts retries short.
	cfg.BreakerFailures = fc.Reliability.BreakerFailures
	cfg.BreakerOpenTimeout = parseDuration(fc.Reliability.BreakerOpenTimeout, time.Minute)
	cfg.BreakerMaxRequests = fc.Reliability.BreakerMaxRequests
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = 1
	}
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 1
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 3
	}
	cfg.DegradedWindow = parseDuration(fc.Reliability.DegradedWindow, 10*time.Minute)
	cfg.DegradedFallbackPct = fc.Reliability.DegradedFallbackPct
	if cfg.DegradedFallbackPct <= 0 {
		cfg.DegradedFallbackPct = 50
	}

	cfg.ManualLocation = strings.TrimSpace(os.Getenv("MANUAL_LOCATION"))
	if cfg.ManualLocation == "" {
		cfg.ManualLocation = strings.TrimSpace(fc.Location.Manual)
	}
	cfg.FusedURL = strings.TrimSpace(fc.Location.Fused.URL)
	cfg.FusedTimeout = parseDuration(fc.Location.Fused.Timeout, 5*time.Second)
	cfg.FusedInterval = parseDuration(fc.Location.Fused.Interval, 15*time.Minute)
	cfg.PollInterval = parseDuration(fc.Location.PollInterval, 5*time.Minute)
	cfg.LocationFile = strings.TrimSpace(fc.Location.File)
	cfg.StaticLocation = fc.Location.Static

	cfg.NetworkProbeAddr = strings.TrimSpace(fc.Network.ProbeAddr)
	cfg.NetworkProbeTimeout = parseDuration(fc.Network.ProbeTimeout, 2*time.Second)
	cfg.NetworkWatchInterval = parseDuration(fc.Network.WatchInterval, 30*time.Second)

	cfg.SyncInterval = parseDuration(fc.Updater.SyncInterval, 30*time.Minute)
	cfg.WidgetIDs = fc.Updater.WidgetIDs
	if ids := strings.TrimSpace(os.Getenv("WIDGET_IDS")); ids != "" {
		cfg.WidgetIDs, err = parseIDs(ids)
		if err != nil {
			return nil, err
		}
	}
	if len(cfg.WidgetIDs) == 0 {
		cfg.WidgetIDs = []int{1}
	}
	cfg.QueueSize = fc.Updater.QueueSize
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}

	cfg.DarkMode = fc.UI.DarkMode
	cfg.BackgroundOpacity = fc.UI.BackgroundOpacity
	cfg.ShowTemperature = boolOr(fc.UI.ShowTemperature, true)
	cfg.ShowIcon = boolOr(fc.UI.ShowIcon, true)
	cfg.ShowButtons = boolOr(fc.UI.ShowButtons, true)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadAPIKey(cwd string) (string, error) {
	if key := os.Getenv("WEATHER_API_KEY"); key != "" {
		return key, nil
	}
	secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
	data, err := os.ReadFile(secretsPath)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	if err == nil {
		var sec secretsFile
		if err := yaml.Unmarshal(data, &sec); err != nil {
			return "", fmt.Errorf("parse secrets file: %w", err)
		}
		if sec.WeatherAPIKey != "" {
			return sec.WeatherAPIKey, nil
		}
	}
	return "", fmt.Errorf("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero returns defaultVal on empty string or parse error, and zero or
// negative durations as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func parseIDs(s string) ([]int, error) {
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("WIDGET_IDS: invalid id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func stringOr(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// validate performs post-load validation of configuration values.
// RequestTimeout is raised to cover a full retry cycle when it is too short.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("WEATHER_API_TIMEOUT must be positive")
	}
	if minimum := time.Duration(cfg.RetryAttempts) * cfg.WeatherAPITimeout; cfg.RequestTimeout <= minimum {
		cfg.RequestTimeout = minimum + time.Second
	}
	switch cfg.CacheBackend {
	case BackendInMemory, BackendSQLite, BackendMemcached:
	default:
		return fmt.Errorf("cache.backend must be in_memory, sqlite or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.BackgroundOpacity < 0 || cfg.BackgroundOpacity > 100 {
		return fmt.Errorf("ui.background_opacity must be between 0 and 100, got %d", cfg.BackgroundOpacity)
	}
	if cfg.ManualLocation != "" {
		place, err := validation.ValidatePlace(cfg.ManualLocation, validation.PlaceMinLen, validation.PlaceMaxLen)
		if err != nil {
			return fmt.Errorf("location.manual: %w", err)
		}
		cfg.ManualLocation = place
	}
	if s := cfg.StaticLocation; s != nil {
		if err := validation.ValidateCoordinates(s.Latitude, s.Longitude); err != nil {
			return fmt.Errorf("location.static: %w", err)
		}
	}
	return nil
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/fweather/internal/client"
	"github.com/kjstillabower/fweather/internal/display"
	"github.com/kjstillabower/fweather/internal/lifecycle"
	"github.com/kjstillabower/fweather/internal/location"
	"github.com/kjstillabower/fweather/internal/models"
	"github.com/kjstillabower/fweather/internal/observability"
	"github.com/kjstillabower/fweather/internal/traffic"
	"github.com/kjstillabower/fweather/internal/updater"
)

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow      time.Duration
	DegradedFallbackPct int
	// DegradedMinSamples is the number of pipeline outcomes needed before the fallback rate counts.
	DegradedMinSamples int
	RateLimitRPS       int
	RateLimitBurst     int // 0 when rate limiter disabled
	StartTime          time.Time
	// CachePing, when set, is called to check durable cache reachability.
	CachePing func(ctx context.Context) error
	// ValidateAPIKey makes /health call the weather API once per check.
	ValidateAPIKey bool
	// CacheAge, when set, reports the age of the cached snapshot.
	CacheAge func() (time.Duration, bool)
}

// Weather is the part of the pipeline the handlers use.
type Weather interface {
	Latest(ctx context.Context) (models.WeatherSnapshot, bool)
	ManualPlace() string
	SetManualPlace(place string) error
}

// Refresher queues widget refreshes. Satisfied by *updater.Updater.
type Refresher interface {
	Submit(ctx context.Context, req updater.Request) error
	WidgetIDs() []int
}

// Widgets exposes rendered widget views and display settings. Satisfied by *display.Board.
type Widgets interface {
	View(id int) (display.View, bool)
	Views() []display.View
	LastNotice() (display.Notice, bool)
	Settings() display.Settings
	SetSettings(s display.Settings)
}

// LocationStatus reports the location tracker state. Satisfied by *location.Tracker.
type LocationStatus interface {
	State() location.State
	Backend() string
}

// Deps wires a Handler. Client, Locations and Outcomes are optional.
type Deps struct {
	Weather   Weather
	Refresher Refresher
	Widgets   Widgets
	Locations LocationStatus
	Client    client.WeatherClient
	Outcomes  *traffic.Tracker
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps             Deps
	healthConfig     *HealthConfig
	logger           *zap.Logger
	phase            func() lifecycle.Phase
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(deps Deps, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if deps.Outcomes == nil {
		deps.Outcomes = traffic.NewTracker(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		deps:         deps,
		healthConfig: healthConfig,
		logger:       logger,
		phase:        lifecycle.CurrentPhase,
	}
}

// GetWeather handles GET /weather: the latest cached snapshot while it is still valid.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.deps.Weather.Latest(r.Context())
	if !ok {
		writeError(w, r, http.StatusNotFound, "NO_WEATHER", "No valid weather reading cached")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot":    snapshot,
		"manualPlace": h.deps.Weather.ManualPlace(),
	})
}

// GetWidgets handles GET /widgets.
func (h *Handler) GetWidgets(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"widgetIds": h.deps.Refresher.WidgetIDs(),
		"widgets":   h.deps.Widgets.Views(),
	}
	if n, ok := h.deps.Widgets.LastNotice(); ok {
		resp["notice"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetWidget handles GET /widgets/{id}.
func (h *Handler) GetWidget(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_WIDGET_ID", "widget id must be an integer")
		return
	}
	view, ok := h.deps.Widgets.View(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "WIDGET_NOT_FOUND", "widget "+strconv.Itoa(id)+" has not been rendered")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type refreshRequest struct {
	Forced    *bool `json:"forced"`
	Silent    bool  `json:"silent"`
	WidgetIDs []int `json:"widgetIds"`
}

// PostRefresh handles POST /refresh. An empty body is a user-forced refresh of every widget.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	req := updater.Request{
		Forced:    body.Forced == nil || *body.Forced,
		Silent:    body.Silent,
		WidgetIDs: body.WidgetIDs,
		Trigger:   updater.TriggerUser,
	}
	if req.Silent {
		req.Trigger = updater.TriggerSilent
	}
	if len(req.WidgetIDs) == 0 {
		req.WidgetIDs = h.deps.Refresher.WidgetIDs()
	}
	h.submit(w, r, req)
}

// GetSettings handles GET /settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Widgets.Settings())
}

// PutSettings handles PUT /settings. Omitted fields keep their current value. Views pick
// the new settings up on a silent refresh that reuses the cached reading.
func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	settings := h.deps.Widgets.Settings()
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON settings")
		return
	}
	if settings.BackgroundOpacity < 0 || settings.BackgroundOpacity > 100 {
		writeError(w, r, http.StatusBadRequest, "INVALID_SETTINGS", "backgroundOpacity must be between 0 and 100")
		return
	}
	h.deps.Widgets.SetSettings(settings)
	loggerFrom(r).Info("display settings updated",
		zap.Bool("dark_mode", settings.DarkMode),
		zap.Int("background_opacity", settings.BackgroundOpacity))
	h.submit(w, r, updater.Request{
		Silent:    true,
		WidgetIDs: h.deps.Refresher.WidgetIDs(),
		Trigger:   updater.TriggerSilent,
	})
}

type locationRequest struct {
	Place string `json:"place"`
}

// PutLocation handles PUT /location: sets the manual place and refreshes silently.
func (h *Handler) PutLocation(w http.ResponseWriter, r *http.Request) {
	var body locationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with a place")
		return
	}
	if strings.TrimSpace(body.Place) == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", "place is required")
		return
	}
	if err := h.deps.Weather.SetManualPlace(body.Place); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	loggerFrom(r).Info("manual location set", zap.String("place", h.deps.Weather.ManualPlace()))
	h.submit(w, r, h.silentForcedAll())
}

// DeleteLocation handles DELETE /location: back to automatic location.
func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	_ = h.deps.Weather.SetManualPlace("")
	loggerFrom(r).Info("manual location cleared")
	h.submit(w, r, h.silentForcedAll())
}

func (h *Handler) silentForcedAll() updater.Request {
	return updater.Request{
		Forced:    true,
		Silent:    true,
		WidgetIDs: h.deps.Refresher.WidgetIDs(),
		Trigger:   updater.TriggerSilent,
	}
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, req updater.Request) {
	if err := h.deps.Refresher.Submit(r.Context(), req); err != nil {
		writeSubmitError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued":      true,
		"forced":      req.Forced,
		"silent":      req.Silent,
		"widgetIds":   req.WidgetIDs,
		"manualPlace": h.deps.Weather.ManualPlace(),
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "api_key_invalid" || result.reason == "fallback_rate_breach" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing(r.Context()) == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	if h.deps.Locations != nil {
		checks["location"] = h.deps.Locations.State().String()
	}

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "fweather",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil && h.healthConfig.CacheAge != nil {
		if age, ok := h.healthConfig.CacheAge(); ok {
			resp["cacheAgeSeconds"] = int64(age / time.Second)
		}
	}
	if last, ok := h.deps.Outcomes.LastFresh(); ok {
		resp["lastFreshReading"] = last.UTC().Format(time.RFC3339)
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > API key invalid > degraded > starting > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	phase := h.phase()
	if phase == lifecycle.PhaseDraining {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.ValidateAPIKey && h.deps.Client != nil {
		if err := h.deps.Client.ValidateAPIKey(ctx); errors.Is(err, client.ErrInvalidAPIKey) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedFallbackPct > 0 {
		threshold := float64(h.healthConfig.DegradedFallbackPct) / 100
		if h.deps.Outcomes.Degraded(h.healthConfig.DegradedWindow, threshold, h.healthConfig.DegradedMinSamples) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "fallback_rate_breach"}
		}
	}
	if phase == lifecycle.PhaseStarting {
		return healthResult{"starting", http.StatusOK, "awaiting_first_render"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeSubmitError maps updater admission failures to responses.
func writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	loggerFrom(r).Debug("refresh not queued", zap.Error(err))
	switch {
	case errors.Is(err, updater.ErrShuttingDown):
		writeError(w, r, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Service is shutting down")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, updater.ErrQueueFull):
		writeError(w, r, http.StatusServiceUnavailable, "QUEUE_FULL", "Too many pending refreshes")
	default:
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Unable to queue refresh")
	}
}

func loggerFrom(r *http.Request) *zap.Logger {
	return observability.LoggerFrom(r.Context(), zap.NewNop())
}

// GetTestStatus handles GET /test. Returns the pipeline outcome windows.
func (h *Handler) GetTestStatus(w http.ResponseWriter, r *http.Request) {
	window := h.degradedWindow()
	fallbacks, total := h.deps.Outcomes.FallbackRate(window)

	cfg := make(map[string]interface{})
	if h.healthConfig != nil {
		cfg["rate_limit_rps"] = h.healthConfig.RateLimitRPS
		cfg["rate_limit_burst"] = h.healthConfig.RateLimitBurst
		cfg["degraded_fallback_pct"] = h.healthConfig.DegradedFallbackPct
		cfg["degraded_min_samples"] = h.healthConfig.DegradedMinSamples
	}
	resp := map[string]interface{}{
		"outcomes_in_window":  total,
		"fallbacks_in_window": fallbacks,
		"denied_in_window":    h.deps.Outcomes.DenialCount(window),
		"window_length":       window.String(),
		"phase":               h.phase().String(),
		"config":              cfg,
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostTestAction handles POST /test/{action} for fresh, fallback and reset.
func (h *Handler) PostTestAction(w http.ResponseWriter, r *http.Request) {
	action := mux.Vars(r)["action"]
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Count <= 0 {
		body.Count = 1
	}

	switch action {
	case "fresh":
		for i := 0; i < body.Count; i++ {
			h.deps.Outcomes.RecordFresh()
		}
	case "fallback":
		for i := 0; i < body.Count; i++ {
			h.deps.Outcomes.RecordFallback()
		}
	case "reset":
		h.deps.Outcomes.Reset()
	default:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_ACTION", "unknown test action: "+action)
		return
	}

	fallbacks, total := h.deps.Outcomes.FallbackRate(h.degradedWindow())
	pct := 0
	if total > 0 {
		pct = fallbacks * 100 / total
	}
	result := h.computeHealthStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":                true,
		"action":            action,
		"message":           "Recorded " + strconv.Itoa(body.Count) + " " + action,
		"state":             result.status,
		"fallback_rate_pct": pct,
	})
}

func (h *Handler) degradedWindow() time.Duration {
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 {
		return h.healthConfig.DegradedWindow
	}
	return 10 * time.Minute
}

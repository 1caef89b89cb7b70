package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/fweather/internal/observability"
)

// RouterConfig controls the middleware on mutating routes.
type RouterConfig struct {
	// Limiter guards POST /refresh, /location and PUT /settings. Nil disables rate limiting.
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
	TestingMode    bool
}

// NewRouter registers every route on a fresh mux.Router.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet)
	router.HandleFunc("/widgets", h.GetWidgets).Methods(http.MethodGet)
	router.HandleFunc("/widgets/{id:[0-9]+}", h.GetWidget).Methods(http.MethodGet)
	router.HandleFunc("/settings", h.GetSettings).Methods(http.MethodGet)

	mutating := router.NewRoute().Subrouter()
	mutating.Use(RateLimitMiddleware(cfg.Limiter, h.deps.Outcomes))
	if cfg.RequestTimeout > 0 {
		mutating.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	mutating.HandleFunc("/refresh", h.PostRefresh).Methods(http.MethodPost)
	mutating.HandleFunc("/location", h.PutLocation).Methods(http.MethodPut)
	mutating.HandleFunc("/location", h.DeleteLocation).Methods(http.MethodDelete)
	mutating.HandleFunc("/settings", h.PutSettings).Methods(http.MethodPut)

	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", h.GetTestStatus).Methods(http.MethodGet)
		router.HandleFunc("/test/{action}", h.PostTestAction).Methods(http.MethodPost)
	}
	return router
}

// Package api is the HTTP surface polled by the dashboard.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/LeonardoBeccarini/hydroponics_bridge/internal/model"
)

type SnapshotReader interface {
	Read() model.SensorSnapshot
}

type CommandDispatcher interface {
	Dispatch(ctx context.Context, action string) (model.RelayState, error)
}

// History is the read side of the persistence gateway.
type History interface {
	Aggregates(ctx context.Context) (model.Aggregates, error)
	PeakReadings(ctx context.Context, limit int) ([]model.Reading, error)
	DistinctPeriods(ctx context.Context, limit int) ([]string, error)
	Recent(ctx context.Context, limit int) ([]model.Reading, error)
}

type Connectivity interface {
	IsConnected() bool
}

// Check is a named readiness check; nil error means healthy.
type Check func(ctx context.Context) error

type Deps struct {
	Snapshot SnapshotReader
	Commands CommandDispatcher
	History  History
	MQTT     Connectivity
	Checks   map[string]Check
	Metrics  http.Handler
	Logger   *slog.Logger

	QueryTimeout time.Duration
	PeakLimit    int
	PeriodLimit  int
	RecentLimit  int
}

type handlers struct {
	Deps
}

// NewRouter mounts every endpoint on a chi router.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.QueryTimeout <= 0 {
		d.QueryTimeout = 5 * time.Second
	}
	h := &handlers{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", h.health)
	r.Get("/readyz", h.ready)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/sensor", h.latest)
		r.Get("/sensor/database", h.summary)
		r.Get("/sensor/all", h.recent)
		r.Post("/relay", h.relay)
	})
	return r
}

// cors lets the dashboard call the API from its own origin.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

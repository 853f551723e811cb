// v1
// internal/http/router.go
// Package httpserver exposes the read-only sensor API consumed by the
// dashboard, plus health, metrics and a live websocket stream.
package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/reneeyyx/CareSphere/internal/ingest"
	"github.com/reneeyyx/CareSphere/internal/metrics"
	"github.com/reneeyyx/CareSphere/internal/sensor"
)

// ReadingStore is the subset of sensor.Store the handlers read from.
type ReadingStore interface {
	Latest() (sensor.Reading, bool)
	History() []sensor.Reading
	Stats() (sensor.Stats, error)
	Len() int
	Capacity() int
	Subscribe(buffer int) (<-chan sensor.Reading, func())
}

// SourceStatus reports the ingest supervisor state.
type SourceStatus interface {
	Status() ingest.Status
}

// BreakerStatus reports the republisher breaker position.
type BreakerStatus interface {
	BreakerState() string
}

// Deps carries everything the router needs. Source, Breaker and Metrics may
// be nil. Done is closed on shutdown so websocket streams, which outlive
// http.Server.Shutdown, can end.
type Deps struct {
	Log          *slog.Logger
	Store        ReadingStore
	Health       *HealthState
	Source       SourceStatus
	Breaker      BreakerStatus
	Metrics      *metrics.Metrics
	Done         <-chan struct{}
	StreamBuffer int
}

// NewRouter wires all routes and wraps them with request ids, access logs,
// CORS and panic recovery.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Health == nil {
		d.Health = NewHealthState()
	}
	if d.StreamBuffer <= 0 {
		d.StreamBuffer = 16
	}

	r := mux.NewRouter()
	r.Use(instrument(d.Metrics))

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/sensors/latest", latestHandler(d)).Methods(http.MethodGet)
	api.Handle("/sensors/history", historyHandler(d)).Methods(http.MethodGet)
	api.Handle("/sensors/stats", statsHandler(d)).Methods(http.MethodGet)
	api.Handle("/sensors/stream", streamHandler(d)).Methods(http.MethodGet)
	api.Handle("/temperature", temperatureHandler(d)).Methods(http.MethodGet)

	r.Handle("/health", healthHandler(d)).Methods(http.MethodGet)
	r.Handle("/health/ready", healthReadyHandler(d.Health)).Methods(http.MethodGet)
	r.Handle("/metrics", d.Metrics.Handler()).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, d.Log, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, d.Log, http.StatusMethodNotAllowed, "method not allowed")
	})

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", requestIDHeader}),
		handlers.ExposedHeaders([]string{requestIDHeader}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(slogRecoveryLogger{d.Log}),
		handlers.PrintRecoveryStack(false),
	)
	return WithRequestID(WrapWithLogging(d.Log, cors(recovery(r))))
}

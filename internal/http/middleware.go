// v1
// internal/http/middleware.go
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/reneeyyx/CareSphere/internal/metrics"
)

const requestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID reuses an incoming X-Request-ID or mints one, and echoes it
// on the response.
func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		r.Header.Set(requestIDHeader, id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestID returns the id attached by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WrapWithLogging records one structured access log line per request. The
// writer is wrapped with httpsnoop so websocket upgrades can still hijack.
func WrapWithLogging(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		logger.Info("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", m.Code),
			slog.Int64("bytes", m.Written),
			slog.String("duration", m.Duration.String()),
			slog.String("request_id", RequestID(r.Context())),
		)
	})
}

// instrument observes matched routes by their template so path variables
// never explode label cardinality.
func instrument(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := "unknown"
			if cur := mux.CurrentRoute(r); cur != nil {
				if tpl, err := cur.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			snap := httpsnoop.CaptureMetrics(next, w, r)
			m.ObserveHTTP(route, snap.Code, snap.Duration)
		})
	}
}

type slogRecoveryLogger struct {
	log *slog.Logger
}

func (l slogRecoveryLogger) Println(v ...interface{}) {
	l.log.Error("http_handler_panic", slog.String("panic", strings.TrimSpace(fmt.Sprintln(v...))))
}

// v0
// internal/http/handlers.go
package httpserver

import (
	"errors"
	"net/http"

	"github.com/reneeyyx/CareSphere/internal/ingest"
	"github.com/reneeyyx/CareSphere/internal/sensor"
)

type historyResponse struct {
	Count int              `json:"count"`
	Data  []sensor.Reading `json:"data"`
}

type temperatureResponse struct {
	Temperature float64 `json:"temperature"`
}

type healthResponse struct {
	Status          string         `json:"status"`
	UptimeSeconds   int64          `json:"uptime_s"`
	HistorySize     int            `json:"history_size"`
	HistoryCapacity int            `json:"history_capacity"`
	Source          *ingest.Status `json:"source,omitempty"`
	Kafka           string         `json:"kafka_breaker,omitempty"`
}

func latestHandler(d Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		latest, ok := d.Store.Latest()
		if !ok {
			writeError(w, d.Log, http.StatusNotFound, "No sensor data available yet")
			return
		}
		writeJSON(w, d.Log, http.StatusOK, latest)
	})
}

func historyHandler(d Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data := d.Store.History()
		if data == nil {
			data = []sensor.Reading{}
		}
		writeJSON(w, d.Log, http.StatusOK, historyResponse{Count: len(data), Data: data})
	})
}

func statsHandler(d Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := d.Store.Stats()
		if errors.Is(err, sensor.ErrNoData) {
			writeError(w, d.Log, http.StatusNotFound, "No sensor data available")
			return
		}
		if err != nil {
			d.Log.Error("stats_failed", "err", err)
			writeError(w, d.Log, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, d.Log, http.StatusOK, stats)
	})
}

func temperatureHandler(d Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		latest, ok := d.Store.Latest()
		if !ok || latest.Temperature == nil {
			writeError(w, d.Log, http.StatusNotFound, "No temperature data available")
			return
		}
		writeJSON(w, d.Log, http.StatusOK, temperatureResponse{Temperature: *latest.Temperature})
	})
}

func healthHandler(d Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:          "ok",
			UptimeSeconds:   int64(d.Health.Uptime().Seconds()),
			HistorySize:     d.Store.Len(),
			HistoryCapacity: d.Store.Capacity(),
		}
		if d.Source != nil {
			st := d.Source.Status()
			resp.Source = &st
		}
		if d.Breaker != nil {
			resp.Kafka = d.Breaker.BreakerState()
		}
		writeJSON(w, d.Log, http.StatusOK, resp)
	})
}

func healthReadyHandler(health *HealthState) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !health.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("NOT_READY"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

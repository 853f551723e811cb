// v0
// internal/metrics/metrics_test.go
package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ReadingIngested()
	m.DecodeError("json")
	m.SourceConnect("serial", false)
	m.SetSourceConnected(true)
	m.Republished("ok")
	m.SetBreakerState("kafka", 2)
	m.StreamClientDelta(1)
	m.ObserveHTTP("/x", 200, time.Millisecond)
	m.WatchHistory(func() int { return 0 }, 1, func() uint64 { return 0 })
	if m.Registry() != nil {
		t.Fatalf("expected nil registry")
	}
}

func TestCountersAndExposition(t *testing.T) {
	m := New()
	m.ReadingIngested()
	m.ReadingIngested()
	m.DecodeError("light")
	m.SourceConnect("serial", true)
	m.SetSourceConnected(true)
	m.WatchHistory(func() int { return 7 }, 100, func() uint64 { return 3 })

	if got := testutil.ToFloat64(m.readingsIngested); got != 2 {
		t.Fatalf("expected 2 readings ingested, got %v", got)
	}
	if got := testutil.ToFloat64(m.decodeErrors.WithLabelValues("light")); got != 1 {
		t.Fatalf("expected 1 decode error, got %v", got)
	}
	if got := testutil.ToFloat64(m.sourceConnected); got != 1 {
		t.Fatalf("expected connected gauge 1, got %v", got)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Body)
	for _, want := range []string{
		"sensorhub_readings_ingested_total 2",
		"sensorhub_history_size 7",
		"sensorhub_history_capacity 100",
		"sensorhub_subscriber_drops_total 3",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in exposition", want)
		}
	}
}

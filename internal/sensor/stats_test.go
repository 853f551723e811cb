// v0
// internal/sensor/stats_test.go
package sensor

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestSummarizeEmpty(t *testing.T) {
	if _, err := Summarize(nil); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
	if _, err := NewStore(3).Stats(); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData from empty store, got %v", err)
	}
}

func TestSummarizeMeans(t *testing.T) {
	clock := &stepClock{now: time.UnixMilli(1_000)}
	s := NewStore(10, WithClock(clock.Now))
	s.Append(Reading{Light: Float(10), Sound: Float(40), Temperature: Float(20)})
	clock.Set(time.UnixMilli(2_500))
	s.Append(Reading{Light: Float(20), Sound: Float(60), Temperature: Float(22)})

	st, err := s.Stats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if st.LightMean == nil || *st.LightMean != 15 {
		t.Fatalf("expected light mean 15, got %v", st.LightMean)
	}
	if st.SoundMean == nil || *st.SoundMean != 50 {
		t.Fatalf("expected sound mean 50, got %v", st.SoundMean)
	}
	if st.TempMean == nil || *st.TempMean != 21 {
		t.Fatalf("expected temp mean 21, got %v", st.TempMean)
	}
	if st.HRMean != nil {
		t.Fatalf("expected no heart rate mean, got %v", *st.HRMean)
	}
	if st.SampleCount != 2 {
		t.Fatalf("expected sample count 2, got %d", st.SampleCount)
	}
	if st.TimeRange.First != 1_000 || st.TimeRange.Last != 2_500 {
		t.Fatalf("unexpected time range %+v", st.TimeRange)
	}
}

func TestSummarizeSkipsNulls(t *testing.T) {
	readings := []Reading{
		{Light: Float(10), Sound: nil, Temperature: nil, HeartRate: Float(60)},
		{Light: nil, Sound: nil, Temperature: nil},
		{Light: Float(30), Sound: nil, Temperature: nil, HeartRate: Float(80)},
	}
	st, err := Summarize(readings)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if st.LightMean == nil || *st.LightMean != 20 {
		t.Fatalf("expected light mean 20 over non-null entries, got %v", st.LightMean)
	}
	if st.SoundMean != nil || st.TempMean != nil {
		t.Fatalf("all-null fields must report no data")
	}
	if st.HRMean == nil || *st.HRMean != 70 {
		t.Fatalf("expected hr mean 70, got %v", st.HRMean)
	}
	if st.SampleCount != 3 {
		t.Fatalf("expected sample count 3, got %d", st.SampleCount)
	}

	body, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	doc := string(body)
	if strings.Contains(doc, "NaN") {
		t.Fatalf("stats JSON must never carry NaN: %s", doc)
	}
	if !strings.Contains(doc, `"sound_mean":null`) || !strings.Contains(doc, `"temp_mean":null`) {
		t.Fatalf("expected explicit null means, got %s", doc)
	}
}

func TestStatsOmitsHeartRateWhenAbsent(t *testing.T) {
	st, err := Summarize([]Reading{{Light: Float(1), Sound: Float(2), Temperature: Float(3)}})
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	body, _ := json.Marshal(st)
	if strings.Contains(string(body), "hr_mean") {
		t.Fatalf("hr_mean must be omitted without heart rate data: %s", body)
	}
}

func TestSummarizeStaysFiniteNearMaxFloat(t *testing.T) {
	st, err := Summarize([]Reading{
		{Light: Float(math.MaxFloat64), Sound: Float(-math.MaxFloat64)},
		{Light: Float(math.MaxFloat64), Sound: Float(-math.MaxFloat64)},
		{Light: Float(1e308), Sound: Float(0)},
	})
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	for name, v := range map[string]*float64{"light": st.LightMean, "sound": st.SoundMean} {
		if v == nil || math.IsInf(*v, 0) || math.IsNaN(*v) {
			t.Fatalf("%s mean must be finite, got %v", name, v)
		}
	}
	if _, err := json.Marshal(st); err != nil {
		t.Fatalf("stats must always encode: %v", err)
	}
}

// v0
// internal/sensor/stats.go
package sensor

import "errors"

// ErrNoData is returned when statistics are requested over an empty history.
var ErrNoData = errors.New("no sensor data available")

// TimeRange spans the receipt times of the oldest and newest readings.
type TimeRange struct {
	First int64 `json:"first"`
	Last  int64 `json:"last"`
}

// Stats mirrors the /api/sensors/stats document. A nil mean means no entry
// carried a value for that field; hr_mean is dropped from the JSON entirely
// in that case since heart rate is a legacy field.
type Stats struct {
	LightMean   *float64  `json:"light_mean"`
	SoundMean   *float64  `json:"sound_mean"`
	TempMean    *float64  `json:"temp_mean"`
	HRMean      *float64  `json:"hr_mean,omitempty"`
	SampleCount int       `json:"sample_count"`
	TimeRange   TimeRange `json:"time_range"`
}

// Summarize computes per-field means over readings, skipping null values.
// readings must be in arrival order.
func Summarize(readings []Reading) (Stats, error) {
	if len(readings) == 0 {
		return Stats{}, ErrNoData
	}
	var light, sound, temp, hr mean
	for _, r := range readings {
		light.add(r.Light)
		sound.add(r.Sound)
		temp.add(r.Temperature)
		hr.add(r.HeartRate)
	}
	return Stats{
		LightMean:   light.value(),
		SoundMean:   sound.value(),
		TempMean:    temp.value(),
		HRMean:      hr.value(),
		SampleCount: len(readings),
		TimeRange: TimeRange{
			First: readings[0].ReceivedAt,
			Last:  readings[len(readings)-1].ReceivedAt,
		},
	}, nil
}

// mean is a running average, finite for any finite inputs.
type mean struct {
	avg float64
	n   int
}

func (m *mean) add(v *float64) {
	if v == nil {
		return
	}
	m.n++
	m.avg += (*v - m.avg) / float64(m.n)
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.avg
	return &v
}

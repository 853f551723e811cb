// v0
// internal/sensor/reading.go
// Package sensor holds the in-memory view of the Arduino sensor stream: the
// decoded Reading, the latest-reading register, the bounded history and the
// statistics derived from it.
package sensor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Reading is one decoded sample. Sensor values are nil when the producer
// sent null. Pointer targets are never written after decode.
type Reading struct {
	Light       *float64 `json:"light"`
	Sound       *float64 `json:"sound"`
	Temperature *float64 `json:"temperature"`
	HeartRate   *float64 `json:"heartRate,omitempty"`
	// DeviceTimestamp is the producer clock, or the ingest clock in Unix
	// milliseconds when the line carried no timestamp.
	DeviceTimestamp float64 `json:"timestamp"`
	// ReceivedAt is set by the Store when the reading is appended.
	ReceivedAt int64 `json:"receivedAt"`
}

// Float returns a pointer to v. Handy for building readings in tests and
// in the simulator.
func Float(v float64) *float64 {
	return &v
}

// DecodeError reports why a line could not be turned into a Reading.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return "decode reading: " + e.Reason
	}
	return fmt.Sprintf("decode reading: field %q %s", e.Field, e.Reason)
}

// Decoder turns raw JSON lines into readings. HeartRate controls whether
// the legacy heart_rate field is kept or ignored.
type Decoder struct {
	HeartRate bool
}

// Decode parses one line. light, sound and temperature must be present
// (number or null); heart_rate and timestamp are optional. Unknown keys are
// ignored. now is used when the line has no timestamp.
func (d Decoder) Decode(line []byte, now time.Time) (Reading, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return Reading{}, &DecodeError{Reason: "invalid json object: " + err.Error()}
	}
	if raw == nil {
		return Reading{}, &DecodeError{Reason: "not a json object"}
	}
	if dec.More() {
		return Reading{}, &DecodeError{Reason: "trailing data after object"}
	}

	var (
		r   Reading
		err error
	)
	if r.Light, err = numberField(raw, "light", true); err != nil {
		return Reading{}, err
	}
	if r.Sound, err = numberField(raw, "sound", true); err != nil {
		return Reading{}, err
	}
	if r.Temperature, err = numberField(raw, "temperature", true); err != nil {
		return Reading{}, err
	}
	if d.HeartRate {
		if r.HeartRate, err = numberField(raw, "heart_rate", false); err != nil {
			return Reading{}, err
		}
	}
	ts, err := numberField(raw, "timestamp", false)
	if err != nil {
		return Reading{}, err
	}
	if ts != nil {
		r.DeviceTimestamp = *ts
	} else {
		r.DeviceTimestamp = float64(now.UnixMilli())
	}
	return r, nil
}

func numberField(raw map[string]any, key string, required bool) (*float64, error) {
	v, ok := raw[key]
	if !ok {
		if required {
			return nil, &DecodeError{Field: key, Reason: "is missing"}
		}
		return nil, nil
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, &DecodeError{Field: key, Reason: "is not a finite number"}
		}
		return &f, nil
	default:
		return nil, &DecodeError{Field: key, Reason: fmt.Sprintf("has type %T, want number or null", v)}
	}
}

// v0
// internal/simulate/generator.go
// Package simulate produces mock Arduino output so the hub can be exercised
// without hardware.
package simulate

import (
	"encoding/json"
	"math"
	"math/rand"
	"time"
)

// Config shapes the generated stream.
type Config struct {
	HeartRate bool
	// CorruptEvery emits a truncated line every N lines when > 0.
	CorruptEvery int
	// NullTemperatureEvery reports a disconnected thermistor every N lines.
	NullTemperatureEvery int
	Seed                 int64
}

// line mirrors the sketch's Serial.println(JSON) output.
type line struct {
	Light       float64  `json:"light"`
	Sound       float64  `json:"sound"`
	Temperature *float64 `json:"temperature"`
	HeartRate   *float64 `json:"heart_rate,omitempty"`
	Timestamp   int64    `json:"timestamp"`
}

// Generator is a bounded random walk over the four sensor channels. It is
// not safe for concurrent use.
type Generator struct {
	cfg   Config
	rng   *rand.Rand
	boot  time.Time
	n     int
	light float64
	sound float64
	temp  float64
	hr    float64
}

func NewGenerator(cfg Config, boot time.Time) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = boot.UnixNano()
	}
	return &Generator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		boot:  boot,
		light: 400,
		sound: 300,
		temp:  22,
		hr:    80,
	}
}

// Next returns the line the board would print at now, without newline.
// The timestamp is milliseconds since boot, like millis() on the board.
func (g *Generator) Next(now time.Time) []byte {
	g.n++
	g.light = g.walk(g.light, 25, 0, 1023)
	g.sound = g.walk(g.sound, 40, 0, 1023)
	g.temp = g.walk(g.temp, 0.2, 15, 35)
	g.hr = g.walk(g.hr, 2, 45, 140)

	l := line{
		Light:     math.Round(g.light),
		Sound:     math.Round(g.sound),
		Timestamp: now.Sub(g.boot).Milliseconds(),
	}
	if !every(g.n, g.cfg.NullTemperatureEvery) {
		t := math.Round(g.temp*10) / 10
		l.Temperature = &t
	}
	if g.cfg.HeartRate {
		hr := math.Round(g.hr)
		l.HeartRate = &hr
	}

	out, _ := json.Marshal(l)
	if every(g.n, g.cfg.CorruptEvery) {
		return out[:len(out)/2]
	}
	return out
}

func (g *Generator) walk(v, step, lo, hi float64) float64 {
	v += (g.rng.Float64()*2 - 1) * step
	return math.Max(lo, math.Min(hi, v))
}

func every(n, k int) bool {
	return k > 0 && n%k == 0
}

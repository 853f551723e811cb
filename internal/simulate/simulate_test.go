// v0
// internal/simulate/simulate_test.go
package simulate

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/reneeyyx/CareSphere/internal/sensor"
)

func TestGeneratorLinesDecode(t *testing.T) {
	boot := time.UnixMilli(0)
	g := NewGenerator(Config{HeartRate: true, Seed: 7}, boot)
	dec := sensor.Decoder{HeartRate: true}

	for i := 1; i <= 50; i++ {
		now := boot.Add(time.Duration(i) * time.Second)
		r, err := dec.Decode(g.Next(now), now)
		if err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if r.Light == nil || *r.Light < 0 || *r.Light > 1023 {
			t.Fatalf("line %d: light out of range %+v", i, r.Light)
		}
		if r.Temperature == nil || *r.Temperature < 15 || *r.Temperature > 35 {
			t.Fatalf("line %d: temperature out of range", i)
		}
		if r.HeartRate == nil {
			t.Fatalf("line %d: expected heart rate", i)
		}
		if r.DeviceTimestamp != float64(i*1000) {
			t.Fatalf("line %d: expected millis since boot, got %f", i, r.DeviceTimestamp)
		}
	}
}

func TestGeneratorFaults(t *testing.T) {
	g := NewGenerator(Config{CorruptEvery: 3, NullTemperatureEvery: 2, Seed: 1}, time.Now())
	dec := sensor.Decoder{}

	var bad, nullTemp int
	for i := 0; i < 12; i++ {
		r, err := dec.Decode(g.Next(time.Now()), time.Now())
		if err != nil {
			bad++
			continue
		}
		if r.Temperature == nil {
			nullTemp++
		}
	}
	if bad != 4 {
		t.Fatalf("expected 4 corrupt lines, got %d", bad)
	}
	// lines 2,4,8,10 carry null temperature; 6 and 12 are corrupt.
	if nullTemp != 4 {
		t.Fatalf("expected 4 null temperatures, got %d", nullTemp)
	}
}

func TestRunWritesCount(t *testing.T) {
	var buf bytes.Buffer
	g := NewGenerator(Config{Seed: 3}, time.Now())
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	n, err := Run(context.Background(), g, WriterEmitter{W: &buf}, time.Millisecond, 3, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 lines, got %d", n)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 output lines, got %d", len(lines))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGenerator(Config{Seed: 3}, time.Now())
	n, err := Run(ctx, g, WriterEmitter{W: io.Discard}, time.Hour, 0, nil)
	if err != context.Canceled || n != 1 {
		t.Fatalf("expected one line then context.Canceled, got n=%d err=%v", n, err)
	}
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type recordingClient struct {
	mqtt.Client
	topic    string
	payloads [][]byte
	closed   bool
}

func (c *recordingClient) Connect() mqtt.Token { return doneToken{} }
func (c *recordingClient) Disconnect(uint)     { c.closed = true }
func (c *recordingClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.topic = topic
	c.payloads = append(c.payloads, payload.([]byte))
	return doneToken{}
}

func TestMQTTEmitterPublishes(t *testing.T) {
	client := &recordingClient{}
	e, err := newMQTTEmitter(client, "sensors/arduino", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := e.Emit(context.Background(), []byte(`{"light":1}`)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	_ = e.Close()
	if client.topic != "sensors/arduino" || len(client.payloads) != 1 || !client.closed {
		t.Fatalf("unexpected client state %+v", client)
	}
}

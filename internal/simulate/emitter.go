// v0
// internal/simulate/emitter.go
package simulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Emitter delivers generated lines somewhere.
type Emitter interface {
	Emit(ctx context.Context, line []byte) error
	Close() error
}

// WriterEmitter prints newline-terminated lines, like the board's serial
// output. Pipe it into `sensorhub serve` with source=file and file_path=-.
type WriterEmitter struct {
	W io.Writer
}

func (e WriterEmitter) Emit(_ context.Context, line []byte) error {
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := e.W.Write(buf)
	return err
}

func (e WriterEmitter) Close() error { return nil }

// MQTTEmitter publishes each line as one message.
type MQTTEmitter struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
}

func NewMQTTEmitter(broker, topic string, qos byte) (*MQTTEmitter, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("sensorhub-sim-" + uuid.NewString()[:8]).
		SetAutoReconnect(true)
	return newMQTTEmitter(mqtt.NewClient(opts), topic, qos)
}

func newMQTTEmitter(client mqtt.Client, topic string, qos byte) (*MQTTEmitter, error) {
	e := &MQTTEmitter{client: client, topic: topic, qos: qos, timeout: 10 * time.Second}
	tok := client.Connect()
	if !tok.WaitTimeout(e.timeout) {
		return nil, errors.New("connect mqtt: timed out")
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt: %w", err)
	}
	return e, nil
}

func (e *MQTTEmitter) Emit(ctx context.Context, line []byte) error {
	tok := e.client.Publish(e.topic, e.qos, false, line)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tok.Done():
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", e.topic, err)
	}
	return nil
}

func (e *MQTTEmitter) Close() error {
	e.client.Disconnect(250)
	return nil
}

// Run emits one line per interval until ctx ends or count lines were sent
// (count <= 0 means no limit). It returns the number of lines emitted.
func Run(ctx context.Context, g *Generator, e Emitter, interval time.Duration, count int, log *slog.Logger) (int, error) {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for {
		if err := e.Emit(ctx, g.Next(time.Now())); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			log.Warn("simulate_emit_failed", slog.Any("err", err))
		} else {
			sent++
		}
		if count > 0 && sent >= count {
			return sent, nil
		}
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-ticker.C:
		}
	}
}

// v0
// internal/ingest/mqtt.go
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTConfig points the hub at a broker topic carrying one reading per
// message, for boards bridged over Wi-Fi instead of USB.
type MQTTConfig struct {
	Broker         string
	Topic          string
	ClientID       string
	QoS            byte
	ConnectTimeout time.Duration
}

type MQTTSource struct {
	cfg       MQTTConfig
	log       *slog.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewMQTTSource(cfg MQTTConfig, log *slog.Logger) *MQTTSource {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "sensorhub-" + uuid.NewString()[:8]
	}
	return &MQTTSource{cfg: cfg, log: log, newClient: mqtt.NewClient}
}

func (s *MQTTSource) Name() string { return "mqtt" }

// Open connects, subscribes and returns a stream where every message
// payload is one line. Losing the broker ends the stream with an error.
func (s *MQTTSource) Open(ctx context.Context) (io.ReadCloser, error) {
	pr, pw := io.Pipe()

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.log.Warn("mqtt_connection_lost", slog.String("broker", s.cfg.Broker), slog.Any("err", err))
			_ = pw.CloseWithError(fmt.Errorf("mqtt connection lost: %w", err))
		})

	client := s.newClient(opts)
	if err := waitToken(client.Connect(), s.cfg.ConnectTimeout); err != nil {
		_ = pw.Close()
		return nil, fmt.Errorf("connect mqtt %s: %w", s.cfg.Broker, err)
	}
	if err := waitToken(client.Subscribe(s.cfg.Topic, s.cfg.QoS, messageHandler(pw, s.log)), s.cfg.ConnectTimeout); err != nil {
		client.Disconnect(250)
		_ = pw.Close()
		return nil, fmt.Errorf("subscribe mqtt %s: %w", s.cfg.Topic, err)
	}
	s.log.Info("mqtt_subscribed", slog.String("broker", s.cfg.Broker), slog.String("topic", s.cfg.Topic))

	return closeOnDone(ctx, &mqttStream{PipeReader: pr, pw: pw, client: client}), nil
}

var errTokenTimeout = errors.New("timed out waiting for broker")

func waitToken(tok mqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return errTokenTimeout
	}
	return tok.Error()
}

// messageHandler writes each payload as one newline-terminated line. Writes
// block until the LineReader consumes them, which keeps delivery ordered.
func messageHandler(w io.Writer, log *slog.Logger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		payload := bytes.TrimSpace(msg.Payload())
		if len(payload) == 0 {
			return
		}
		line := make([]byte, 0, len(payload)+1)
		line = append(line, payload...)
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Warn("mqtt_forward_failed", slog.String("topic", msg.Topic()), slog.Any("err", err))
		}
	}
}

type mqttStream struct {
	*io.PipeReader
	pw     *io.PipeWriter
	client mqtt.Client
}

// Close releases handlers blocked on the pipe before disconnecting.
func (m *mqttStream) Close() error {
	_ = m.pw.Close()
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
	return m.PipeReader.Close()
}

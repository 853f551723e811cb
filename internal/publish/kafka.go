// v0
// internal/publish/kafka.go
// Package publish forwards ingested readings to Kafka so downstream
// consumers can follow the sensor stream without polling the HTTP API.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/reneeyyx/CareSphere/internal/circuitbreaker"
	"github.com/reneeyyx/CareSphere/internal/metrics"
	"github.com/reneeyyx/CareSphere/internal/sensor"
)

const messageKey = "sensorhub"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig selects the cluster and topic. Timeout bounds a single write.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Timeout time.Duration
	Breaker circuitbreaker.Config
}

// KafkaPublisher writes readings to a topic through a circuit breaker.
// Failures are logged and counted and never reach the ingest path.
type KafkaPublisher struct {
	cfg     KafkaConfig
	w       messageWriter
	brk     *circuitbreaker.Breaker
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewKafkaPublisher(cfg KafkaConfig, log *slog.Logger, m *metrics.Metrics) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are empty")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka topic is empty")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return newKafkaPublisher(cfg, w, log, m), nil
}

func newKafkaPublisher(cfg KafkaConfig, w messageWriter, log *slog.Logger, m *metrics.Metrics) *KafkaPublisher {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	p := &KafkaPublisher{cfg: cfg, w: w, log: log, metrics: m}
	m.SetBreakerState("kafka", int(circuitbreaker.Closed))
	p.brk = circuitbreaker.New("kafka", cfg.Breaker, log,
		circuitbreaker.WithStateHook(func(s circuitbreaker.State) {
			m.SetBreakerState("kafka", int(s))
		}),
	)
	return p
}

// Run forwards every reading from in until ctx ends or in is closed.
func (p *KafkaPublisher) Run(ctx context.Context, in <-chan sensor.Reading) error {
	p.log.Info("publisher_started", slog.String("topic", p.cfg.Topic), slog.Any("brokers", p.cfg.Brokers))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-in:
			if !ok {
				return nil
			}
			_ = p.Publish(ctx, r)
		}
	}
}

// Publish writes one reading. The error is returned for callers that care,
// Run ignores it.
func (p *KafkaPublisher) Publish(ctx context.Context, r sensor.Reading) error {
	body, err := json.Marshal(r)
	if err != nil {
		p.metrics.Republished("error")
		return fmt.Errorf("marshal reading: %w", err)
	}
	err = p.brk.Execute(ctx, func(ctx context.Context) error {
		wctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
		return p.w.WriteMessages(wctx, kafka.Message{
			Key:   []byte(messageKey),
			Value: body,
			Time:  time.UnixMilli(r.ReceivedAt),
		})
	})
	switch {
	case err == nil:
		p.metrics.Republished("ok")
		p.log.Debug("reading_republished", slog.Int64("received_at", r.ReceivedAt))
		return nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		p.metrics.Republished("breaker_open")
		return err
	default:
		p.metrics.Republished("error")
		p.log.Warn("kafka_write_failed", slog.String("topic", p.cfg.Topic), slog.Any("err", err))
		return fmt.Errorf("kafka write: %w", err)
	}
}

// BreakerState reports the breaker position for /health.
func (p *KafkaPublisher) BreakerState() string {
	return p.brk.State().String()
}

// Close flushes pending writes.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

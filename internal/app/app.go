// v3
// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/reneeyyx/CareSphere/internal/circuitbreaker"
	"github.com/reneeyyx/CareSphere/internal/config"
	httpserver "github.com/reneeyyx/CareSphere/internal/http"
	"github.com/reneeyyx/CareSphere/internal/ingest"
	"github.com/reneeyyx/CareSphere/internal/metrics"
	"github.com/reneeyyx/CareSphere/internal/publish"
	"github.com/reneeyyx/CareSphere/internal/sensor"
)

// Application wires the store, the ingest supervisor, the optional Kafka
// republisher and the HTTP API, and owns their shutdown.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	logClose io.Closer

	store      *sensor.Store
	metrics    *metrics.Metrics
	health     *httpserver.HealthState
	supervisor *ingest.Supervisor
	publisher  *publish.KafkaPublisher
	pubFeed    <-chan sensor.Reading
	pubCancel  func()

	server    *http.Server
	done      chan struct{}
	listening chan struct{}
	addr      net.Addr
}

// Option customises New, mainly for tests.
type Option func(*options)

type options struct {
	logger *slog.Logger
	source ingest.Source
}

// WithLogger replaces the logger built from the config.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSource replaces the source selected by cfg.Source.
func WithSource(src ingest.Source) Option {
	return func(o *options) { o.source = src }
}

// New prepares a fully wired instance. Nothing runs until Run.
func New(cfg config.Config, opts ...Option) (*Application, error) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return nil, errors.New("listen address cannot be empty")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger, logClose := o.logger, io.Closer(io.NopCloser(nil))
	if logger == nil {
		var err error
		logger, logClose, err = NewLogger(os.Stdout, cfg.LogFilePath, cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return nil, err
		}
	}

	m := metrics.New()
	store := sensor.NewStore(cfg.HistoryCapacity)
	m.WatchHistory(store.Len, store.Capacity(), store.Dropped)

	src := o.source
	if src == nil {
		var err error
		src, err = buildSource(cfg, logger.With(slog.String("component", "source")))
		if err != nil {
			_ = logClose.Close()
			return nil, err
		}
	}

	ingestLogger := logger.With(slog.String("component", "ingest"))
	reader := ingest.NewLineReader(sensor.Decoder{HeartRate: cfg.HeartRate}, store, ingestLogger, m)
	supervisor := ingest.NewSupervisor(src, reader, ingest.Backoff{
		Initial:    cfg.ReconnectInitialBackoff,
		Max:        cfg.ReconnectMaxBackoff,
		MaxRetries: cfg.ReconnectMaxRetries,
	}, ingestLogger, m)
	ingestLogger.Info("ingest_configured",
		slog.String("source", src.Name()),
		slog.Int("max_retries", cfg.ReconnectMaxRetries),
		slog.Duration("initial_backoff", cfg.ReconnectInitialBackoff),
		slog.Duration("max_backoff", cfg.ReconnectMaxBackoff),
		slog.Bool("heart_rate", cfg.HeartRate),
	)

	a := &Application{
		cfg:        cfg,
		logger:     logger,
		logClose:   logClose,
		store:      store,
		metrics:    m,
		health:     httpserver.NewHealthState(),
		supervisor: supervisor,
		done:       make(chan struct{}),
		listening:  make(chan struct{}),
	}

	deps := httpserver.Deps{
		Log:          logger.With(slog.String("component", "http")),
		Store:        store,
		Health:       a.health,
		Source:       supervisor,
		Metrics:      m,
		Done:         a.done,
		StreamBuffer: cfg.StreamBuffer,
	}

	if cfg.KafkaEnabled() {
		pubLogger := logger.With(slog.String("component", "publisher"))
		pub, err := publish.NewKafkaPublisher(publish.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Breaker: circuitbreaker.Config{
				MaxFailures:      cfg.CircuitMaxFailures,
				ResetTimeout:     cfg.CircuitResetTimeout,
				SuccessesToClose: 1,
			},
		}, pubLogger, m)
		if err != nil {
			_ = logClose.Close()
			return nil, fmt.Errorf("kafka publisher init: %w", err)
		}
		a.publisher = pub
		a.pubFeed, a.pubCancel = store.Subscribe(256)
		deps.Breaker = pub
		pubLogger.Info("publisher_configured",
			slog.String("brokers", strings.Join(cfg.KafkaBrokers, ",")),
			slog.String("topic", cfg.KafkaTopic),
		)
	}

	a.server = &http.Server{
		Handler:           httpserver.NewRouter(deps),
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPWriteTimeout,
	}
	return a, nil
}

func buildSource(cfg config.Config, log *slog.Logger) (ingest.Source, error) {
	switch cfg.Source {
	case config.SourceSerial:
		return ingest.NewSerialSource(ingest.SerialConfig{
			Path:       cfg.SerialPort,
			Override:   cfg.SerialOverride,
			Baud:       cfg.SerialBaud,
			AutoDetect: cfg.SerialAutoDetect,
			Match:      cfg.SerialMatch,
			ResetDelay: cfg.SerialResetDelay,
		}, log), nil
	case config.SourceMQTT:
		return ingest.NewMQTTSource(ingest.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
			QoS:      cfg.MQTTQoS,
		}, log), nil
	case config.SourceFile:
		return ingest.NewFileSource(cfg.FilePath), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// Logger exposes the configured logger.
func (a *Application) Logger() *slog.Logger {
	return a.logger
}

// Store exposes the reading store, mainly for tests.
func (a *Application) Store() *sensor.Store {
	return a.store
}

// Listening is closed once the HTTP listener is bound; Addr is valid after.
func (a *Application) Listening() <-chan struct{} {
	return a.listening
}

func (a *Application) Addr() net.Addr {
	return a.addr
}

// Run blocks until ctx is cancelled or the HTTP server fails. The ingest
// supervisor giving up or a finite source finishing leaves the API up.
func (a *Application) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", a.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.ListenAddress, err)
	}
	a.addr = ln.Addr()
	close(a.listening)

	httpCh := make(chan error, 1)
	go func() {
		a.health.SetReady(true)
		a.logger.Info("http_server_listen", slog.String("address", ln.Addr().String()))
		httpCh <- a.server.Serve(ln)
	}()

	ingestCh := make(chan error, 1)
	go func() {
		ingestCh <- a.supervisor.Run(ctx)
	}()

	var pubCh chan error
	if a.publisher != nil {
		pubCh = make(chan error, 1)
		go func() {
			pubCh <- a.publisher.Run(ctx, a.pubFeed)
		}()
	}

	var httpErr error
	for {
		select {
		case err := <-httpCh:
			httpCh = nil
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http_server_error", slog.Any("err", err))
				httpErr = err
			} else {
				a.logger.Info("server_closed")
			}
			cancel()
		case err := <-ingestCh:
			ingestCh = nil
			switch {
			case err == nil:
				a.logger.Info("ingest_completed")
			case errors.Is(err, ingest.ErrGaveUp):
				a.logger.Error("ingest_stopped_serving_cached_data", slog.Any("err", err))
			case errors.Is(err, context.Canceled):
			default:
				a.logger.Error("ingest_error", slog.Any("err", err))
			}
		case err := <-pubCh:
			pubCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("publisher_error", slog.Any("err", err))
			}
		case <-ctx.Done():
			a.logger.Info("shutdown_signal")
			a.health.SetReady(false)
			close(a.done)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("server_shutdown_failed", slog.Any("err", err))
				if httpErr == nil {
					httpErr = fmt.Errorf("shutdown: %w", err)
				}
			}
			shutdownCancel()

			if httpCh != nil {
				if err := <-httpCh; err != nil && !errors.Is(err, http.ErrServerClosed) && httpErr == nil {
					httpErr = err
				}
			}
			if ingestCh != nil {
				<-ingestCh
			}
			if pubCh != nil {
				<-pubCh
			}
			if httpErr != nil {
				return httpErr
			}
			a.logger.Info("shutdown_complete")
			return nil
		}
	}
}

// Close flushes the publisher and releases the log file.
func (a *Application) Close() error {
	var errs []error
	if a.pubCancel != nil {
		a.pubCancel()
		a.pubCancel = nil
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
		a.publisher = nil
	}
	if a.logClose != nil {
		if err := a.logClose.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
		a.logClose = nil
	}
	return errors.Join(errs...)
}

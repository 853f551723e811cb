// v1
// internal/circuitbreaker/circuitbreaker.go
package circuitbreaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

var ErrOpen = errors.New("circuit breaker is open; fast-fail")

// Config holds the breaker tunables.
type Config struct {
	MaxFailures      int           // consecutive failures before opening
	ResetTimeout     time.Duration // how long to stay open before probing again
	SuccessesToClose int           // successes required in HalfOpen before closing
}

// DefaultConfig mirrors the CB_KAFKA_* defaults.
func DefaultConfig() Config {
	return Config{MaxFailures: 5, ResetTimeout: 30 * time.Second, SuccessesToClose: 1}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxFailures < 1 {
		c.MaxFailures = d.MaxFailures
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.SuccessesToClose < 1 {
		c.SuccessesToClose = d.SuccessesToClose
	}
	return c
}

type Breaker struct {
	name   string
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	recentFails int
	halfOpenOK  int
	openedAt    time.Time

	probe    func(ctx context.Context) error
	onChange func(State)
	now      func() time.Time
}

// Option customises a Breaker.
type Option func(*Breaker)

// WithProbe sets a check run once when leaving Open; a failing probe keeps
// the breaker open without running the operation.
func WithProbe(probe func(ctx context.Context) error) Option {
	return func(b *Breaker) { b.probe = probe }
}

// WithStateHook registers a callback invoked on every state change.
func WithStateHook(fn func(State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

func New(name string, cfg Config, logger *slog.Logger, opts ...Option) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg.normalized(),
		logger: logger,
		state:  Closed,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger.Info("breaker_created", "name", name, "state", b.state.String(), "maxFailures", b.cfg.MaxFailures, "resetTimeout", b.cfg.ResetTimeout.String())
	return b
}

// Execute runs op unless the breaker is open. While open it fast-fails with
// ErrOpen until ResetTimeout elapses, then lets calls through in HalfOpen.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	probing := false
	switch b.state {
	case Open:
		since := b.now().Sub(b.openedAt)
		if since < b.cfg.ResetTimeout {
			b.mu.Unlock()
			b.logger.Warn("breaker_fast_fail", "name", b.name, "since_open", since.String())
			return ErrOpen
		}
		b.setStateLocked(HalfOpen)
		b.halfOpenOK = 0
		probing = true
	}
	b.mu.Unlock()

	if probing && b.probe != nil {
		b.logger.Info("breaker_probe_start", "name", b.name)
		if err := b.probe(ctx); err != nil {
			b.logger.Warn("breaker_probe_failed", "name", b.name, "error", err.Error())
			b.mu.Lock()
			b.trip()
			b.mu.Unlock()
			return ErrOpen
		}
		b.logger.Info("breaker_probe_ok", "name", b.name)
	}

	if err := op(ctx); err != nil {
		b.onFailure(err)
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case HalfOpen:
		b.halfOpenOK++
		if b.halfOpenOK >= b.cfg.SuccessesToClose {
			b.recentFails = 0
			b.setStateLocked(Closed)
			b.logger.Info("breaker_closed_after_probe", "name", b.name)
		}
	default:
		b.recentFails = 0
	}
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recentFails++
	b.logger.Warn("operation_failure", "name", b.name, "failures", b.recentFails, "error", err.Error())
	if b.state == HalfOpen || b.recentFails >= b.cfg.MaxFailures {
		b.trip()
	}
}

// trip must be called with b.mu held.
func (b *Breaker) trip() {
	b.openedAt = b.now()
	if b.state != Open {
		b.setStateLocked(Open)
		b.logger.Error("breaker_opened", "name", b.name, "maxFailures", b.cfg.MaxFailures)
	}
}

func (b *Breaker) setStateLocked(s State) {
	if b.state == s {
		return
	}
	b.logger.Info("breaker_state_change", "name", b.name, "from", b.state.String(), "to", s.String())
	b.state = s
	if b.onChange != nil {
		b.onChange(s)
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) Name() string { return b.name }

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return "Unknown"
	}
}

// v0
// internal/ingest/supervisor.go
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/reneeyyx/CareSphere/internal/metrics"
)

// ErrGaveUp is returned by Supervisor.Run once the retry budget is spent.
var ErrGaveUp = errors.New("ingest source unavailable, giving up")

var errStreamClosed = errors.New("stream closed by peer")

// Supervisor states reported through Status.
const (
	StateIdle       = "idle"
	StateConnecting = "connecting"
	StateConnected  = "connected"
	StateBackoff    = "backoff"
	StateFinished   = "finished"
	StateGaveUp     = "gave_up"
	StateStopped    = "stopped"
)

// Backoff is the reconnect policy: exponential from Initial, capped at
// Max, at most MaxRetries consecutive retries. MaxRetries 0 disables
// reconnecting entirely.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Initial
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		next := d * 2
		if next <= d {
			// overflow, only reachable without a Max
			return time.Duration(math.MaxInt64)
		}
		d = next
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Status is the supervisor view served on /health.
type Status struct {
	Source          string `json:"name"`
	State           string `json:"state"`
	Failures        int    `json:"consecutiveFailures"`
	LastError       string `json:"lastError,omitempty"`
	LastConnectedAt int64  `json:"lastConnectedAt,omitempty"`
	NextRetryAt     int64  `json:"nextRetryAt,omitempty"`
}

// Supervisor keeps a Source connected and feeds it to a LineReader.
type Supervisor struct {
	src     Source
	reader  *LineReader
	policy  Backoff
	log     *slog.Logger
	metrics *metrics.Metrics

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	mu     sync.RWMutex
	status Status
}

func NewSupervisor(src Source, reader *LineReader, policy Backoff, log *slog.Logger, m *metrics.Metrics) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		src:     src,
		reader:  reader,
		policy:  policy,
		log:     log,
		metrics: m,
		sleep:   sleepContext,
		now:     time.Now,
		status:  Status{Source: src.Name(), State: StateIdle},
	}
}

// Run blocks until ctx ends, a finite source is exhausted (nil), or the
// retry budget is spent (ErrGaveUp). A finite source that was opened is
// never reopened; a read error on it gives up at once.
func (s *Supervisor) Run(ctx context.Context) error {
	failures := 0
	for {
		s.update(func(st *Status) {
			st.State = StateConnecting
			st.NextRetryAt = 0
		})

		opened, err := s.session(ctx, &failures)
		if ctx.Err() != nil {
			s.update(func(st *Status) { st.State = StateStopped })
			return ctx.Err()
		}
		if err == nil {
			s.update(func(st *Status) { st.State = StateFinished })
			s.log.Info("ingest_source_finished", slog.String("source", s.src.Name()))
			return nil
		}

		failures++
		s.update(func(st *Status) {
			st.Failures = failures
			st.LastError = err.Error()
		})
		if failures > s.policy.MaxRetries || (opened && s.finite()) {
			s.update(func(st *Status) { st.State = StateGaveUp })
			s.log.Error("ingest_gave_up",
				slog.String("source", s.src.Name()),
				slog.Int("failures", failures),
				slog.Any("err", err),
			)
			return ErrGaveUp
		}

		delay := s.policy.Delay(failures)
		s.update(func(st *Status) {
			st.State = StateBackoff
			st.NextRetryAt = s.now().Add(delay).UnixMilli()
		})
		s.log.Warn("ingest_retry_scheduled",
			slog.String("source", s.src.Name()),
			slog.Int("attempt", failures),
			slog.Int("max_retries", s.policy.MaxRetries),
			slog.Duration("delay", delay),
			slog.Any("err", err),
		)
		if err := s.sleep(ctx, delay); err != nil {
			s.update(func(st *Status) { st.State = StateStopped })
			return err
		}
	}
}

// session runs one connection and reports whether Open succeeded. A nil
// error means a finite source reached a clean EOF. failures is reset once
// the connection delivers data.
func (s *Supervisor) session(ctx context.Context, failures *int) (bool, error) {
	rc, err := s.src.Open(ctx)
	if err != nil {
		s.metrics.SourceConnect(s.src.Name(), false)
		s.log.Warn("ingest_connect_failed", slog.String("source", s.src.Name()), slog.Any("err", err))
		return false, err
	}
	s.metrics.SourceConnect(s.src.Name(), true)
	s.metrics.SetSourceConnected(true)
	s.update(func(st *Status) {
		st.State = StateConnected
		st.LastConnectedAt = s.now().UnixMilli()
	})
	s.log.Info("ingest_connected", slog.String("source", s.src.Name()))

	lines, err := s.reader.Consume(ctx, rc)
	_ = rc.Close()
	s.metrics.SetSourceConnected(false)

	if lines > 0 {
		*failures = 0
		s.update(func(st *Status) { st.Failures = 0 })
	}
	s.log.Info("ingest_disconnected",
		slog.String("source", s.src.Name()),
		slog.Int("lines", lines),
		slog.Any("err", err),
	)
	if err != nil {
		return true, err
	}
	if s.finite() {
		return true, nil
	}
	return true, errStreamClosed
}

func (s *Supervisor) finite() bool {
	f, ok := s.src.(finiteSource)
	return ok && f.Finite()
}

// Status returns a copy of the current supervisor state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Supervisor) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

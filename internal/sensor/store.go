// v0
// internal/sensor/store.go
package sensor

import (
	"sync"
	"time"
)

// DefaultCapacity is the history size used when none is configured.
const DefaultCapacity = 100

// Store owns the latest-reading register and the rolling history. Append is
// meant to be called by a single ingest goroutine; every other method is
// read-only and safe to call concurrently.
type Store struct {
	mu sync.RWMutex

	ring []Reading
	head int // index of the oldest entry
	size int

	latest    Reading
	hasLatest bool

	lastReceived int64
	now          func() time.Time

	subs    map[int]chan Reading
	nextSub int
	dropped uint64
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces the wall clock used to stamp ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore builds an empty store holding at most capacity readings.
func NewStore(capacity int, opts ...Option) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		ring: make([]Reading, capacity),
		now:  time.Now,
		subs: make(map[int]chan Reading),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append stamps r with its receipt time, overwrites the latest register and
// pushes r onto the history, evicting the oldest entry when full. The stamped
// reading is returned and forwarded to subscribers.
func (s *Store) Append(r Reading) Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	received := s.now().UnixMilli()
	if received < s.lastReceived {
		received = s.lastReceived
	}
	s.lastReceived = received
	r.ReceivedAt = received

	if s.size < len(s.ring) {
		s.ring[(s.head+s.size)%len(s.ring)] = r
		s.size++
	} else {
		s.ring[s.head] = r
		s.head = (s.head + 1) % len(s.ring)
	}
	s.latest = r
	s.hasLatest = true

	for _, ch := range s.subs {
		select {
		case ch <- r:
		default:
			s.dropped++
		}
	}
	return r
}

// Latest returns the most recent reading, or false before the first one.
func (s *Store) Latest() (Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.hasLatest
}

// History returns a copy of the buffered readings, oldest first.
func (s *Store) History() []Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Reading, s.size)
	for i := 0; i < s.size; i++ {
		out[i] = s.ring[(s.head+i)%len(s.ring)]
	}
	return out
}

// Stats summarises the current history. It returns ErrNoData when empty.
func (s *Store) Stats() (Stats, error) {
	return Summarize(s.History())
}

// Len reports how many readings are buffered.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Capacity reports the maximum history length.
func (s *Store) Capacity() int {
	return len(s.ring)
}

// Dropped counts readings a subscriber missed because its channel was full.
func (s *Store) Dropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Subscribe registers a listener for readings appended from now on. The
// channel never blocks Append: when it is full the reading is dropped for
// that subscriber. Call cancel to unregister; the channel is then closed.
func (s *Store) Subscribe(buffer int) (<-chan Reading, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Reading, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

package livesync

import (
	"context"
	"encoding/json"
	"log"
	"slices"
	"sync"

	"memorylane/internal/models"
)

// Snapshot is the current ordered set of records of one subscription.
type Snapshot[T any] struct {
	Records []T
	// Stale is set when Records are the last good data after an error.
	Stale bool
	Err   error
}

// Option configures a typed subscription.
type Option[T any] func(*Subscription[T])

// WithOrder sorts every snapshot with cmp; equal records keep backend order.
func WithOrder[T any](cmp func(a, b T) int) Option[T] {
	return func(s *Subscription[T]) { s.order = cmp }
}

// Subscription delivers decoded snapshots of one kind+filter pair.
// Only the newest undelivered snapshot is kept when the reader lags.
type Subscription[T any] struct {
	reg   *Registry
	key   streamKey
	order func(a, b T) int

	mu     sync.Mutex
	ch     chan Snapshot[T]
	closed bool
}

// Subscribe starts a subscription. An empty filter delivers one empty
// snapshot and never reaches the backend.
func Subscribe[T any](ctx context.Context, r *Registry, kind models.Kind, filter string, opts ...Option[T]) *Subscription[T] {
	s := &Subscription[T]{
		reg: r,
		key: streamKey{kind: kind, filter: filter},
		ch:  make(chan Snapshot[T], 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if filter == "" {
		s.push(Snapshot[T]{Records: []T{}})
		return s
	}
	r.attach(ctx, s.key, s)
	return s
}

// C returns the snapshot channel. It is closed by Unsubscribe.
func (s *Subscription[T]) C() <-chan Snapshot[T] {
	return s.ch
}

// Kind returns the subscribed kind.
func (s *Subscription[T]) Kind() models.Kind {
	return s.key.kind
}

// Filter returns the subscribed filter key.
func (s *Subscription[T]) Filter() string {
	return s.key.filter
}

// Unsubscribe stops delivery immediately and drops any undelivered snapshot.
// Calling it more than once is a no-op.
func (s *Subscription[T]) Unsubscribe() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	select {
	case <-s.ch:
	default:
	}
	close(s.ch)
	s.mu.Unlock()

	if s.key.filter != "" {
		s.reg.detach(s.key, s)
	}
}

func (s *Subscription[T]) deliver(raw Snapshot[json.RawMessage]) {
	snap := Snapshot[T]{Records: make([]T, 0, len(raw.Records)), Stale: raw.Stale, Err: raw.Err}
	for _, rec := range raw.Records {
		var v T
		if err := json.Unmarshal(rec, &v); err != nil {
			log.Printf("[LiveSync] skip undecodable record kind=%s: %v", s.key.kind, err)
			continue
		}
		snap.Records = append(snap.Records, v)
	}
	if s.order != nil {
		slices.SortStableFunc(snap.Records, s.order)
	}
	s.push(snap)
}

func (s *Subscription[T]) push(snap Snapshot[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- snap:
	default:
		select {
		case <-s.ch:
		default:
		}
		s.ch <- snap
	}
}

// Package livesync keeps local, ordered copies of server-pushed collections.
//
// Every delivery is a full snapshot that supersedes the previous one. Errors
// never end a stream: consumers get the last good records marked Stale and
// the registry's error handler is told about the failure.
package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"memorylane/internal/backend"
	"memorylane/internal/models"
	"memorylane/internal/observability"
)

// ErrFeedEnded is reported when the backend closes a feed on its own.
var ErrFeedEnded = errors.New("subscription feed ended")

// ErrorHandler is the side channel for subscription failures.
type ErrorHandler func(kind models.Kind, filter string, err error)

type streamKey struct {
	kind   models.Kind
	filter string
}

type listener interface {
	deliver(snap Snapshot[json.RawMessage])
}

// Registry deduplicates subscriptions: every kind+filter pair shares one backend feed.
type Registry struct {
	store   backend.Store
	onError ErrorHandler

	mu      sync.Mutex
	streams map[streamKey]*stream
}

// NewRegistry builds a registry over store. onError may be nil.
func NewRegistry(store backend.Store, onError ErrorHandler) *Registry {
	return &Registry{
		store:   store,
		onError: onError,
		streams: make(map[streamKey]*stream),
	}
}

// ActiveStreams returns the number of open backend feeds.
func (r *Registry) ActiveStreams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

type stream struct {
	key       streamKey
	feed      backend.Feed
	listeners map[listener]struct{}
	last      Snapshot[json.RawMessage]
	hasLast   bool
}

func (r *Registry) attach(ctx context.Context, key streamKey, l listener) {
	r.mu.Lock()
	s, ok := r.streams[key]
	if ok {
		s.listeners[l] = struct{}{}
		if s.hasLast {
			l.deliver(s.last)
		}
		r.mu.Unlock()
		return
	}
	s = &stream{key: key, listeners: map[listener]struct{}{l: {}}}
	r.streams[key] = s
	r.mu.Unlock()

	feed, err := r.store.Subscribe(ctx, key.kind, key.filter)
	if err != nil {
		// the next subscriber for key opens a fresh feed
		r.fail(s, err, true)
		return
	}

	r.mu.Lock()
	if r.streams[key] != s {
		// every listener left while the feed was opening
		r.mu.Unlock()
		_ = feed.Close()
		return
	}
	s.feed = feed
	r.mu.Unlock()

	observability.IncSyncStream(string(key.kind))
	go r.pump(s, feed)
}

func (r *Registry) detach(key streamKey, l listener) {
	r.mu.Lock()
	s, ok := r.streams[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(s.listeners, l)
	if len(s.listeners) > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.streams, key)
	feed := s.feed
	r.mu.Unlock()

	if feed != nil {
		if err := feed.Close(); err != nil {
			log.Printf("[LiveSync] close feed kind=%s filter=%s: %v", key.kind, key.filter, err)
		}
		observability.DecSyncStream(string(key.kind))
	}
}

func (r *Registry) pump(s *stream, feed backend.Feed) {
	for raw := range feed.Snapshots() {
		if raw.Err != nil {
			r.fail(s, raw.Err, false)
			continue
		}
		snap := Snapshot[json.RawMessage]{Records: raw.Records}
		r.mu.Lock()
		s.last, s.hasLast = snap, true
		s.broadcastLocked(snap)
		r.mu.Unlock()
		observability.IncSnapshot(string(s.key.kind))
	}

	r.fail(s, ErrFeedEnded, false)
}

// fail turns an error into a stale snapshot for every listener of s. With
// drop set, s is also unregistered.
func (r *Registry) fail(s *stream, err error, drop bool) {
	r.mu.Lock()
	if r.streams[s.key] != s {
		r.mu.Unlock()
		return
	}
	if drop {
		delete(r.streams, s.key)
	}
	snap := Snapshot[json.RawMessage]{Records: s.last.Records, Stale: true, Err: err}
	s.last, s.hasLast = snap, true
	s.broadcastLocked(snap)
	r.mu.Unlock()

	observability.IncSyncError(string(s.key.kind))
	log.Printf("[LiveSync] subscription error kind=%s filter=%s: %v", s.key.kind, s.key.filter, err)
	if r.onError != nil {
		r.onError(s.key.kind, s.key.filter, err)
	}
}

// broadcastLocked runs under Registry.mu so deliveries keep feed order.
func (s *stream) broadcastLocked(snap Snapshot[json.RawMessage]) {
	for l := range s.listeners {
		l.deliver(snap)
	}
}

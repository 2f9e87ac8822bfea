// Package memstore is an in-process backend.Store used by tests and local runs.
package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"memorylane/internal/backend"
	"memorylane/internal/models"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("memstore closed")

type entry struct {
	seq  int64
	data map[string]any
}

// Store keeps documents in memory and pushes full snapshots to feeds on every change.
type Store struct {
	mu     sync.Mutex
	docs   map[string]map[string]*entry
	seq    int64
	feeds  map[*feed]struct{}
	closed bool

	// WriteHook runs before a write is applied; a non-nil error fails the write.
	WriteHook func(ctx context.Context, collection, id string, patch backend.Patch) error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		docs:  make(map[string]map[string]*entry),
		feeds: make(map[*feed]struct{}),
	}
}

// Put stores v as document id, replacing any previous content.
func (s *Store) Put(collection, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	data["id"] = id

	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collection(collection)
	if e, ok := coll[id]; ok {
		e.data = data
	} else {
		s.seq++
		coll[id] = &entry{seq: s.seq, data: data}
	}
	s.notifyLocked(collection)
	return nil
}

// ReadDocument implements backend.Store.
func (s *Store) ReadDocument(_ context.Context, collection, id string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.docs[collection][id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return json.Marshal(e.data)
}

// WriteDocument implements backend.Store.
func (s *Store) WriteDocument(ctx context.Context, collection, id string, patch backend.Patch) error {
	if s.WriteHook != nil {
		if err := s.WriteHook(ctx, collection, id, patch); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collection(collection)
	e, ok := coll[id]
	if !ok {
		s.seq++
		e = &entry{seq: s.seq, data: map[string]any{}}
	}
	data := cloneDoc(e.data)
	if err := patch.Apply(data); err != nil {
		return err
	}
	data["id"] = id
	e.data = data
	coll[id] = e
	s.notifyLocked(collection)
	return nil
}

// DeleteDocument implements backend.Store.
func (s *Store) DeleteDocument(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[collection][id]; !ok {
		return backend.ErrNotFound
	}
	delete(s.docs[collection], id)
	s.notifyLocked(collection)
	return nil
}

// Subscribe implements backend.Store. The first snapshot is queued immediately.
func (s *Store) Subscribe(_ context.Context, kind models.Kind, filter string) (backend.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	f := &feed{store: s, kind: kind, filter: filter, ch: make(chan backend.RawSnapshot, 1)}
	s.feeds[f] = struct{}{}
	f.push(s.snapshotLocked(kind, filter))
	return f, nil
}

// Fail pushes err to every open feed of kind and filter.
func (s *Store) Fail(kind models.Kind, filter string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for f := range s.feeds {
		if f.kind == kind && f.filter == filter {
			f.push(backend.RawSnapshot{Err: err})
		}
	}
}

// OpenFeeds returns the number of live feeds.
func (s *Store) OpenFeeds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.feeds)
}

// Close ends every feed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for f := range s.feeds {
		f.closeLocked()
	}
}

func (s *Store) collection(name string) map[string]*entry {
	coll, ok := s.docs[name]
	if !ok {
		coll = make(map[string]*entry)
		s.docs[name] = coll
	}
	return coll
}

func (s *Store) notifyLocked(collection string) {
	for f := range s.feeds {
		if f.kind.Collection() == collection {
			f.push(s.snapshotLocked(f.kind, f.filter))
		}
	}
}

func (s *Store) snapshotLocked(kind models.Kind, filter string) backend.RawSnapshot {
	var matched []*entry
	for _, e := range s.docs[kind.Collection()] {
		if backend.Matches(kind, filter, e.data) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if backend.NewestFirst(kind) {
			ti, tj := backend.Timestamp(kind, matched[i].data), backend.Timestamp(kind, matched[j].data)
			if !ti.Equal(tj) {
				return ti.After(tj)
			}
		}
		return matched[i].seq < matched[j].seq
	})
	records := make([]json.RawMessage, 0, len(matched))
	for _, e := range matched {
		raw, err := json.Marshal(e.data)
		if err != nil {
			return backend.RawSnapshot{Err: err}
		}
		records = append(records, raw)
	}
	return backend.RawSnapshot{Records: records}
}

func cloneDoc(in map[string]any) map[string]any {
	raw, _ := json.Marshal(in)
	out := map[string]any{}
	_ = json.Unmarshal(raw, &out)
	return out
}

type feed struct {
	store  *Store
	kind   models.Kind
	filter string
	ch     chan backend.RawSnapshot
	done   bool
}

func (f *feed) Snapshots() <-chan backend.RawSnapshot {
	return f.ch
}

func (f *feed) Close() error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.closeLocked()
	return nil
}

func (f *feed) closeLocked() {
	if f.done {
		return
	}
	f.done = true
	delete(f.store.feeds, f)
	close(f.ch)
}

// push keeps only the newest snapshot when the reader lags.
func (f *feed) push(snap backend.RawSnapshot) {
	if f.done {
		return
	}
	select {
	case f.ch <- snap:
	default:
		select {
		case <-f.ch:
		default:
		}
		f.ch <- snap
	}
}

package livesync

import "sync"

// View is a stable container consumers read from while the subscription
// behind it is swapped, e.g. when the active family changes.
type View[T any] struct {
	mu       sync.Mutex
	current  Snapshot[T]
	sub      *Subscription[T]
	gen      uint64
	watchers map[uint64]chan Snapshot[T]
	nextID   uint64
}

// NewView returns a view holding an empty snapshot.
func NewView[T any]() *View[T] {
	return &View[T]{
		current:  Snapshot[T]{Records: []T{}},
		watchers: make(map[uint64]chan Snapshot[T]),
	}
}

// Current returns the latest snapshot.
func (v *View[T]) Current() Snapshot[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Watch delivers the current snapshot and every later one. Call the returned
// function to stop watching.
func (v *View[T]) Watch() (<-chan Snapshot[T], func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextID
	v.nextID++
	ch := make(chan Snapshot[T], 1)
	ch <- v.current
	v.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			if c, ok := v.watchers[id]; ok {
				delete(v.watchers, id)
				close(c)
			}
		})
	}
}

// Bind replaces the backing subscription. The view resets to empty until the
// new subscription delivers. hook, if not nil, sees every applied snapshot.
func (v *View[T]) Bind(sub *Subscription[T], hook func(Snapshot[T])) {
	v.mu.Lock()
	prev := v.sub
	v.sub = sub
	v.gen++
	gen := v.gen
	v.setLocked(Snapshot[T]{Records: []T{}})
	v.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe()
	}
	go func() {
		for snap := range sub.C() {
			if v.apply(gen, snap) && hook != nil {
				hook(snap)
			}
		}
	}()
}

// Bound returns the current subscription or nil.
func (v *View[T]) Bound() *Subscription[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sub
}

// Unbind releases the backing subscription and resets the view to empty.
func (v *View[T]) Unbind() {
	v.mu.Lock()
	prev := v.sub
	v.sub = nil
	v.gen++
	v.setLocked(Snapshot[T]{Records: []T{}})
	v.mu.Unlock()

	if prev != nil {
		prev.Unsubscribe()
	}
}

func (v *View[T]) apply(gen uint64, snap Snapshot[T]) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.gen {
		return false
	}
	v.setLocked(snap)
	return true
}

func (v *View[T]) setLocked(snap Snapshot[T]) {
	v.current = snap
	for _, ch := range v.watchers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

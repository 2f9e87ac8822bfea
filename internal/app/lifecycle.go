package app

import (
	"context"
	"log"
	"sync"
)

const recordWatchBuffer = 32

// recordWatchers fans out the ids of records whose optimistic value changed
// in the background, such as after a rollback.
type recordWatchers struct {
	mu     sync.Mutex
	chans  map[int]chan string
	nextID int
	closed bool
}

func (w *recordWatchers) watch() (<-chan string, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan string, recordWatchBuffer)
	if w.closed {
		close(ch)
		return ch, func() {}
	}
	if w.chans == nil {
		w.chans = make(map[int]chan string)
	}
	id := w.nextID
	w.nextID++
	w.chans[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			if c, ok := w.chans[id]; ok {
				delete(w.chans, id)
				close(c)
			}
		})
	}
}

// publish never blocks; a watcher that falls behind misses ids and should
// re-read the views it shows.
func (w *recordWatchers) publish(recordID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.chans {
		select {
		case ch <- recordID:
		default:
			log.Printf("[App] record watcher full, dropped record=%s", recordID)
		}
	}
}

func (w *recordWatchers) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for id, ch := range w.chans {
		delete(w.chans, id)
		close(ch)
	}
}

// WatchRecords streams the ids of records whose optimistic value changed
// without a caller asking, such as a rolled-back toggle. Call
// the returned function to stop watching.
func (a *App) WatchRecords() (<-chan string, func()) {
	return a.records.watch()
}

// Logout ends the running capture, drops pending optimistic state and signs
// the session out.
func (a *App) Logout(ctx context.Context) error {
	a.clearLocalState()
	return a.deps.Session.Logout(ctx)
}

func (a *App) clearLocalState() {
	a.CloseCapture()
	a.deps.Engine.Reset()
}

// followIdentity clears local state whenever the signed-in user goes away,
// including revocations that bypass Logout.
func (a *App) followIdentity() {
	states, stop := a.deps.Session.Watch()
	a.stopWatch = stop
	go func() {
		last := ""
		for st := range states {
			if last != "" && st.UID != last {
				log.Printf("[App] identity changed from uid=%s, clearing local state", last)
				a.clearLocalState()
			}
			last = st.UID
		}
	}()
}

package session

import "sync"

// Status is the authentication state.
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticating  Status = "authenticating"
	StatusAuthenticated   Status = "authenticated"
)

// State is what the UI renders the shell from.
type State struct {
	Status         Status
	UID            string
	ActiveFamilyID string
	Theme          string
	Language       string
}

// echoGuard suppresses remote values that are echoes of local writes still
// in flight. Only the most recent local value is accepted while any write
// is pending.
type echoGuard struct {
	mu       sync.Mutex
	inflight int
	latest   string
}

func (g *echoGuard) begin(v string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight++
	g.latest = v
}

func (g *echoGuard) end() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inflight > 0 {
		g.inflight--
	}
}

func (g *echoGuard) accept(remote string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight == 0 || remote == g.latest
}

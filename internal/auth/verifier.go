package auth

import (
	"context"
	"io"
	"log"
	"sync"
)

// Verifier owns the process-wide sign-in challenge resource. The resource is
// opened on the first Acquire and closed when the last holder releases it.
type Verifier struct {
	open func(context.Context) (io.Closer, error)

	mu   sync.Mutex
	refs int
	res  io.Closer
}

// NewVerifier wraps open. A nil open makes the verifier a no-op.
func NewVerifier(open func(context.Context) (io.Closer, error)) *Verifier {
	return &Verifier{open: open}
}

func (v *Verifier) Acquire(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.refs == 0 && v.open != nil {
		res, err := v.open(ctx)
		if err != nil {
			return err
		}
		v.res = res
	}
	v.refs++
	return nil
}

func (v *Verifier) Release() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.refs == 0 {
		return
	}
	v.refs--
	if v.refs == 0 && v.res != nil {
		if err := v.res.Close(); err != nil {
			log.Printf("[Auth] verifier teardown: %v", err)
		}
		v.res = nil
	}
}

// Held reports whether the resource is currently open.
func (v *Verifier) Held() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.refs > 0
}

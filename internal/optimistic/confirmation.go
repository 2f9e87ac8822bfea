package optimistic

import "context"

// Confirmation resolves when the durable write behind an optimistic
// mutation has settled.
type Confirmation struct {
	done chan struct{}
	err  error
}

func newConfirmation() *Confirmation {
	return &Confirmation{done: make(chan struct{})}
}

func (c *Confirmation) resolve(err error) {
	c.err = err
	close(c.done)
}

// Done is closed once the write settles.
func (c *Confirmation) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the write settles and returns its error.
func (c *Confirmation) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

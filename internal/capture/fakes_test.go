package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"memorylane/internal/backend"
)

type wait struct {
	d  time.Duration
	ch chan time.Time
}

// fakeClock hands every timer to the test, which fires it explicitly.
type fakeClock struct {
	waits chan wait
}

func newFakeClock() *fakeClock {
	return &fakeClock{waits: make(chan wait, 16)}
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.waits <- wait{d: d, ch: ch}
	return ch
}

type fakeStream struct {
	facing Facing
	closed atomic.Bool
}

func (s *fakeStream) Facing() Facing { return s.facing }

func (s *fakeStream) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeDevices struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (d *fakeDevices) Acquire(_ context.Context, facing Facing) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	st := &fakeStream{facing: facing}
	d.streams = append(d.streams, st)
	return st, nil
}

func (d *fakeDevices) setErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDevices) open() []*fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*fakeStream
	for _, st := range d.streams {
		if !st.closed.Load() {
			out = append(out, st)
		}
	}
	return out
}

type fakeEncoder struct {
	chunks  [][]byte
	stopErr error
}

func (e *fakeEncoder) MimeType() string { return "video/webm;codecs=vp9" }

func (e *fakeEncoder) Start(Stream) (Take, error) {
	return &fakeTake{enc: e}, nil
}

type fakeTake struct {
	enc *fakeEncoder
}

func (t *fakeTake) Stop() ([][]byte, error) {
	if t.enc.stopErr != nil {
		return nil, t.enc.stopErr
	}
	return t.enc.chunks, nil
}

// fakeBlobs reports progress in tenths. failAt aborts the upload after
// reporting that fraction.
type fakeBlobs struct {
	mu       sync.Mutex
	failAt   float64
	uploads  map[string][]byte
	deleted  []string
	progress []float64
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{uploads: make(map[string][]byte)}
}

func (b *fakeBlobs) UploadBytes(_ context.Context, path string, r io.Reader, size int64, onProgress backend.ProgressFunc) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	failAt := b.failAt
	b.mu.Unlock()

	if failAt > 0 {
		if onProgress != nil {
			onProgress(int64(float64(size)*failAt), size)
		}
		return "", errors.New("network unreachable")
	}
	if onProgress != nil {
		for i := int64(1); i <= 10; i++ {
			onProgress(size*i/10, size)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.uploads[path] = bytes.Clone(data)
	return "https://blobs.test/" + path, nil
}

func (b *fakeBlobs) DeleteBytes(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, path)
	delete(b.uploads, path)
	return nil
}

func (b *fakeBlobs) setFailAt(f float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failAt = f
}

func (b *fakeBlobs) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uploads)
}

type fakeThumbnailer struct {
	frame []byte
	block bool
}

func (f *fakeThumbnailer) Extract(ctx context.Context, _ *Artifact) ([]byte, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.frame, nil
}

type fakeDrafts struct {
	published []string
	deleted   []string
	err       error
}

func (f *fakeDrafts) Publish(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeDrafts) Delete(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

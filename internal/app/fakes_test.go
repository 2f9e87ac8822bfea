package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"memorylane/internal/backend"
	"memorylane/internal/capture"
)

type fakeStream struct{ facing capture.Facing }

func (s *fakeStream) Facing() capture.Facing { return s.facing }
func (s *fakeStream) Close() error           { return nil }

type fakeDevices struct{}

func (fakeDevices) Acquire(_ context.Context, facing capture.Facing) (capture.Stream, error) {
	return &fakeStream{facing: facing}, nil
}

type fakeTake struct{}

func (fakeTake) Stop() ([][]byte, error) { return [][]byte{[]byte("frame-1"), []byte("frame-2")}, nil }

type fakeEncoder struct{}

func (fakeEncoder) MimeType() string                          { return "video/webm" }
func (fakeEncoder) Start(capture.Stream) (capture.Take, error) { return fakeTake{}, nil }

// immediate makes every capture timer fire at once.
func immediate(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleted   []string
	failWrite bool
	failDel   bool
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (b *fakeBlobs) UploadBytes(_ context.Context, path string, r io.Reader, size int64, onProgress backend.ProgressFunc) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrite {
		return "", errors.New("upload failed")
	}
	if onProgress != nil {
		onProgress(size, size)
	}
	b.objects[path] = data
	return "https://cdn.test/" + path, nil
}

func (b *fakeBlobs) DeleteBytes(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, path)
	if b.failDel {
		return errors.New("delete failed")
	}
	delete(b.objects, path)
	return nil
}

func (b *fakeBlobs) has(path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok
}

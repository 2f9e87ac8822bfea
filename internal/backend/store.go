package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"memorylane/internal/models"
)

// ErrNotFound is returned by ReadDocument when the document is absent.
var ErrNotFound = errors.New("document not found")

// RawSnapshot is the full, ordered set of records matching a subscription.
// A snapshot with Err set carries no records.
type RawSnapshot struct {
	Records []json.RawMessage
	Err     error
}

// Feed is one live server-side listener.
type Feed interface {
	// Snapshots is closed once the feed has been closed.
	Snapshots() <-chan RawSnapshot
	// Close releases the listener. Calling it twice is a no-op.
	Close() error
}

// Store is the document database collaborator.
type Store interface {
	ReadDocument(ctx context.Context, collection, id string) (json.RawMessage, error)
	// WriteDocument upserts id, applying patch after Clean.
	WriteDocument(ctx context.Context, collection, id string, patch Patch) error
	DeleteDocument(ctx context.Context, collection, id string) error
	Subscribe(ctx context.Context, kind models.Kind, filter string) (Feed, error)
}

// ProgressFunc receives bytes sent so far and the total size.
type ProgressFunc func(sent, total int64)

// BlobStore is the durable byte storage collaborator.
type BlobStore interface {
	UploadBytes(ctx context.Context, path string, r io.Reader, size int64, onProgress ProgressFunc) (string, error)
	DeleteBytes(ctx context.Context, path string) error
}

// Read loads a document into T. The boolean is false when it is absent.
func Read[T any](ctx context.Context, s Store, collection, id string) (T, bool, error) {
	var out T
	raw, err := s.ReadDocument(ctx, collection, id)
	if errors.Is(err, ErrNotFound) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

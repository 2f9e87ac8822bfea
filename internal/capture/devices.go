package capture

import (
	"context"

	"memorylane/internal/backend"
)

// Stream is a live camera and microphone stream.
type Stream interface {
	Facing() Facing
	Close() error
}

// Devices acquires media streams.
type Devices interface {
	Acquire(ctx context.Context, facing Facing) (Stream, error)
}

// Encoder records a stream.
type Encoder interface {
	MimeType() string
	Start(stream Stream) (Take, error)
}

// Take is one running recording.
type Take interface {
	// Stop ends the take and returns the encoded chunks in order.
	Stop() ([][]byte, error)
}

// Thumbnailer extracts a still frame from an artifact. It must honour ctx.
type Thumbnailer interface {
	Extract(ctx context.Context, artifact *Artifact) ([]byte, error)
}

// DraftActions publishes or deletes an existing draft.
type DraftActions interface {
	Publish(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Deps are the collaborators of a session. Thumbnails and Drafts may be nil.
type Deps struct {
	Devices    Devices
	Encoder    Encoder
	Thumbnails Thumbnailer
	Blobs      backend.BlobStore
	Store      backend.Store
	Drafts     DraftActions
}

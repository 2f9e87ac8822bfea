// Package drafts manages a user's unpublished memories.
package drafts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"memorylane/internal/backend"
	"memorylane/internal/livesync"
	"memorylane/internal/models"
)

var (
	ErrDraftNotFound = errors.New("draft not found")
	ErrNotAuthor     = errors.New("only the author can change a draft")
	ErrNotDraft      = errors.New("memory is already published")
	ErrNoUser        = errors.New("no signed-in user")
)

// Repository is the author's draft view plus the actions on it.
type Repository struct {
	store backend.Store
	blobs backend.BlobStore
	view  *livesync.View[models.Memory]
	now   func() time.Time

	mu  sync.RWMutex
	uid string
}

// NewRepository builds an unbound repository. blobs may be nil, in which
// case deletes leave artifacts in place.
func NewRepository(store backend.Store, blobs backend.BlobStore) *Repository {
	return &Repository{
		store: store,
		blobs: blobs,
		view:  livesync.NewView[models.Memory](),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Drafts is the live list of the author's drafts.
func (r *Repository) Drafts() *livesync.View[models.Memory] {
	return r.view
}

// Bind subscribes to uid's drafts. An empty uid leaves the view empty.
func (r *Repository) Bind(ctx context.Context, reg *livesync.Registry, uid string) {
	r.mu.Lock()
	r.uid = uid
	r.mu.Unlock()
	r.view.Bind(livesync.Subscribe[models.Memory](ctx, reg, models.KindDrafts, uid), nil)
}

// Unbind releases the drafts subscription.
func (r *Repository) Unbind() {
	r.mu.Lock()
	r.uid = ""
	r.mu.Unlock()
	r.view.Unbind()
}

// Publish flips a draft to published. The draft leaves the drafts view and
// enters the family feeds through the next snapshot of each.
func (r *Repository) Publish(ctx context.Context, id string) error {
	if _, err := r.own(ctx, id); err != nil {
		return err
	}
	patch := backend.SetFields(map[string]any{
		"status":      models.StatusPublished,
		"publishedAt": r.now(),
	})
	if err := r.store.WriteDocument(ctx, models.CollectionMemories, id, patch); err != nil {
		return fmt.Errorf("publish draft %s: %w", id, err)
	}
	log.Printf("[Drafts] published id=%s", id)
	return nil
}

// Delete removes the draft record, then its artifacts. Artifact failures are
// logged and leave an orphaned blob.
func (r *Repository) Delete(ctx context.Context, id string) error {
	draft, err := r.own(ctx, id)
	if err != nil {
		return err
	}
	if err := r.store.DeleteDocument(ctx, models.CollectionMemories, id); err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return ErrDraftNotFound
		}
		return fmt.Errorf("delete draft %s: %w", id, err)
	}
	if r.blobs == nil {
		return nil
	}
	for _, p := range []string{draft.VideoPath, draft.ThumbnailPath} {
		if p == "" {
			continue
		}
		if err := r.blobs.DeleteBytes(ctx, p); err != nil {
			log.Printf("[Drafts] orphaned artifact draft=%s path=%s: %v", id, p, err)
		}
	}
	return nil
}

func (r *Repository) own(ctx context.Context, id string) (models.Memory, error) {
	r.mu.RLock()
	uid := r.uid
	r.mu.RUnlock()
	if uid == "" {
		return models.Memory{}, ErrNoUser
	}
	m, found, err := backend.Read[models.Memory](ctx, r.store, models.CollectionMemories, id)
	if err != nil {
		return models.Memory{}, fmt.Errorf("read draft %s: %w", id, err)
	}
	if !found {
		return models.Memory{}, ErrDraftNotFound
	}
	if m.AuthorID != uid {
		return models.Memory{}, ErrNotAuthor
	}
	if !m.IsDraft() {
		return models.Memory{}, ErrNotDraft
	}
	return m, nil
}

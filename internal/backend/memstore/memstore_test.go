package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memorylane/internal/backend"
	"memorylane/internal/models"
)

func recv(t *testing.T, f backend.Feed) backend.RawSnapshot {
	t.Helper()
	select {
	case snap := <-f.Snapshots():
		return snap
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
	}
	return backend.RawSnapshot{}
}

func TestDocumentsAreNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Put(models.CollectionDocuments, "old", models.FamilyDocument{FamilyID: "f1", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}))
	require.NoError(t, s.Put(models.CollectionDocuments, "new", models.FamilyDocument{FamilyID: "f1", Timestamp: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}))

	f, err := s.Subscribe(ctx, models.KindDocuments, "f1")
	require.NoError(t, err)
	defer f.Close()

	snap := recv(t, f)
	require.Len(t, snap.Records, 2)
	assert.Contains(t, string(snap.Records[0]), `"id":"new"`)
}

func TestWriteHookFailsWrite(t *testing.T) {
	s := New()
	boom := errors.New("offline")
	s.WriteHook = func(context.Context, string, string, backend.Patch) error { return boom }

	err := s.WriteDocument(context.Background(), models.CollectionQuestions, "q1", backend.AddToSet("upvotes", "u1"))
	require.ErrorIs(t, err, boom)

	_, err = s.ReadDocument(context.Background(), models.CollectionQuestions, "q1")
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestFeedCloseIsIdempotent(t *testing.T) {
	s := New()
	f, err := s.Subscribe(context.Background(), models.KindQuestions, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.OpenFeeds())

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Zero(t, s.OpenFeeds())

	// a closed feed's channel drains then ends
	for range f.Snapshots() {
	}
}

func TestDeleteMissingDocument(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.DeleteDocument(context.Background(), models.CollectionMemories, "m1"), backend.ErrNotFound)
}

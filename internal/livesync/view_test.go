package livesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memorylane/internal/backend/memstore"
	"memorylane/internal/models"
)

func recordIDs(snap Snapshot[models.Question]) []string {
	ids := make([]string, 0, len(snap.Records))
	for _, q := range snap.Records {
		ids = append(ids, q.ID)
	}
	return ids
}

func TestViewRebindSwapsSubscription(t *testing.T) {
	store := memstore.New()
	seedQuestions(t, store)
	reg := NewRegistry(store, nil)
	ctx := context.Background()

	v := NewView[models.Question]()
	assert.Empty(t, v.Current().Records)

	first := Subscribe[models.Question](ctx, reg, models.KindQuestions, "f1")
	v.Bind(first, nil)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"q1"}, recordIDs(v.Current()))
	}, time.Second, time.Millisecond)

	hooked := make(chan Snapshot[models.Question], 4)
	second := Subscribe[models.Question](ctx, reg, models.KindQuestions, "f2")
	v.Bind(second, func(s Snapshot[models.Question]) { hooked <- s })

	_, open := <-first.C()
	assert.False(t, open, "previous subscription is released")

	select {
	case snap := <-hooked:
		assert.Equal(t, []string{"q2"}, recordIDs(snap))
	case <-time.After(time.Second):
		t.Fatal("hook not called")
	}
	assert.Equal(t, []string{"q2"}, recordIDs(v.Current()))
	assert.Same(t, second, v.Bound())

	v.Unbind()
	assert.Empty(t, v.Current().Records)
	assert.Nil(t, v.Bound())
	assert.Zero(t, store.OpenFeeds())
}

func TestViewWatchSeesCurrentAndLaterSnapshots(t *testing.T) {
	store := memstore.New()
	seedQuestions(t, store)
	reg := NewRegistry(store, nil)

	v := NewView[models.Question]()
	updates, stop := v.Watch()
	defer stop()

	first := <-updates
	assert.Empty(t, first.Records)

	v.Bind(Subscribe[models.Question](context.Background(), reg, models.KindQuestions, "f1"), nil)
	defer v.Unbind()

	require.Eventually(t, func() bool {
		select {
		case snap := <-updates:
			return len(snap.Records) == 1
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	stop()
	stop()
	_, open := <-updates
	assert.False(t, open)
}

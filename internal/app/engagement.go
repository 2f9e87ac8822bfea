package app

import (
	"context"
	"strings"

	"memorylane/internal/backend"
	"memorylane/internal/models"
	"memorylane/internal/optimistic"
)

func upvoteKey(id string) optimistic.Key {
	return optimistic.Key{Collection: models.CollectionQuestions, RecordID: id, Field: "upvotes"}
}

func likeKey(id string) optimistic.Key {
	return optimistic.Key{Collection: models.CollectionMemories, RecordID: id, Field: "likes"}
}

// ToggleUpvote flips the current user's upvote on a question of the active
// family. The returned set is the new local value; the confirmation settles
// when the durable write does.
func (a *App) ToggleUpvote(ctx context.Context, questionID string) ([]string, *optimistic.Confirmation, error) {
	uid, err := a.uid()
	if err != nil {
		return nil, nil, err
	}
	q, ok := find(a.deps.Session.QuestionsView().Current().Records, func(q models.Question) bool { return q.ID == questionID })
	if !ok {
		return nil, nil, ErrNotFound
	}
	applied, conf := a.deps.Engine.Toggle(ctx, upvoteKey(q.ID), uid, q.Upvotes, a.toggleWrite(models.CollectionQuestions, q.ID, "upvotes", uid))
	return applied, conf, nil
}

// ToggleLike flips the current user's like on a memory of the active family.
func (a *App) ToggleLike(ctx context.Context, memoryID string) ([]string, *optimistic.Confirmation, error) {
	uid, err := a.uid()
	if err != nil {
		return nil, nil, err
	}
	m, ok := find(a.deps.Session.MemoriesView().Current().Records, func(m models.Memory) bool { return m.ID == memoryID })
	if !ok {
		return nil, nil, ErrNotFound
	}
	applied, conf := a.deps.Engine.Toggle(ctx, likeKey(m.ID), uid, m.Likes, a.toggleWrite(models.CollectionMemories, m.ID, "likes", uid))
	return applied, conf, nil
}

func (a *App) toggleWrite(collection, id, field, uid string) optimistic.ToggleWrite {
	return func(ctx context.Context, add bool) error {
		patch := backend.RemoveFromSet(field, uid)
		if add {
			patch = backend.AddToSet(field, uid)
		}
		return a.deps.Backend.WriteDocument(ctx, collection, id, patch)
	}
}

// Upvotes is the question's upvote set as it should be rendered.
func (a *App) Upvotes(q models.Question) []string {
	return a.deps.Engine.Members(upvoteKey(q.ID), q.Upvotes)
}

// Likes is the memory's like set as it should be rendered.
func (a *App) Likes(m models.Memory) []string {
	return a.deps.Engine.Members(likeKey(m.ID), m.Likes)
}

// Comments is the memory's comment list with pending local comments first.
func (a *App) Comments(m models.Memory) []models.Comment {
	return a.deps.Engine.Comments(m.ID, m.Comments)
}

type commentInput struct {
	Text string `json:"text" validate:"required,max=1000"`
}

// AddComment shows a comment at once and appends it durably. The comment id
// is generated here and stored, so the confirmed copy replaces the local one.
func (a *App) AddComment(ctx context.Context, memoryID, text string) ([]models.Comment, *optimistic.Confirmation, error) {
	in := commentInput{Text: strings.TrimSpace(text)}
	if err := a.check(in); err != nil {
		return nil, nil, err
	}
	profile, ok := a.deps.Session.Profile()
	if !ok {
		return nil, nil, ErrNotFound
	}
	if _, err := a.uid(); err != nil {
		return nil, nil, err
	}
	m, ok := find(a.deps.Session.MemoriesView().Current().Records, func(m models.Memory) bool { return m.ID == memoryID })
	if !ok {
		return nil, nil, ErrNotFound
	}

	c := models.Comment{
		ID:        a.deps.NewID(),
		UserID:    profile.ID,
		UserName:  profile.DisplayName,
		Text:      in.Text,
		Timestamp: a.deps.Now().UTC(),
	}
	_, conf := a.deps.Engine.AddComment(ctx, m.ID, c, func(ctx context.Context, c models.Comment) error {
		return a.deps.Backend.WriteDocument(ctx, models.CollectionMemories, m.ID, backend.AppendTo("comments", c))
	})
	return a.Comments(m), conf, nil
}

package app

import (
	"context"

	"memorylane/internal/capture"
	"memorylane/internal/models"
)

// CaptureMode says what a new capture is for.
type CaptureMode string

const (
	ModeRecord CaptureMode = "record"
	ModeAnswer CaptureMode = "answer"
)

// StartCapture opens a new capture session, closing any previous one so that
// only one session holds the camera. In ModeAnswer the memory is bound to
// the question's family.
func (a *App) StartCapture(ctx context.Context, mode CaptureMode, question *models.Question) (*capture.Session, error) {
	switch mode {
	case ModeRecord:
		question = nil
	case ModeAnswer:
		if question == nil || question.ID == "" {
			return nil, invalid("question", "is required when answering")
		}
	default:
		return nil, invalid("mode", "must be one of record answer")
	}
	uid, err := a.uid()
	if err != nil {
		return nil, err
	}

	s := capture.New(a.captureDeps(), a.deps.CaptureConfig, capture.Target{
		AuthorID:       uid,
		ActiveFamilyID: a.deps.Session.State().ActiveFamilyID,
		Question:       question,
	})
	a.replaceCapture(s)
	if err := s.Open(ctx); err != nil {
		return s, err
	}
	return s, nil
}

// ResumeDraft opens a capture session in review on one of the user's drafts.
func (a *App) ResumeDraft(draftID string) (*capture.Session, error) {
	if _, err := a.uid(); err != nil {
		return nil, err
	}
	draft, ok := find(a.deps.Drafts.Drafts().Current().Records, func(m models.Memory) bool { return m.ID == draftID })
	if !ok {
		return nil, ErrNotFound
	}
	s := capture.Resume(a.captureDeps(), a.deps.CaptureConfig, draft)
	a.replaceCapture(s)
	return s, nil
}

// Capture returns the running capture session, if any.
func (a *App) Capture() (*capture.Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capture, a.capture != nil
}

// FinishCapture completes the running capture with opt. The session stays
// open after a failure so the artifact can be retried.
func (a *App) FinishCapture(ctx context.Context, opt capture.Option) (models.Memory, error) {
	s, ok := a.Capture()
	if !ok {
		return models.Memory{}, ErrNoCapture
	}
	mem, err := s.Finish(ctx, opt)
	if err != nil {
		return models.Memory{}, err
	}
	a.mu.Lock()
	if a.capture == s {
		a.capture = nil
	}
	a.mu.Unlock()
	s.Close()
	return mem, nil
}

// CloseCapture abandons the running capture and releases the camera.
func (a *App) CloseCapture() {
	a.replaceCapture(nil)
}

func (a *App) replaceCapture(s *capture.Session) {
	a.mu.Lock()
	prev := a.capture
	a.capture = s
	a.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

func (a *App) captureDeps() capture.Deps {
	d := capture.Deps{
		Devices:    a.deps.Devices,
		Encoder:    a.deps.Encoder,
		Thumbnails: a.deps.Thumbnails,
		Blobs:      a.deps.Blobs,
		Store:      a.deps.Backend,
	}
	if a.deps.Drafts != nil {
		d.Drafts = a.deps.Drafts
	}
	return d
}

// PublishDraft publishes one of the user's drafts.
func (a *App) PublishDraft(ctx context.Context, id string) error {
	return a.deps.Drafts.Publish(ctx, id)
}

// DeleteDraft deletes one of the user's drafts and, best-effort, its blobs.
func (a *App) DeleteDraft(ctx context.Context, id string) error {
	return a.deps.Drafts.Delete(ctx, id)
}

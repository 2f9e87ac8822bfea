package capture

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memorylane/internal/backend"
	"memorylane/internal/backend/memstore"
	"memorylane/internal/models"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	clock   *fakeClock
	devices *fakeDevices
	encoder *fakeEncoder
	blobs   *fakeBlobs
	store   *memstore.Store
	deps    Deps
	cfg     Config
}

func newHarness() *harness {
	h := &harness{
		clock:   newFakeClock(),
		devices: &fakeDevices{},
		encoder: &fakeEncoder{chunks: [][]byte{bytes.Repeat([]byte("a"), 60), bytes.Repeat([]byte("b"), 40)}},
		blobs:   newFakeBlobs(),
		store:   memstore.New(),
	}
	h.deps = Deps{Devices: h.devices, Encoder: h.encoder, Blobs: h.blobs, Store: h.store}
	ids := 0
	h.cfg = Config{
		After: h.clock.After,
		Now:   func() time.Time { return fixedNow },
		NewID: func() string {
			ids++
			return "m" + string(rune('0'+ids))
		},
	}
	return h
}

func waitPhase(t *testing.T, s *Session, p Phase) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State().Phase() == p
	}, time.Second, time.Millisecond, "want phase %s", p)
}

func (h *harness) nextWait(t *testing.T) wait {
	t.Helper()
	select {
	case w := <-h.clock.waits:
		return w
	case <-time.After(time.Second):
		t.Fatal("no timer started")
	}
	return wait{}
}

// record drives a fresh session from idle to review.
func (h *harness) record(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.StartRecording())
	assert.Equal(t, Countdown{Facing: FacingFront, Remaining: 3}, s.State())

	for i := 0; i < 3; i++ {
		w := h.nextWait(t)
		assert.Equal(t, time.Second, w.d)
		w.ch <- fixedNow
	}
	waitPhase(t, s, PhaseRecording)
	assert.Equal(t, DefaultMaxDuration, h.nextWait(t).d)

	require.NoError(t, s.StopRecording(ctx))
	require.Equal(t, PhaseReview, s.State().Phase())
}

func TestCaptureReachesCompleteThroughReview(t *testing.T) {
	h := newHarness()
	s := New(h.deps, h.cfg, Target{AuthorID: "u1", ActiveFamilyID: "f1"})
	defer s.Close()

	h.record(t, s)
	assert.Empty(t, h.devices.open(), "camera must be released after recording")
	require.NotNil(t, s.Artifact())
	assert.Len(t, s.Artifact().Data, 100)

	mem, err := s.Finish(context.Background(), OptionPublish)
	require.NoError(t, err)

	done, ok := s.State().(Complete)
	require.True(t, ok)
	assert.False(t, done.Share())
	assert.Equal(t, []string{"f1"}, mem.FamilyIDs)
	assert.Equal(t, models.StatusPublished, mem.Status)
	require.NotNil(t, mem.PublishedAt)
	assert.Equal(t, "memories/u1/m1/video.webm", mem.VideoPath)

	stored, found, err := backend.Read[models.Memory](context.Background(), h.store, models.CollectionMemories, mem.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, mem.VideoURL, stored.VideoURL)
	assert.Equal(t, models.StatusPublished, stored.Status)
	assert.Empty(t, stored.ThumbnailURL)
}

func TestTransitionsOutOfOrderAreRejected(t *testing.T) {
	h := newHarness()
	s := New(h.deps, h.cfg, Target{AuthorID: "u1", ActiveFamilyID: "f1"})
	defer s.Close()
	ctx := context.Background()

	require.ErrorIs(t, s.StartRecording(), ErrInvalidTransition)
	require.NoError(t, s.Open(ctx))

	_, err := s.Finish(ctx, OptionPublish)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, s.StopRecording(ctx), ErrInvalidTransition)
	assert.ErrorIs(t, s.Retake(ctx), ErrInvalidTransition)
	assert.Equal(t, PhasePrep, s.State().Phase())
}

func TestRetakeDropsArtifactAndReacquiresCamera(t *testing.T) {
	h := newHarness()
	s := New(h.deps, h.cfg, Target{AuthorID: "u1", ActiveFamilyID: "f1"})
	defer s.Close()

	h.record(t, s)
	require.NoError(t, s.Retake(context.Background()))

	assert.Equal(t, Prep{Facing: FacingFront}, s.State())
	assert.Nil(t, s.Artifact())
	assert.Len(t, h.devices.open(), 1)
	assert.Zero(t, h.blobs.count())
}

func TestQuestionFamilyOverridesActiveFamily(t *testing.T) {
	h := newHarness()
	q := &models.Question{ID: "q1", FamilyID: "f2"}
	s := New(h.deps, h.cfg, Target{AuthorID: "u1", ActiveFamilyID: "f1", Question: q})
	defer s.Close()

	h.record(t, s)
	mem, err := s.Finish(context.Background(), OptionPublishAndShare)
	require.NoError(t, err)

	assert.Equal(t, []string{"f2"}, mem.FamilyIDs)
	assert.Equal(t, "q1", mem.QuestionID)
	assert.True(t, s.State().(Complete).Share())
}

func TestUploadFailureReturnsToReviewWithArtifact(t *testing.T) {
	h := newHarness()
	s := New(h.deps, h.cfg, Target{AuthorID: "u1", ActiveFamilyID: "f1"})
	defer s.Close()

	h.record(t, s)
	artifact := s.Artifact()
	h.blobs.setFailAt(0.47)

	_, err := s.Finish(context.Background(), OptionPublish)
	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.InDelta(t, 47, uerr.Progress, 0.001)

	review, ok := s.State().(Review)
	require.True(t, ok)
	assert.Same(t, artifact, review.Artifact)
	assert.ErrorIs(t, review.Err, uerr.Err)

	h.blobs.setFailAt(0)
	mem, err := s.Finish(context.Background(), OptionPublish)
	require.NoError(t, err)
	assert.Equal(t, PhaseComplete, s.State().Phase())
	assert.NotEmpty(t, mem.VideoURL)
}

func TestSaveDraftLeavesPublishedAtUnset(t *testing.T) {
	h := newHarness()
	s := New(h.deps, h.cfg, Target{AuthorID: "u1", ActiveFamilyID: "f1"})
	defer s.Close()

	h.record(t, s)
	mem, err := s.Finish(context.Background(), OptionSaveDraft)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, mem.Status)
	assert.Nil(t, mem.PublishedAt)

	raw, err := h.store.ReadDocument(context.Background(), models.CollectionMemories, mem.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "publishedAt")
}

func TestFinishWithoutFamilyIsRejected(t *testing.T) {
	h := newHarness()
	s := New(h.deps, h.cfg, Target{AuthorID: "u1"})
	defer s.Close()

	h.record(t, s)
	_, err := s.Finish(context.Background(), OptionPublish)
	require.ErrorIs(t, err, ErrNoFamily)
	assert.Equal(t, PhaseReview, s.State().Phase())
	assert.Zero(t, h.blobs.count())
}

func TestThumbnailIsUploadedAlongsideVideo(t *testing.T) {
	h := newHarness()
	h.deps.Thumbnails = &fakeThumbnailer{frame: []byte("jpeg")}
	s := New(h.deps, h.cfg, Target{AuthorID: "u1", ActiveFamilyID: "f1"})
	defer s.Close()

	h.record(t, s)
	mem, err := s.Finish(context.Background(), OptionPublish)
	require.NoError(t, err)
	assert.Equal(t, "memories/u1/m1/thumbnail.jpg", mem.ThumbnailPath)
	assert.NotEmpty(t, mem.ThumbnailURL)
	assert.Equal(t, 2, h.blobs.count())
}

func TestThumbnailTimeoutDoesNotBlockUpload(t *testing.T) {
	h := newHarness()
	h.deps.Thumbnails = &fakeThumbnailer{block: true}
	h.cfg.ThumbnailTimeout = 10 * time.Millisecond
	s := New(h.deps, h.cfg, Target{AuthorID: "u1", ActiveFamilyID: "f1"})
	defer s.Close()

	h.record(t, s)
	mem, err := s.Finish(context.Background(), OptionPublish)
	require.NoError(t, err)
	assert.Empty(t, mem.ThumbnailURL)
	assert.NotEmpty(t, mem.VideoURL)
}

func TestRecordingStopsAtCap(t *testing.T) {
	h := newHarness()
	s := New(h.deps, h.cfg, Target{AuthorID: "u1", ActiveFamilyID: "f1"})
	defer s.Close()

	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.StartRecording())
	for i := 0; i < 3; i++ {
		h.nextWait(t).ch <- fixedNow
	}
	waitPhase(t, s, PhaseRecording)

	capTimer := h.nextWait(t)
	capTimer.ch <- fixedNow
	waitPhase(t, s, PhaseReview)
	assert.NotNil(t, s.Artifact())
}

func TestDeviceErrorsReturnToPrep(t *testing.T) {
	h := newHarness()
	h.devices.setErr(errors.New("permission denied"))
	s := New(h.deps, h.cfg, Target{AuthorID: "u1", ActiveFamilyID: "f1"})
	defer s.Close()
	ctx := context.Background()

	var derr *DeviceError
	require.ErrorAs(t, s.Open(ctx), &derr)
	prep, ok := s.State().(Prep)
	require.True(t, ok)
	assert.ErrorAs(t, prep.Err, &derr)
	assert.ErrorIs(t, s.StartRecording(), ErrInvalidTransition)

	h.devices.setErr(nil)
	require.NoError(t, s.SwitchFacing(ctx))
	require.NoError(t, s.StartRecording())
	for i := 0; i < 3; i++ {
		h.nextWait(t).ch <- fixedNow
	}
	waitPhase(t, s, PhaseRecording)

	h.encoder.stopErr = errors.New("encoder unsupported")
	require.ErrorAs(t, s.StopRecording(ctx), &derr)
	assert.Equal(t, "encode", derr.Op)

	prep, ok = s.State().(Prep)
	require.True(t, ok)
	assert.Equal(t, FacingBack, prep.Facing)
	assert.Len(t, h.devices.open(), 1)
}

func TestSwitchFacingTearsDownStream(t *testing.T) {
	h := newHarness()
	s := New(h.deps, h.cfg, Target{AuthorID: "u1", ActiveFamilyID: "f1"})
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Open(ctx))
	require.NoError(t, s.SwitchFacing(ctx))

	open := h.devices.open()
	require.Len(t, open, 1)
	assert.Equal(t, FacingBack, open[0].Facing())
	assert.True(t, h.devices.streams[0].closed.Load())
}

func TestCloseReleasesCameraFromAnyState(t *testing.T) {
	h := newHarness()
	s := New(h.deps, h.cfg, Target{AuthorID: "u1", ActiveFamilyID: "f1"})

	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.StartRecording())
	for i := 0; i < 3; i++ {
		h.nextWait(t).ch <- fixedNow
	}
	waitPhase(t, s, PhaseRecording)

	updates, _ := s.Watch()
	s.Close()
	s.Close()

	assert.Empty(t, h.devices.open())
	assert.Equal(t, PhaseClosed, s.State().Phase())
	assert.ErrorIs(t, s.StopRecording(context.Background()), ErrInvalidTransition)

	var last State
	for st := range updates {
		last = st
	}
	assert.Equal(t, Closed{}, last)
}

func TestResumedDraftPublishesWithoutUpload(t *testing.T) {
	h := newHarness()
	drafts := &fakeDrafts{}
	h.deps.Drafts = drafts
	draft := models.Memory{ID: "d1", AuthorID: "u1", FamilyIDs: []string{"f3"}, Status: models.StatusDraft, VideoURL: "https://blobs.test/v"}

	s := Resume(h.deps, h.cfg, draft)
	defer s.Close()
	require.Equal(t, PhaseReview, s.State().Phase())

	mem, err := s.Finish(context.Background(), OptionPublish)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, drafts.published)
	assert.Equal(t, models.StatusPublished, mem.Status)
	assert.Equal(t, []string{"f3"}, mem.FamilyIDs)
	assert.Zero(t, h.blobs.count())
}

func TestDiscardDeletesResumedDraft(t *testing.T) {
	h := newHarness()
	drafts := &fakeDrafts{}
	h.deps.Drafts = drafts
	s := Resume(h.deps, h.cfg, models.Memory{ID: "d1", AuthorID: "u1", Status: models.StatusDraft})
	defer s.Close()

	require.NoError(t, s.Discard(context.Background()))
	assert.Equal(t, []string{"d1"}, drafts.deleted)
	assert.Equal(t, PhasePrep, s.State().Phase())
	assert.Nil(t, s.Artifact())
}

func TestProgressIsMonotonic(t *testing.T) {
	h := newHarness()
	s := New(h.deps, h.cfg, Target{AuthorID: "u1"})
	s.state = Uploading{Option: OptionPublish}
	s.epoch = 7

	s.progress(7, 50, 100)
	s.progress(7, 30, 100)
	assert.InDelta(t, 50, s.State().(Uploading).Progress, 0.001)

	s.progress(6, 90, 100)
	assert.InDelta(t, 50, s.State().(Uploading).Progress, 0.001)

	s.progress(7, 250, 100)
	assert.InDelta(t, 100, s.State().(Uploading).Progress, 0.001)
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"video/mp4":             ".mp4",
		"video/webm;codecs=vp9": ".webm",
		"":                      ".bin",
	}
	for in, want := range cases {
		assert.Equal(t, want, extension(in), in)
	}
}

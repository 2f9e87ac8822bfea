package capture

import (
	"bytes"
	"context"
	"errors"
	"log"
	"path"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"memorylane/internal/backend"
	"memorylane/internal/models"
	"memorylane/internal/observability"
)

var tracer = otel.Tracer("memorylane/capture")

var errEmptyRecording = errors.New("empty recording")

// Target describes who is capturing and where the result goes.
type Target struct {
	AuthorID       string
	ActiveFamilyID string
	Question       *models.Question
}

// Session drives one capture from camera to stored memory.
//
// Every transition checks the current state by type. Phase changes bump
// epoch so that timers and uploads started in an earlier phase cannot
// act on a later one.
type Session struct {
	deps   Deps
	cfg    Config
	target Target

	mu       sync.Mutex
	state    State
	epoch    uint64
	facing   Facing
	stream   Stream
	take     Take
	done     chan struct{}
	watchers map[uint64]chan State
	nextID   uint64
}

// New returns an idle session. Call Open to acquire the camera.
func New(deps Deps, cfg Config, target Target) *Session {
	return &Session{
		deps:     deps,
		cfg:      cfg.withDefaults(),
		target:   target,
		state:    Idle{},
		facing:   FacingFront,
		done:     make(chan struct{}),
		watchers: make(map[uint64]chan State),
	}
}

// Resume returns a session in review holding an already uploaded draft.
func Resume(deps Deps, cfg Config, draft models.Memory) *Session {
	s := New(deps, cfg, Target{AuthorID: draft.AuthorID})
	s.state = Review{Artifact: &Artifact{Draft: &draft}}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Target returns the capture target.
func (s *Session) Target() Target {
	return s.target
}

// Artifact returns the artifact under review or upload, if any.
func (s *Session) Artifact() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch st := s.state.(type) {
	case Review:
		return st.Artifact
	case Uploading:
		return st.Artifact
	}
	return nil
}

// Watch streams state changes, starting with the current state. Only the
// latest state is buffered.
func (s *Session) Watch() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, 1)
	ch <- s.state
	if _, closed := s.state.(Closed); closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.watchers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if w, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(w)
		}
	}
}

// Open acquires the front camera and enters prep.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if _, ok := s.state.(Idle); !ok {
		defer s.mu.Unlock()
		return invalid(s.state.Phase(), "open")
	}
	facing := s.facing
	s.mu.Unlock()
	return s.enterPrep(ctx, facing, nil)
}

// SwitchFacing tears down the stream and reacquires the other camera.
func (s *Session) SwitchFacing(ctx context.Context) error {
	s.mu.Lock()
	st, ok := s.state.(Prep)
	if !ok {
		defer s.mu.Unlock()
		return invalid(s.state.Phase(), "switch facing")
	}
	s.releaseLocked()
	s.mu.Unlock()
	return s.enterPrep(ctx, st.Facing.Other(), nil)
}

// StartRecording begins the countdown. Recording starts automatically when
// it reaches zero.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state.(Prep)
	if !ok || s.stream == nil {
		return invalid(s.state.Phase(), "start recording")
	}
	s.transitionLocked(Countdown{Facing: st.Facing, Remaining: s.cfg.CountdownSteps})
	go s.runCountdown(s.epoch, st.Facing)
	return nil
}

// StopRecording ends the take and finalizes it into an artifact.
func (s *Session) StopRecording(ctx context.Context) error {
	s.mu.Lock()
	if _, ok := s.state.(Recording); !ok {
		defer s.mu.Unlock()
		return invalid(s.state.Phase(), "stop recording")
	}
	epoch := s.epoch
	s.mu.Unlock()
	return s.process(ctx, epoch)
}

// Retake drops the artifact and returns to prep.
func (s *Session) Retake(ctx context.Context) error {
	s.mu.Lock()
	if _, ok := s.state.(Review); !ok {
		defer s.mu.Unlock()
		return invalid(s.state.Phase(), "retake")
	}
	facing := s.facing
	s.mu.Unlock()
	return s.enterPrep(ctx, facing, nil)
}

// Discard drops the artifact, deleting it first if it is a stored draft,
// and returns to prep.
func (s *Session) Discard(ctx context.Context) error {
	s.mu.Lock()
	st, ok := s.state.(Review)
	if !ok {
		defer s.mu.Unlock()
		return invalid(s.state.Phase(), "discard")
	}
	facing := s.facing
	s.mu.Unlock()

	if draft := st.Artifact.Draft; draft != nil && s.deps.Drafts != nil {
		if err := s.deps.Drafts.Delete(ctx, draft.ID); err != nil {
			s.mu.Lock()
			if cur, ok := s.state.(Review); ok && cur.Artifact == st.Artifact {
				s.updateLocked(Review{Artifact: st.Artifact, Err: err})
			}
			s.mu.Unlock()
			return err
		}
	}
	return s.enterPrep(ctx, facing, nil)
}

// Finish uploads the artifact and creates the memory record. On failure the
// session returns to review with the artifact intact.
func (s *Session) Finish(ctx context.Context, opt Option) (models.Memory, error) {
	if !opt.Valid() {
		return models.Memory{}, ErrUnknownOption
	}

	s.mu.Lock()
	st, ok := s.state.(Review)
	if !ok {
		defer s.mu.Unlock()
		return models.Memory{}, invalid(s.state.Phase(), "finish")
	}
	families, err := s.familyBinding(st.Artifact)
	if err != nil {
		s.mu.Unlock()
		return models.Memory{}, err
	}
	s.transitionLocked(Uploading{Artifact: st.Artifact, Option: opt})
	epoch := s.epoch
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "capture.finish")
	span.SetAttributes(attribute.String("capture.option", string(opt)))
	defer span.End()

	mem, err := s.upload(ctx, epoch, st.Artifact, opt, families)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.state.(Uploading)
	if !ok || s.epoch != epoch {
		if err != nil {
			return models.Memory{}, err
		}
		return mem, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.IncUploadFailure()
		uerr := &UploadError{Progress: cur.Progress, Err: err}
		log.Printf("[Capture] finish failed option=%s: %v", opt, uerr)
		s.transitionLocked(Review{Artifact: st.Artifact, Err: uerr})
		return models.Memory{}, uerr
	}
	if cur.Progress < 100 {
		cur.Progress = 100
		s.updateLocked(cur)
	}
	s.transitionLocked(Complete{Memory: mem, Option: opt})
	return mem, nil
}

// Close releases the camera and stops any running timer. It is safe to
// call from any state and more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.(Closed); ok {
		return
	}
	close(s.done)
	if s.take != nil {
		if _, err := s.take.Stop(); err != nil {
			log.Printf("[Capture] stop on close: %v", err)
		}
		s.take = nil
	}
	s.releaseLocked()
	s.transitionLocked(Closed{})
	for id, w := range s.watchers {
		delete(s.watchers, id)
		close(w)
	}
}

func (s *Session) enterPrep(ctx context.Context, facing Facing, cause error) error {
	s.mu.Lock()
	if _, ok := s.state.(Closed); ok {
		defer s.mu.Unlock()
		return invalid(PhaseClosed, "prep")
	}
	s.releaseLocked()
	s.facing = facing
	s.transitionLocked(Prep{Facing: facing, Err: cause})
	epoch := s.epoch
	s.mu.Unlock()

	stream, err := s.deps.Devices.Acquire(ctx, facing)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		if stream != nil {
			stream.Close()
		}
		return invalid(s.state.Phase(), "prep")
	}
	if err != nil {
		derr := &DeviceError{Op: "acquire", Err: err}
		log.Printf("[Capture] camera unavailable facing=%s: %v", facing, err)
		s.updateLocked(Prep{Facing: facing, Err: derr})
		return derr
	}
	s.stream = stream
	s.updateLocked(Prep{Facing: facing, Err: cause})
	return nil
}

func (s *Session) runCountdown(epoch uint64, facing Facing) {
	for remaining := s.cfg.CountdownSteps; remaining > 0; remaining-- {
		select {
		case <-s.done:
			return
		case <-s.cfg.After(s.cfg.CountdownStep):
		}

		s.mu.Lock()
		if s.epoch != epoch {
			s.mu.Unlock()
			return
		}
		if remaining > 1 {
			s.updateLocked(Countdown{Facing: facing, Remaining: remaining - 1})
			s.mu.Unlock()
			continue
		}
		take, err := s.deps.Encoder.Start(s.stream)
		if err != nil {
			log.Printf("[Capture] encoder start failed: %v", err)
			s.transitionLocked(Prep{Facing: facing, Err: &DeviceError{Op: "encode", Err: err}})
			s.mu.Unlock()
			return
		}
		s.take = take
		s.transitionLocked(Recording{Facing: facing, StartedAt: s.cfg.Now()})
		epoch = s.epoch
		s.mu.Unlock()

		go s.runCap(epoch)
	}
}

func (s *Session) runCap(epoch uint64) {
	select {
	case <-s.done:
		return
	case <-s.cfg.After(s.cfg.MaxDuration):
	}
	if err := s.process(context.Background(), epoch); err != nil && !errors.Is(err, ErrInvalidTransition) {
		log.Printf("[Capture] auto stop: %v", err)
	}
}

func (s *Session) process(ctx context.Context, epoch uint64) error {
	s.mu.Lock()
	st, ok := s.state.(Recording)
	if !ok || s.epoch != epoch {
		defer s.mu.Unlock()
		return invalid(s.state.Phase(), "stop recording")
	}
	take := s.take
	s.take = nil
	s.releaseLocked()
	s.transitionLocked(Processing{})
	epoch = s.epoch
	s.mu.Unlock()

	chunks, err := take.Stop()
	var artifact *Artifact
	if err == nil {
		artifact, err = s.finalize(chunks, s.cfg.Now().Sub(st.StartedAt))
	}
	if err != nil {
		log.Printf("[Capture] processing failed: %v", err)
		derr := &DeviceError{Op: "encode", Err: err}
		s.mu.Lock()
		current := s.epoch == epoch
		s.mu.Unlock()
		if current {
			if perr := s.enterPrep(ctx, st.Facing, derr); perr != nil {
				log.Printf("[Capture] reacquire after failure: %v", perr)
			}
		}
		return derr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch {
		return invalid(s.state.Phase(), "review")
	}
	s.transitionLocked(Review{Artifact: artifact})
	return nil
}

func (s *Session) finalize(chunks [][]byte, d time.Duration) (*Artifact, error) {
	data := bytes.Join(chunks, nil)
	if len(data) == 0 {
		return nil, errEmptyRecording
	}
	if d > s.cfg.MaxDuration {
		d = s.cfg.MaxDuration
	}
	return &Artifact{Data: data, MimeType: s.deps.Encoder.MimeType(), Duration: d}, nil
}

// familyBinding resolves the families a finished memory is shared to. A
// question's family always wins over the active family.
func (s *Session) familyBinding(a *Artifact) ([]string, error) {
	if q := s.target.Question; q != nil {
		if q.FamilyID == "" {
			return nil, ErrNoFamily
		}
		return []string{q.FamilyID}, nil
	}
	if a.Draft != nil && len(a.Draft.FamilyIDs) > 0 {
		return a.Draft.FamilyIDs, nil
	}
	if s.target.ActiveFamilyID == "" {
		return nil, ErrNoFamily
	}
	return []string{s.target.ActiveFamilyID}, nil
}

func (s *Session) upload(ctx context.Context, epoch uint64, a *Artifact, opt Option, families []string) (models.Memory, error) {
	now := s.cfg.Now()
	if a.Draft != nil {
		return s.finishDraft(ctx, *a.Draft, opt, now)
	}

	mem := models.Memory{
		ID:        s.cfg.NewID(),
		AuthorID:  s.target.AuthorID,
		FamilyIDs: families,
		Status:    opt.Status(),
		Likes:     []string{},
		Comments:  []models.Comment{},
		CreatedAt: now,
	}
	if s.target.Question != nil {
		mem.QuestionID = s.target.Question.ID
	}
	if mem.Status == models.StatusPublished {
		mem.PublishedAt = &now
	}
	base := path.Join("memories", mem.AuthorID, mem.ID)

	mem.ThumbnailURL, mem.ThumbnailPath = s.thumbnail(ctx, a, base)

	mem.VideoPath = base + "/video" + extension(a.MimeType)
	size := int64(len(a.Data))
	url, err := s.deps.Blobs.UploadBytes(ctx, mem.VideoPath, bytes.NewReader(a.Data), size, func(sent, total int64) {
		s.progress(epoch, sent, total)
	})
	if err != nil {
		s.deleteBlob(ctx, mem.ThumbnailPath)
		return models.Memory{}, err
	}
	mem.VideoURL = url

	if err := s.deps.Store.WriteDocument(ctx, models.CollectionMemories, mem.ID, memoryPatch(mem)); err != nil {
		s.deleteBlob(ctx, mem.VideoPath)
		s.deleteBlob(ctx, mem.ThumbnailPath)
		return models.Memory{}, err
	}
	log.Printf("[Capture] memory stored id=%s status=%s families=%v", mem.ID, mem.Status, mem.FamilyIDs)
	return mem, nil
}

func (s *Session) finishDraft(ctx context.Context, draft models.Memory, opt Option, now time.Time) (models.Memory, error) {
	if opt == OptionSaveDraft {
		return draft, nil
	}
	var err error
	if s.deps.Drafts != nil {
		err = s.deps.Drafts.Publish(ctx, draft.ID)
	} else {
		err = s.deps.Store.WriteDocument(ctx, models.CollectionMemories, draft.ID, backend.SetFields(map[string]any{
			"status":      models.StatusPublished,
			"publishedAt": now,
		}))
	}
	if err != nil {
		return models.Memory{}, err
	}
	draft.Status = models.StatusPublished
	draft.PublishedAt = &now
	return draft, nil
}

// thumbnail extracts and uploads a still frame. Any failure, including the
// timeout, yields empty results.
func (s *Session) thumbnail(ctx context.Context, a *Artifact, base string) (string, string) {
	if s.deps.Thumbnails == nil {
		return "", ""
	}
	tctx, cancel := context.WithTimeout(ctx, s.cfg.ThumbnailTimeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	out := make(chan result, 1)
	go func() {
		data, err := s.deps.Thumbnails.Extract(tctx, a)
		out <- result{data, err}
	}()

	var frame []byte
	select {
	case r := <-out:
		if r.err != nil {
			log.Printf("[Capture] thumbnail skipped: %v", r.err)
			return "", ""
		}
		frame = r.data
	case <-tctx.Done():
		log.Printf("[Capture] thumbnail skipped: %v", tctx.Err())
		return "", ""
	}
	if len(frame) == 0 {
		return "", ""
	}

	p := base + "/thumbnail.jpg"
	url, err := s.deps.Blobs.UploadBytes(ctx, p, bytes.NewReader(frame), int64(len(frame)), nil)
	if err != nil {
		log.Printf("[Capture] thumbnail upload skipped: %v", err)
		return "", ""
	}
	return url, p
}

func (s *Session) progress(epoch uint64, sent, total int64) {
	if total <= 0 {
		return
	}
	pct := float64(sent) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state.(Uploading)
	if !ok || s.epoch != epoch || pct <= st.Progress {
		return
	}
	st.Progress = pct
	s.updateLocked(st)
}

func (s *Session) deleteBlob(ctx context.Context, p string) {
	if p == "" {
		return
	}
	if err := s.deps.Blobs.DeleteBytes(ctx, p); err != nil {
		log.Printf("[Capture] orphaned blob path=%s: %v", p, err)
	}
}

func (s *Session) releaseLocked() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		log.Printf("[Capture] release stream: %v", err)
	}
	s.stream = nil
}

// transitionLocked enters a new phase.
func (s *Session) transitionLocked(st State) {
	s.epoch++
	s.updateLocked(st)
}

// updateLocked replaces the state within the current phase.
func (s *Session) updateLocked(st State) {
	s.state = st
	for _, w := range s.watchers {
		select {
		case <-w:
		default:
		}
		w <- st
	}
}

func memoryPatch(m models.Memory) backend.Patch {
	return backend.SetFields(map[string]any{
		"id":            m.ID,
		"authorId":      m.AuthorID,
		"familyIds":     m.FamilyIDs,
		"videoUrl":      m.VideoURL,
		"videoPath":     m.VideoPath,
		"thumbnailUrl":  optional(m.ThumbnailURL),
		"thumbnailPath": optional(m.ThumbnailPath),
		"status":        m.Status,
		"questionId":    optional(m.QuestionID),
		"likes":         m.Likes,
		"comments":      m.Comments,
		"createdAt":     m.CreatedAt,
		"publishedAt":   m.PublishedAt,
	}).Clean()
}

func optional(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func extension(mime string) string {
	_, sub, ok := strings.Cut(mime, "/")
	if !ok {
		return ".bin"
	}
	sub, _, _ = strings.Cut(sub, ";")
	if sub = strings.TrimSpace(sub); sub == "" {
		return ".bin"
	}
	return "." + sub
}

// Package app exposes the imperative actions of the UI layer on top of the
// session, optimistic engine, capture and draft components.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"memorylane/internal/backend"
	"memorylane/internal/capture"
	"memorylane/internal/drafts"
	"memorylane/internal/models"
	"memorylane/internal/optimistic"
	"memorylane/internal/session"
)

var (
	ErrNotAdmin       = errors.New("only a family admin may do that")
	ErrNotFound       = errors.New("record not loaded")
	ErrNotUploader    = errors.New("only the uploader may delete a document")
	ErrNoCapture      = errors.New("no capture in progress")
	ErrCreatorIsAdmin = errors.New("the family creator must stay an admin")
)

// Deps are the collaborators of App. Engine and Capture.Thumbnails may be nil.
// An Engine built by App reports rollbacks through WatchRecords.
type Deps struct {
	Session *session.Store
	Backend backend.Store
	Blobs   backend.BlobStore
	Drafts  *drafts.Repository
	Engine  *optimistic.Engine

	Devices       capture.Devices
	Encoder       capture.Encoder
	Thumbnails    capture.Thumbnailer
	CaptureConfig capture.Config

	Now   func() time.Time
	NewID func() string
}

// App is the action surface of one signed-in device.
type App struct {
	deps     Deps
	validate *validator.Validate

	mu      sync.Mutex
	capture *capture.Session

	records   recordWatchers
	stopWatch func()
}

func New(deps Deps) *App {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	a := &App{deps: deps, validate: newValidator()}
	if a.deps.Engine == nil {
		a.deps.Engine = optimistic.NewEngine(a.records.publish)
	}
	if deps.Session != nil {
		a.followIdentity()
	}
	return a
}

// Close ends any running capture and stops following the session.
func (a *App) Close() {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	a.CloseCapture()
	a.records.close()
}

// SwitchActiveFamily makes id the active family.
func (a *App) SwitchActiveFamily(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return invalid("familyId", "is required")
	}
	return a.deps.Session.SwitchActiveFamily(ctx, id)
}

type familyInput struct {
	Name     string `json:"familyName" validate:"required,max=80"`
	Language string `json:"defaultLanguage" validate:"required,min=2,max=35"`
}

// CreateFamily creates a family led by the current user and makes it their
// default family.
func (a *App) CreateFamily(ctx context.Context, name, lang string) (models.Family, error) {
	in := familyInput{Name: strings.TrimSpace(name), Language: strings.TrimSpace(lang)}
	if err := a.check(in); err != nil {
		return models.Family{}, err
	}
	uid, err := a.uid()
	if err != nil {
		return models.Family{}, err
	}

	family := models.NewFamily(a.deps.NewID(), in.Name, in.Language, uid)
	if err := family.Validate(); err != nil {
		return models.Family{}, err
	}
	fields, err := toFields(family)
	if err != nil {
		return models.Family{}, err
	}
	if err := a.deps.Backend.WriteDocument(ctx, models.CollectionFamilies, family.ID, backend.SetFields(fields)); err != nil {
		return models.Family{}, err
	}

	profile := backend.AddToSet("familyIds", family.ID)
	profile.Set = map[string]any{"defaultFamilyId": family.ID}
	if err := a.deps.Backend.WriteDocument(ctx, models.CollectionUsers, uid, profile); err != nil {
		return models.Family{}, err
	}
	log.Printf("[App] family created id=%s by=%s", family.ID, uid)
	return family, nil
}

// AddMember adds memberID to the family. Only admins may add members.
func (a *App) AddMember(ctx context.Context, familyID, memberID string) error {
	if _, err := a.adminOf(familyID, memberID); err != nil {
		return err
	}
	return a.deps.Backend.WriteDocument(ctx, models.CollectionFamilies, familyID, backend.AddToSet("members", memberID))
}

// AddAdmin promotes memberID, adding them as a member first if needed so
// that admins stay a subset of members.
func (a *App) AddAdmin(ctx context.Context, familyID, memberID string) error {
	if _, err := a.adminOf(familyID, memberID); err != nil {
		return err
	}
	patch := backend.Patch{Union: map[string][]string{
		"members": {memberID},
		"admins":  {memberID},
	}}
	return a.deps.Backend.WriteDocument(ctx, models.CollectionFamilies, familyID, patch)
}

// RemoveAdmin demotes memberID. The creator cannot be demoted.
func (a *App) RemoveAdmin(ctx context.Context, familyID, memberID string) error {
	family, err := a.adminOf(familyID, memberID)
	if err != nil {
		return err
	}
	if memberID == family.CreatedBy {
		return ErrCreatorIsAdmin
	}
	return a.deps.Backend.WriteDocument(ctx, models.CollectionFamilies, familyID, backend.RemoveFromSet("admins", memberID))
}

func (a *App) adminOf(familyID, memberID string) (models.Family, error) {
	if strings.TrimSpace(memberID) == "" {
		return models.Family{}, invalid("memberId", "is required")
	}
	uid, err := a.uid()
	if err != nil {
		return models.Family{}, err
	}
	family, ok := a.deps.Session.Family(familyID)
	if !ok {
		return models.Family{}, session.ErrUnknownFamily
	}
	if !family.IsAdmin(uid) {
		return models.Family{}, ErrNotAdmin
	}
	return family, nil
}

// QuestionInput is a new prompt for the active family.
type QuestionInput struct {
	Text       string `json:"text" validate:"required,max=500"`
	Translated string `json:"translated" validate:"max=500"`
	Type       string `json:"type" validate:"omitempty,oneof=text video"`
	VideoURL   string `json:"videoUrl" validate:"required_if=Type video,omitempty,url"`
}

// AddQuestion asks the active family a question.
func (a *App) AddQuestion(ctx context.Context, in QuestionInput) (models.Question, error) {
	in.Text = strings.TrimSpace(in.Text)
	in.Translated = strings.TrimSpace(in.Translated)
	if err := a.check(in); err != nil {
		return models.Question{}, err
	}
	familyID, err := a.activeFamily()
	if err != nil {
		return models.Question{}, err
	}
	profile, ok := a.deps.Session.Profile()
	if !ok {
		return models.Question{}, session.ErrNotSignedIn
	}

	q := models.Question{
		ID:          a.deps.NewID(),
		FamilyID:    familyID,
		AskedBy:     profile.ID,
		AskedByName: profile.DisplayName,
		Type:        models.QuestionText,
		Text:        models.BilingualText{English: in.Text, Translated: in.Translated},
		VideoURL:    in.VideoURL,
		Upvotes:     []string{},
		CreatedAt:   a.deps.Now().UTC(),
	}
	if in.Type != "" {
		q.Type = in.Type
	}
	if q.Text.Translated == "" {
		q.Text.Translated = q.Text.English
	}
	fields, err := toFields(q)
	if err != nil {
		return models.Question{}, err
	}
	if err := a.deps.Backend.WriteDocument(ctx, models.CollectionQuestions, q.ID, backend.SetFields(fields)); err != nil {
		return models.Question{}, err
	}
	return q, nil
}

func (a *App) uid() (string, error) {
	st := a.deps.Session.State()
	if st.Status != session.StatusAuthenticated || st.UID == "" {
		return "", session.ErrNotSignedIn
	}
	return st.UID, nil
}

func (a *App) activeFamily() (string, error) {
	if _, err := a.uid(); err != nil {
		return "", err
	}
	id := a.deps.Session.State().ActiveFamilyID
	if id == "" {
		return "", invalid("familyId", "no family selected")
	}
	return id, nil
}

// toFields converts a record into a Set patch body, dropping absent optionals.
func toFields(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	delete(fields, "id")
	return fields, nil
}

func find[T any](records []T, match func(T) bool) (T, bool) {
	i := slices.IndexFunc(records, match)
	if i < 0 {
		var zero T
		return zero, false
	}
	return records[i], true
}

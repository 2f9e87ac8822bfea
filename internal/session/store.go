// Package session tracks who is signed in and which family is active, and
// owns the live views derived from both.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"memorylane/internal/auth"
	"memorylane/internal/backend"
	"memorylane/internal/drafts"
	"memorylane/internal/livesync"
	"memorylane/internal/models"
	"memorylane/internal/prefs"
)

var (
	ErrAlreadySignedIn = errors.New("sign-in already in progress or complete")
	ErrNotSignedIn     = errors.New("not signed in")
	ErrUnknownFamily   = errors.New("not a member of that family")
	ErrInvalidTheme    = errors.New("unknown theme")
)

const writeTimeout = 15 * time.Second

// Authenticator resolves credentials and reports identity changes.
type Authenticator interface {
	Authenticate(ctx context.Context, cred auth.Credential) (auth.Identity, error)
	SignOut()
	OnAuthChange(fn func(*auth.Identity)) func()
}

// Prefs is the device-local key-value store.
type Prefs interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

type Deps struct {
	Auth     Authenticator
	Backend  backend.Store
	Registry *livesync.Registry
	Drafts   *drafts.Repository
	// Prefs may be nil.
	Prefs Prefs
}

// Store is the session state machine.
type Store struct {
	deps Deps

	mu          sync.Mutex
	status      Status
	uid         string
	profile     *models.User
	families    []models.Family
	active      string
	lastDefault string
	theme       string
	language    string
	ctx         context.Context
	cancel      context.CancelFunc
	watchers    map[int]chan State
	nextWatch   int
	bindGen     uint64

	// bindMu orders view rebinding; it is never taken while holding mu.
	bindMu sync.Mutex

	defaults  echoGuard
	themes    echoGuard
	languages echoGuard

	profileView   *livesync.View[models.User]
	familiesView  *livesync.View[models.Family]
	memoriesView  *livesync.View[models.Memory]
	questionsView *livesync.View[models.Question]
	documentsView *livesync.View[models.FamilyDocument]

	stopAuth func()
}

// New builds an unauthenticated session. Local theme and language are read
// from prefs.
func New(deps Deps) *Store {
	s := &Store{
		deps:          deps,
		status:        StatusUnauthenticated,
		theme:         models.ThemeLight,
		language:      models.DefaultLanguage,
		watchers:      make(map[int]chan State),
		profileView:   livesync.NewView[models.User](),
		familiesView:  livesync.NewView[models.Family](),
		memoriesView:  livesync.NewView[models.Memory](),
		questionsView: livesync.NewView[models.Question](),
		documentsView: livesync.NewView[models.FamilyDocument](),
	}
	if v, ok := s.readPref(prefs.KeyTheme); ok {
		s.theme = v
	}
	if v, ok := s.readPref(prefs.KeyLanguage); ok {
		s.language = v
	}
	if deps.Auth != nil {
		s.stopAuth = deps.Auth.OnAuthChange(s.onAuthChange)
	}
	return s
}

// Close stops listening for auth changes and releases every view.
func (s *Store) Close() {
	if s.stopAuth != nil {
		s.stopAuth()
	}
	s.release()
}

func (s *Store) ProfileView() *livesync.View[models.User]             { return s.profileView }
func (s *Store) FamiliesView() *livesync.View[models.Family]          { return s.familiesView }
func (s *Store) MemoriesView() *livesync.View[models.Memory]          { return s.memoriesView }
func (s *Store) QuestionsView() *livesync.View[models.Question]       { return s.questionsView }
func (s *Store) DocumentsView() *livesync.View[models.FamilyDocument] { return s.documentsView }

// DraftsView is empty unless a drafts repository was supplied.
func (s *Store) DraftsView() *livesync.View[models.Memory] {
	if s.deps.Drafts == nil {
		return livesync.NewView[models.Memory]()
	}
	return s.deps.Drafts.Drafts()
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Profile returns the latest profile.
func (s *Store) Profile() (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return models.User{}, false
	}
	return *s.profile, true
}

// Families returns the latest member-family list.
func (s *Store) Families() []models.Family {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.families)
}

// Family returns a member family by id.
func (s *Store) Family(id string) (models.Family, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.IndexFunc(s.families, func(f models.Family) bool { return f.ID == id })
	if i < 0 {
		return models.Family{}, false
	}
	return s.families[i], true
}

// Watch streams state changes starting with the current state.
func (s *Store) Watch() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextWatch
	s.nextWatch++
	ch := make(chan State, 1)
	ch <- s.stateLocked()
	s.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if w, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(w)
			}
		})
	}
}

// SignIn authenticates and loads the profile, writing a default profile
// first when none exists. The session is authenticated only once the
// profile is stored.
func (s *Store) SignIn(ctx context.Context, cred auth.Credential) error {
	s.mu.Lock()
	if s.status != StatusUnauthenticated {
		s.mu.Unlock()
		return ErrAlreadySignedIn
	}
	s.status = StatusAuthenticating
	s.notifyLocked()
	s.mu.Unlock()

	profile, err := s.resolve(ctx, cred)
	if err != nil {
		s.mu.Lock()
		s.status = StatusUnauthenticated
		s.notifyLocked()
		s.mu.Unlock()
		return err
	}
	if cred.PhoneNumber != "" {
		s.writePref(prefs.KeyPhone, cred.PhoneNumber)
	}

	s.mu.Lock()
	if s.status != StatusAuthenticating {
		s.mu.Unlock()
		return ErrNotSignedIn
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.uid = profile.ID
	s.profile = &profile
	if profile.Settings.Theme != "" {
		s.theme = profile.Settings.Theme
	}
	if profile.PreferredLanguage != "" {
		s.language = profile.PreferredLanguage
	}
	s.writePref(prefs.KeyTheme, s.theme)
	s.writePref(prefs.KeyLanguage, s.language)
	s.status = StatusAuthenticated
	uid, sctx := s.uid, s.ctx
	plan := s.planBindingLocked()
	s.notifyLocked()
	s.mu.Unlock()

	s.bindMu.Lock()
	if sctx.Err() == nil {
		s.profileView.Bind(livesync.Subscribe[models.User](sctx, s.deps.Registry, models.KindProfile, uid), s.onProfile)
		s.familiesView.Bind(livesync.Subscribe[models.Family](sctx, s.deps.Registry, models.KindFamilies, uid), s.onFamilies)
		if s.deps.Drafts != nil {
			s.deps.Drafts.Bind(sctx, s.deps.Registry, uid)
		}
	}
	s.bindMu.Unlock()
	s.bind(plan)
	log.Printf("[Session] signed in uid=%s", uid)
	return nil
}

// Logout releases every derived subscription, then signs out.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusAuthenticated {
		s.mu.Unlock()
		return ErrNotSignedIn
	}
	s.mu.Unlock()

	s.release()
	if s.deps.Auth != nil {
		s.deps.Auth.SignOut()
	}
	return nil
}

// SwitchActiveFamily makes id active and records it as the default family.
func (s *Store) SwitchActiveFamily(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.status != StatusAuthenticated {
		s.mu.Unlock()
		return ErrNotSignedIn
	}
	if !slices.ContainsFunc(s.families, func(f models.Family) bool { return f.ID == id }) {
		s.mu.Unlock()
		return ErrUnknownFamily
	}
	uid := s.uid
	plan := s.setActiveLocked(id)
	s.mu.Unlock()
	s.bind(plan)

	s.defaults.begin(id)
	s.writeBack(ctx, &s.defaults, uid, map[string]any{"defaultFamilyId": id})
	return nil
}

// SetTheme applies theme now and writes it to the profile in the background.
func (s *Store) SetTheme(ctx context.Context, theme string) error {
	if theme != models.ThemeLight && theme != models.ThemeDark {
		return ErrInvalidTheme
	}
	s.mu.Lock()
	s.theme = theme
	uid := s.uid
	s.notifyLocked()
	s.mu.Unlock()

	s.writePref(prefs.KeyTheme, theme)
	if uid != "" {
		s.themes.begin(theme)
		s.writeBack(ctx, &s.themes, uid, map[string]any{"settings.theme": theme})
	}
	return nil
}

// SetLanguage applies lang now and writes it to the profile in the background.
func (s *Store) SetLanguage(ctx context.Context, lang string) error {
	if lang == "" {
		return fmt.Errorf("empty language")
	}
	s.mu.Lock()
	s.language = lang
	uid := s.uid
	s.notifyLocked()
	s.mu.Unlock()

	s.writePref(prefs.KeyLanguage, lang)
	if uid != "" {
		s.languages.begin(lang)
		s.writeBack(ctx, &s.languages, uid, map[string]any{"preferredLanguage": lang})
	}
	return nil
}

func (s *Store) resolve(ctx context.Context, cred auth.Credential) (models.User, error) {
	id, err := s.deps.Auth.Authenticate(ctx, cred)
	if err != nil {
		return models.User{}, fmt.Errorf("authenticate: %w", err)
	}
	profile, found, err := backend.Read[models.User](ctx, s.deps.Backend, models.CollectionUsers, id.UID)
	if err != nil {
		return models.User{}, fmt.Errorf("load profile: %w", err)
	}
	if found {
		return profile, nil
	}

	profile = models.DefaultUser(id.UID, id.Phone)
	if v, ok := s.readPref(prefs.KeyLanguage); ok {
		profile.PreferredLanguage = v
	}
	if v, ok := s.readPref(prefs.KeyTheme); ok {
		profile.Settings.Theme = v
	}
	patch := backend.SetFields(map[string]any{
		"id":                profile.ID,
		"displayName":       profile.DisplayName,
		"phoneNumber":       profile.PhoneNumber,
		"familyIds":         profile.FamilyIDs,
		"preferredLanguage": profile.PreferredLanguage,
		"settings":          profile.Settings,
	})
	if err := s.deps.Backend.WriteDocument(ctx, models.CollectionUsers, profile.ID, patch); err != nil {
		return models.User{}, fmt.Errorf("create profile: %w", err)
	}
	log.Printf("[Session] created default profile uid=%s", profile.ID)
	return profile, nil
}

func (s *Store) onAuthChange(id *auth.Identity) {
	if id != nil {
		return
	}
	s.mu.Lock()
	authenticated := s.status == StatusAuthenticated
	s.mu.Unlock()
	if authenticated {
		log.Printf("[Session] identity revoked, releasing session")
		s.release()
	}
}

// release returns to unauthenticated and unbinds every view.
func (s *Store) release() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.bindGen++
	wasSignedIn := s.status != StatusUnauthenticated
	s.status = StatusUnauthenticated
	s.uid = ""
	s.profile = nil
	s.families = nil
	s.active = ""
	s.lastDefault = ""
	if wasSignedIn {
		s.notifyLocked()
	}
	s.mu.Unlock()

	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	s.profileView.Unbind()
	s.familiesView.Unbind()
	s.memoriesView.Unbind()
	s.questionsView.Unbind()
	s.documentsView.Unbind()
	if s.deps.Drafts != nil {
		s.deps.Drafts.Unbind()
	}
}

func (s *Store) onProfile(snap livesync.Snapshot[models.User]) {
	if len(snap.Records) == 0 {
		return
	}
	p := snap.Records[0]

	var plan *binding
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.bind(plan)
	}()
	if s.status != StatusAuthenticated || p.ID != s.uid {
		return
	}
	prev := s.profile
	s.profile = &p

	if def := p.ActiveFamilyID(); def != s.lastDefault {
		s.lastDefault = def
		if def != "" && def != s.active && s.defaults.accept(def) {
			plan = s.setActiveLocked(def)
		}
	}
	if prev == nil || p.Settings.Theme != prev.Settings.Theme {
		if p.Settings.Theme != "" && s.themes.accept(p.Settings.Theme) {
			s.theme = p.Settings.Theme
		}
	}
	if prev == nil || p.PreferredLanguage != prev.PreferredLanguage {
		if p.PreferredLanguage != "" && s.languages.accept(p.PreferredLanguage) {
			s.language = p.PreferredLanguage
		}
	}
	s.notifyLocked()
}

func (s *Store) onFamilies(snap livesync.Snapshot[models.Family]) {
	var plan *binding
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.bind(plan)
	}()
	if s.status != StatusAuthenticated {
		return
	}
	if snap.Stale && len(snap.Records) == 0 {
		// keep the current selection while the list is unavailable
		return
	}
	s.families = snap.Records

	switch {
	case len(s.families) == 0:
		plan = s.setActiveLocked("")
	case s.active == "":
		def := s.lastDefault
		if def == "" && s.profile != nil {
			def = s.profile.ActiveFamilyID()
		}
		plan = s.setActiveLocked(pickFamily(s.families, def))
	}
	s.notifyLocked()
}

// pickFamily prefers def when it is in the list, else the first family.
func pickFamily(families []models.Family, def string) string {
	for _, f := range families {
		if f.ID == def {
			return def
		}
	}
	return families[0].ID
}

// binding is a pending rebind of the family-scoped views, computed under mu
// and carried out by bind after mu is released.
type binding struct {
	gen    uint64
	ctx    context.Context
	family string
}

// setActiveLocked changes the active family and returns the rebind to run
// once mu is released, or nil when nothing changed.
func (s *Store) setActiveLocked(id string) *binding {
	if id == s.active {
		return nil
	}
	s.active = id
	s.notifyLocked()
	log.Printf("[Session] active family=%q", id)
	return s.planBindingLocked()
}

func (s *Store) planBindingLocked() *binding {
	s.bindGen++
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return &binding{gen: s.bindGen, ctx: ctx, family: s.active}
}

func (s *Store) currentBinding(b *binding) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return b.gen == s.bindGen
}

// bind points the family-scoped views at b.family. An empty family yields
// empty views. Superseded bindings are dropped, before or after subscribing.
func (s *Store) bind(b *binding) {
	if b == nil {
		return
	}
	s.bindMu.Lock()
	defer s.bindMu.Unlock()
	if !s.currentBinding(b) {
		return
	}

	reg := s.deps.Registry
	memories := livesync.Subscribe[models.Memory](b.ctx, reg, models.KindMemories, b.family)
	questions := livesync.Subscribe[models.Question](b.ctx, reg, models.KindQuestions, b.family)
	documents := livesync.Subscribe[models.FamilyDocument](b.ctx, reg, models.KindDocuments, b.family)
	if !s.currentBinding(b) {
		memories.Unsubscribe()
		questions.Unsubscribe()
		documents.Unsubscribe()
		return
	}
	s.memoriesView.Bind(memories, nil)
	s.questionsView.Bind(questions, nil)
	s.documentsView.Bind(documents, nil)
}

// writeBack updates the profile without waiting. Failures are logged.
func (s *Store) writeBack(ctx context.Context, guard *echoGuard, uid string, fields map[string]any) {
	go func() {
		defer guard.end()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()
		if err := s.deps.Backend.WriteDocument(wctx, models.CollectionUsers, uid, backend.SetFields(fields)); err != nil {
			log.Printf("[Session] profile write-back failed uid=%s fields=%v: %v", uid, fields, err)
		}
	}()
}

func (s *Store) readPref(key string) (string, bool) {
	if s.deps.Prefs == nil {
		return "", false
	}
	v, ok, err := s.deps.Prefs.Get(key)
	if err != nil {
		log.Printf("[Session] read pref %s: %v", key, err)
		return "", false
	}
	return v, ok && v != ""
}

func (s *Store) writePref(key, value string) {
	if s.deps.Prefs == nil || value == "" {
		return
	}
	if err := s.deps.Prefs.Set(key, value); err != nil {
		log.Printf("[Session] write pref %s: %v", key, err)
	}
}

func (s *Store) stateLocked() State {
	return State{
		Status:         s.status,
		UID:            s.uid,
		ActiveFamilyID: s.active,
		Theme:          s.theme,
		Language:       s.language,
	}
}

func (s *Store) notifyLocked() {
	st := s.stateLocked()
	for _, w := range s.watchers {
		select {
		case <-w:
		default:
		}
		w <- st
	}
}

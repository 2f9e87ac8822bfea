package auth

import (
	"context"
	"errors"
	"sync"
)

var ErrNoCredential = errors.New("missing credential")

// Credential is the result of the phone verification flow.
type Credential struct {
	PhoneNumber string
	Token       string
}

// Validator checks a bearer token. *Tokens and the gateway client both
// satisfy it.
type Validator interface {
	Validate(ctx context.Context, token string) (Identity, error)
}

// Provider holds the client's current identity and tells listeners when it
// changes.
type Provider struct {
	validator Validator
	verifier  *Verifier

	mu        sync.Mutex
	current   *Identity
	token     string
	listeners map[int]func(*Identity)
	nextID    int
}

func NewProvider(validator Validator, verifier *Verifier) *Provider {
	if verifier == nil {
		verifier = NewVerifier(nil)
	}
	return &Provider{
		validator: validator,
		verifier:  verifier,
		listeners: make(map[int]func(*Identity)),
	}
}

// Authenticate resolves cred to an identity and makes it current.
func (p *Provider) Authenticate(ctx context.Context, cred Credential) (Identity, error) {
	if cred.Token == "" {
		return Identity{}, ErrNoCredential
	}
	if err := p.verifier.Acquire(ctx); err != nil {
		return Identity{}, err
	}
	defer p.verifier.Release()

	id, err := p.validator.Validate(ctx, cred.Token)
	if err != nil {
		return Identity{}, err
	}
	if id.Phone == "" {
		id.Phone = cred.PhoneNumber
	}

	p.mu.Lock()
	p.current = &id
	p.token = cred.Token
	p.mu.Unlock()
	p.notify(&id)
	return id, nil
}

// SignOut clears the identity.
func (p *Provider) SignOut() {
	p.mu.Lock()
	had := p.current != nil
	p.current = nil
	p.token = ""
	p.mu.Unlock()
	if had {
		p.notify(nil)
	}
}

// Current returns the signed-in identity, if any.
func (p *Provider) Current() (Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Identity{}, false
	}
	return *p.current, true
}

// Token returns the bearer token of the current identity.
func (p *Provider) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// OnAuthChange registers fn for identity changes. nil means signed out.
func (p *Provider) OnAuthChange(fn func(*Identity)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *Provider) notify(id *Identity) {
	p.mu.Lock()
	fns := make([]func(*Identity), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

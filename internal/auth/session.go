package auth

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Listener is called with the new identity (nil when signed out)
type Listener func(*Identity)

// Session tracks the signed-in identity of one client. It starts in the
// loading state and leaves it on the first Resolve.
type Session struct {
	mu        sync.RWMutex
	provider  Provider
	identity  *Identity
	token     string
	loading   bool
	listeners map[int]Listener
	nextID    int
	logger    zerolog.Logger
}

// NewSession creates a session that is still resolving its initial identity
func NewSession(provider Provider, logger zerolog.Logger) *Session {
	return &Session{
		provider:  provider,
		loading:   true,
		listeners: make(map[int]Listener),
		logger:    logger.With().Str("component", "auth").Logger(),
	}
}

// OnChange registers a listener for identity changes and returns a func that
// removes it
func (s *Session) OnChange(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Resolve settles the initial identity from a previously issued token. An
// empty or rejected token resolves to signed out.
func (s *Session) Resolve(ctx context.Context, token string) {
	var identity *Identity
	if token != "" {
		id, err := s.provider.Authenticate(ctx, token)
		if err != nil {
			s.logger.Debug().Err(err).Msg("stored session rejected")
			token = ""
		} else {
			identity = &id
		}
	}
	s.set(identity, token)
}

// SignUp creates an account and signs it in
func (s *Session) SignUp(ctx context.Context, email, password string) error {
	id, token, err := s.provider.SignUp(ctx, email, password)
	if err != nil {
		return err
	}
	s.logger.Info().Str("uid", id.UID).Msg("signed up")
	s.set(&id, token)
	return nil
}

// SignIn signs in an existing account
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	id, token, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	s.logger.Info().Str("uid", id.UID).Msg("signed in")
	s.set(&id, token)
	return nil
}

// SignOut ends the session. The local identity is cleared even when the
// provider call fails.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	var err error
	if token != "" {
		err = s.provider.SignOut(ctx, token)
	}
	s.set(nil, "")
	return err
}

// Identity returns a copy of the signed-in identity, or nil
func (s *Session) Identity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// Token returns the session token, empty when signed out
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Loading reports whether the initial identity is still unresolved
func (s *Session) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *Session) set(identity *Identity, token string) {
	s.mu.Lock()
	s.identity = identity
	s.token = token
	s.loading = false
	listeners := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		var cp *Identity
		if identity != nil {
			id := *identity
			cp = &id
		}
		fn(cp)
	}
}

// Package session composes the task board for one client: the data source
// mode, the signed-in identity and the projector they drive.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/taskboard/internal/auth"
	"github.com/taskboard/internal/events"
	"github.com/taskboard/internal/persistence"
	"github.com/taskboard/internal/projector"
	"github.com/taskboard/internal/tasks"
)

// Screen is what the presentation layer should show
type Screen string

const (
	ScreenCheckingAuth Screen = "checking_auth" // remote mode, identity unresolved
	ScreenSignIn       Screen = "sign_in"       // remote mode, nobody signed in
	ScreenBoard        Screen = "board"
)

// State is the full presentation state of a session
type State struct {
	projector.State
	Screen      Screen         `json:"screen"`
	Identity    *auth.Identity `json:"identity"`
	AuthLoading bool           `json:"auth_loading"`
	AuthError   *string        `json:"auth_error"`
}

// Config configures an App
type Config struct {
	Name      string
	Mode      projector.Mode
	Projector projector.Config
}

// App is one client's task board
type App struct {
	mu      sync.Mutex
	mode    projector.Mode
	authErr *string

	// source the projector was last loaded for
	loaded      bool
	loadedMode  projector.Mode
	loadedOwner string

	auth *auth.Session
	proj *projector.Projector
	repo projector.Repository

	name   string
	bus    *events.Bus
	logger zerolog.Logger

	stopAuth func()
}

// New creates an App. repo may be nil, in which case remote mode reports a
// load failure.
func New(cfg Config, provider auth.Provider, repo projector.Repository, bus *events.Bus, logger zerolog.Logger) *App {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Mode == "" {
		cfg.Mode = projector.ModeLocal
	}
	cfg.Projector.Name = cfg.Name

	logger = logger.With().Str("session", cfg.Name).Logger()
	a := &App{
		mode:   cfg.Mode,
		auth:   auth.NewSession(provider, logger),
		proj:   projector.New(cfg.Projector, bus, logger),
		repo:   repo,
		name:   cfg.Name,
		bus:    bus,
		logger: logger.With().Str("component", "session").Logger(),
	}
	a.stopAuth = a.auth.OnChange(a.identityChanged)
	return a
}

// Start loads the initial source and resolves a previously issued token
func (a *App) Start(ctx context.Context, token string) {
	a.reload(ctx, true)
	a.auth.Resolve(ctx, token)
}

// Restore applies saved preferences, then starts with the saved token
func (a *App) Restore(ctx context.Context, prefs persistence.Preferences) {
	if mode, ok := projector.ParseMode(prefs.Mode); ok {
		a.mu.Lock()
		a.mode = mode
		a.mu.Unlock()
	}
	if f, err := tasks.ParseFilter(string(prefs.Criteria.Filter)); err == nil {
		a.proj.SetFilter(f)
	}
	if s, err := tasks.ParseSort(string(prefs.Criteria.Sort)); err == nil {
		a.proj.SetSort(s)
	}
	a.proj.SetSearch(prefs.Criteria.Search)
	a.Start(ctx, prefs.Token)
}

// Preferences captures what Restore needs to bring the board back
func (a *App) Preferences() persistence.Preferences {
	st := a.proj.State()
	return persistence.Preferences{
		Mode:     string(a.Mode()),
		Token:    a.Token(),
		Criteria: tasks.Criteria{Filter: st.Filter, Sort: st.Sort, Search: st.Search},
	}
}

// Close stops the active subscription
func (a *App) Close() {
	a.stopAuth()
	a.proj.Close()
}

// Name identifies the session on the event bus
func (a *App) Name() string {
	return a.name
}

// Projector exposes the task operations and view criteria
func (a *App) Projector() *projector.Projector {
	return a.proj
}

// Mode returns the current data source mode
func (a *App) Mode() projector.Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// SetMode switches the data source
func (a *App) SetMode(ctx context.Context, mode projector.Mode) error {
	if _, ok := projector.ParseMode(string(mode)); !ok {
		return fmt.Errorf("unknown mode %q", mode)
	}

	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()

	if changed {
		a.logger.Info().Str("mode", string(mode)).Msg("data source switched")
		a.publish(events.EventSourceChanged, map[string]any{"mode": string(mode)})
	}
	a.reload(ctx, false)
	return nil
}

// ToggleMode flips between local and remote
func (a *App) ToggleMode(ctx context.Context) projector.Mode {
	next := projector.ModeRemote
	if a.Mode() == projector.ModeRemote {
		next = projector.ModeLocal
	}
	a.SetMode(ctx, next)
	return next
}

// SignUp creates an account. The error is also kept for the sign-in form.
func (a *App) SignUp(ctx context.Context, email, password string) error {
	a.setAuthError(nil)
	err := a.auth.SignUp(ctx, email, password)
	a.setAuthError(err)
	return err
}

// SignIn signs in. The error is also kept for the sign-in form.
func (a *App) SignIn(ctx context.Context, email, password string) error {
	a.setAuthError(nil)
	err := a.auth.SignIn(ctx, email, password)
	a.setAuthError(err)
	return err
}

// SignOut signs out
func (a *App) SignOut(ctx context.Context) error {
	a.setAuthError(nil)
	return a.auth.SignOut(ctx)
}

// Token returns the current session token
func (a *App) Token() string {
	return a.auth.Token()
}

// State returns the presentation state
func (a *App) State() State {
	a.mu.Lock()
	mode := a.mode
	var authErr *string
	if a.authErr != nil {
		msg := *a.authErr
		authErr = &msg
	}
	a.mu.Unlock()

	st := State{
		State:       a.proj.State(),
		Identity:    a.auth.Identity(),
		AuthLoading: a.auth.Loading(),
		AuthError:   authErr,
	}

	switch {
	case mode == projector.ModeRemote && st.AuthLoading:
		st.Screen = ScreenCheckingAuth
	case mode == projector.ModeRemote && st.Identity == nil:
		st.Screen = ScreenSignIn
	default:
		st.Screen = ScreenBoard
	}
	return st
}

func (a *App) identityChanged(id *auth.Identity) {
	payload := map[string]any{"signed_in": id != nil}
	if id != nil {
		payload["uid"] = id.UID
	}
	a.publish(events.EventAuthChanged, payload)
	a.reload(context.Background(), false)
}

// reload points the projector at the current source. The owner only matters
// in remote mode, so identity changes in local mode keep the loaded tasks.
func (a *App) reload(ctx context.Context, force bool) {
	a.mu.Lock()
	mode := a.mode
	owner := ""
	if mode == projector.ModeRemote {
		if id := a.auth.Identity(); id != nil {
			owner = id.UID
		}
	}
	if !force && a.loaded && mode == a.loadedMode && owner == a.loadedOwner {
		a.mu.Unlock()
		return
	}
	a.loaded = true
	a.loadedMode = mode
	a.loadedOwner = owner
	a.mu.Unlock()

	a.logger.Debug().Str("mode", string(mode)).Str("owner", owner).Msg("reloading tasks")
	a.proj.Load(ctx, projector.Source{Mode: mode, Repository: a.repo, OwnerID: owner})
}

func (a *App) setAuthError(err error) {
	a.mu.Lock()
	if err == nil {
		a.authErr = nil
	} else {
		msg := err.Error()
		a.authErr = &msg
	}
	a.mu.Unlock()
	a.publish(events.EventStateChanged, nil)
}

func (a *App) publish(t events.EventType, payload map[string]any) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(events.NewEvent(t, "session", a.name, payload))
}

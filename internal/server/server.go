// Package server exposes a session over a JSON HTTP API and pushes state to
// browsers over WebSocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/taskboard/internal/events"
	"github.com/taskboard/internal/persistence"
	"github.com/taskboard/internal/session"
)

// Options tunes a Server
type Options struct {
	// AllowedOrigins extends the WebSocket origin allow-list beyond loopback hosts
	AllowedOrigins []string
	MaxBodyBytes   int64
	// Preferences, when set, receives the session's preferences after every change
	Preferences *persistence.JSONStore
}

// Server is the main HTTP server
type Server struct {
	mu         sync.Mutex
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	hub        *Hub

	app   *session.App
	bus   *events.Bus
	prefs *persistence.JSONStore

	origins map[string]bool
	logger  zerolog.Logger

	startTime time.Time

	// Background tasks
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a new server instance. bus may be nil, in which case
// browsers only get state on connect.
func NewServer(app *session.App, bus *events.Bus, opts Options, logger zerolog.Logger) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		hub:       NewHub(),
		app:       app,
		bus:       bus,
		prefs:     opts.Preferences,
		origins:   make(map[string]bool),
		logger:    logger.With().Str("component", "server").Logger(),
		startTime: time.Now(),
		stopChan:  make(chan struct{}),
	}
	for _, o := range opts.AllowedOrigins {
		s.origins[normalizeOrigin(o)] = true
	}

	s.setupRoutes()
	s.handler = SecurityHeadersMiddleware(
		LoggingMiddleware(s.logger)(
			MaxBodyMiddleware(opts.MaxBodyBytes)(s.router)))

	go s.hub.Run()
	if bus != nil {
		ch := bus.Subscribe(app.Name(), []events.EventType{
			events.EventStateChanged,
			events.EventSourceChanged,
			events.EventAuthChanged,
		})
		s.wg.Add(1)
		go s.forwardEvents(ch)
	}
	return s
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/health", s.handleHealthCheck).Methods("GET")

	api.HandleFunc("/tasks", s.handleAddTask).Methods("POST")
	api.HandleFunc("/tasks/{id}", s.handleUpdateTask).Methods("PATCH")
	api.HandleFunc("/tasks/{id}", s.handleRemoveTask).Methods("DELETE")

	api.HandleFunc("/view", s.handleSetView).Methods("PUT")

	api.HandleFunc("/error/simulate", s.handleSimulateError).Methods("POST")
	api.HandleFunc("/error/clear", s.handleClearError).Methods("POST")

	api.HandleFunc("/source", s.handleSetSource).Methods("PUT")
	api.HandleFunc("/source/toggle", s.handleToggleSource).Methods("POST")

	api.HandleFunc("/auth/signup", s.handleSignUp).Methods("POST")
	api.HandleFunc("/auth/signin", s.handleSignIn).Methods("POST")
	api.HandleFunc("/auth/signout", s.handleSignOut).Methods("POST")

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	select {
	case <-s.stopChan:
		s.mu.Unlock()
		return nil
	default:
	}
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info().Str("addr", addr).Msg("task board ready")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()

	if s.prefs != nil {
		s.prefs.Set(s.app.Preferences())
		if err := s.prefs.Flush(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to save preferences")
		}
	}

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// stop ends the event forwarder and the hub. Safe to call more than once.
func (s *Server) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.stopChan)
		s.mu.Unlock()
		s.wg.Wait()
		s.hub.Stop()
	})
}

// forwardEvents pushes state to browsers whenever the session changes
func (s *Server) forwardEvents(ch <-chan events.Event) {
	defer s.wg.Done()
	defer s.bus.Unsubscribe(s.app.Name(), ch)

	for {
		select {
		case <-s.stopChan:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case events.EventSourceChanged:
				s.hub.BroadcastJSON(WSMessage{Type: WSTypeSource, Data: ev.Payload})
			case events.EventAuthChanged:
				s.hub.BroadcastJSON(WSMessage{Type: WSTypeAuth, Data: ev.Payload})
			}
			s.broadcastState()
		}
	}
}

// broadcastState sends current state to all WebSocket clients and records
// the preferences it implies
func (s *Server) broadcastState() {
	s.hub.BroadcastState(s.app.State())
	if s.prefs != nil {
		s.prefs.Set(s.app.Preferences())
	}
}

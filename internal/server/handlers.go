package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/taskboard/internal/auth"
	"github.com/taskboard/internal/projector"
	"github.com/taskboard/internal/tasks"
)

// checkWebSocketOrigin accepts same-origin requests, loopback hosts and the
// configured allow-list
func (s *Server) checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}

	if s.origins[normalizeOrigin(origin)] {
		return true
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}

	switch host := u.Hostname(); host {
	case "localhost":
		return true
	default:
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	}
}

func normalizeOrigin(o string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
}

// handleWebSocket upgrades to WebSocket and manages connection
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.checkWebSocketOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, WebSocketBufferSize),
	}

	// Send current state before the client sees any broadcast
	data, _ := json.Marshal(WSMessage{
		Type: WSTypeStateUpdate,
		Data: s.app.State(),
	})
	client.send <- data

	s.hub.Register(client)

	go client.readPump()
	go client.writePump()
}

// handleGetState returns the current board state
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, s.app.State())
}

// handleHealthCheck reports liveness
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]any{
		"status":  "ok",
		"mode":    s.app.Mode(),
		"clients": s.hub.ClientCount(),
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleAddTask adds a task. Validation failures land in the state's error.
func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title   string `json:"title"`
		DueDate string `json:"due_date"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	s.app.Projector().AddTask(r.Context(), req.Title, req.DueDate)
	s.respondState(w, r)
}

// handleUpdateTask changes a task's status
func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	s.app.Projector().UpdateStatus(r.Context(), mux.Vars(r)["id"], tasks.Status(req.Status))
	s.respondState(w, r)
}

// handleRemoveTask deletes a task
func (s *Server) handleRemoveTask(w http.ResponseWriter, r *http.Request) {
	s.app.Projector().RemoveTask(r.Context(), mux.Vars(r)["id"])
	s.respondState(w, r)
}

// handleSetView updates any of filter, sort and search
func (s *Server) handleSetView(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter *string `json:"filter"`
		Sort   *string `json:"sort"`
		Search *string `json:"search"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	// validate everything before applying anything
	var (
		filter tasks.Filter
		sort   tasks.Sort
		err    error
	)
	if req.Filter != nil {
		if filter, err = tasks.ParseFilter(*req.Filter); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Sort != nil {
		if sort, err = tasks.ParseSort(*req.Sort); err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	p := s.app.Projector()
	if req.Filter != nil {
		p.SetFilter(filter)
	}
	if req.Sort != nil {
		p.SetSort(sort)
	}
	if req.Search != nil {
		p.SetSearch(*req.Search)
	}
	s.respondState(w, r)
}

func (s *Server) handleSimulateError(w http.ResponseWriter, r *http.Request) {
	s.app.Projector().SimulateError()
	s.respondState(w, r)
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	s.app.Projector().ClearError()
	s.respondState(w, r)
}

// handleSetSource switches between local and remote
func (s *Server) handleSetSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	mode, ok := projector.ParseMode(req.Mode)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "mode must be local or remote")
		return
	}
	s.app.SetMode(r.Context(), mode)
	s.respondState(w, r)
}

func (s *Server) handleToggleSource(w http.ResponseWriter, r *http.Request) {
	s.app.ToggleMode(r.Context())
	s.respondState(w, r)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decode(w, r, &req) {
		return
	}
	err := s.app.SignUp(r.Context(), req.Email, req.Password)
	s.respondAuth(w, r, err)
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !s.decode(w, r, &req) {
		return
	}
	err := s.app.SignIn(r.Context(), req.Email, req.Password)
	s.respondAuth(w, r, err)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	err := s.app.SignOut(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("sign out failed upstream")
	}
	s.respondState(w, r)
}

// respondAuth answers with the state. The status tells scripts what happened;
// the form message is in auth_error.
func (s *Server) respondAuth(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidEmail), errors.Is(err, auth.ErrWeakPassword):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrEmailInUse):
		status = http.StatusConflict
	default:
		status = http.StatusBadGateway
	}
	s.changed()
	s.respondJSONStatus(w, status, s.app.State())
}

// respondState answers a mutation with the resulting state
func (s *Server) respondState(w http.ResponseWriter, r *http.Request) {
	s.changed()
	s.respondJSON(w, s.app.State())
}

// changed pushes state when no event bus is doing it
func (s *Server) changed() {
	if s.bus == nil {
		s.broadcastState()
	}
}

// decode reads a JSON body into v, answering 400 or 413 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// Helper functions
func (s *Server) respondJSON(w http.ResponseWriter, data any) {
	s.respondJSONStatus(w, http.StatusOK, data)
}

func (s *Server) respondJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

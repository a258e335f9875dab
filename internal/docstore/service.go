package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	nc "github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/taskboard/internal/auth"
	natsc "github.com/taskboard/internal/nats"
	"github.com/taskboard/internal/tasks"
)

// Service answers document requests and publishes owner snapshots
type Service struct {
	client *natsc.Client
	tasks  *tasks.Store
	users  *auth.Store
	now    func() time.Time
	logger zerolog.Logger

	// mu serializes storage changes with revision assignment and publishing so
	// snapshots leave in revision order
	mu       sync.Mutex
	revision uint64

	subs    []*nc.Subscription
	subsMu  sync.Mutex
	running bool
}

// NewService creates a document service on client
func NewService(client *natsc.Client, taskStore *tasks.Store, users *auth.Store, logger zerolog.Logger) *Service {
	return &Service{
		client: client,
		tasks:  taskStore,
		users:  users,
		now:    time.Now,
		logger: logger.With().Str("component", "docstore").Logger(),
	}
}

// Start subscribes to every request subject in the service queue group
func (s *Service) Start() error {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if s.running {
		return fmt.Errorf("service already running")
	}

	handlers := map[string]func(*natsc.Message){
		natsc.SubjectAuthSignUp:  s.handleSignUp,
		natsc.SubjectAuthSignIn:  s.handleSignIn,
		natsc.SubjectAuthSignOut: s.handleSignOut,
		natsc.SubjectAuthResolve: s.handleResolve,
		natsc.SubjectTasksList:   s.handleList,
		natsc.SubjectTasksCreate: s.handleCreate,
		natsc.SubjectTasksUpdate: s.handleUpdate,
		natsc.SubjectTasksDelete: s.handleDelete,
	}

	for subject, handler := range handlers {
		sub, err := s.client.QueueSubscribe(subject, natsc.ServiceQueue, handler)
		if err != nil {
			s.unsubscribeLocked()
			return err
		}
		s.subs = append(s.subs, sub)
	}

	if err := s.client.Flush(); err != nil {
		s.unsubscribeLocked()
		return err
	}

	s.running = true
	s.logger.Info().Int("subjects", len(s.subs)).Msg("document service started")
	return nil
}

// Stop unsubscribes all handlers
func (s *Service) Stop() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if !s.running {
		return
	}
	s.unsubscribeLocked()
	s.running = false
	s.logger.Info().Msg("document service stopped")
}

func (s *Service) unsubscribeLocked() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}

func (s *Service) handleSignUp(msg *natsc.Message) {
	var req natsc.CredentialsRequest
	if !s.decode(msg, &req) {
		return
	}
	id, token, err := s.users.SignUp(context.Background(), req.Email, req.Password)
	s.replyAuth(msg, id, token, err)
}

func (s *Service) handleSignIn(msg *natsc.Message) {
	var req natsc.CredentialsRequest
	if !s.decode(msg, &req) {
		return
	}
	id, token, err := s.users.SignIn(context.Background(), req.Email, req.Password)
	s.replyAuth(msg, id, token, err)
}

func (s *Service) handleSignOut(msg *natsc.Message) {
	var req natsc.TokenRequest
	if !s.decode(msg, &req) {
		return
	}
	if err := s.users.SignOut(context.Background(), req.Token); err != nil {
		s.replyError(msg, err)
		return
	}
	s.reply(msg, natsc.Reply{OK: true})
}

func (s *Service) handleResolve(msg *natsc.Message) {
	var req natsc.TokenRequest
	if !s.decode(msg, &req) {
		return
	}
	id, err := s.users.Authenticate(context.Background(), req.Token)
	s.replyAuth(msg, id, req.Token, err)
}

func (s *Service) handleList(msg *natsc.Message) {
	var req natsc.ListRequest
	if !s.decode(msg, &req) {
		return
	}
	if err := s.authorize(req.Token, req.OwnerID); err != nil {
		s.replyError(msg, err)
		return
	}

	s.mu.Lock()
	snap, err := s.snapshotLocked(req.OwnerID)
	s.mu.Unlock()
	if err != nil {
		s.replyError(msg, err)
		return
	}
	s.reply(msg, snap)
}

func (s *Service) handleCreate(msg *natsc.Message) {
	var req natsc.CreateRequest
	if !s.decode(msg, &req) {
		return
	}
	if err := s.authorize(req.Token, req.OwnerID); err != nil {
		s.replyError(msg, err)
		return
	}

	task, err := validateNew(req.Task)
	if err != nil {
		s.replyError(msg, err)
		return
	}

	s.mutate(msg, req.OwnerID, func() error {
		task.CreatedAt = s.now()
		return s.tasks.Create(req.OwnerID, task)
	})
}

func (s *Service) handleUpdate(msg *natsc.Message) {
	var req natsc.UpdateRequest
	if !s.decode(msg, &req) {
		return
	}
	if err := s.authorize(req.Token, req.OwnerID); err != nil {
		s.replyError(msg, err)
		return
	}
	status, err := tasks.ParseStatus(string(req.Status))
	if err != nil {
		s.replyError(msg, err)
		return
	}

	s.mutate(msg, req.OwnerID, func() error {
		return s.tasks.UpdateStatus(req.OwnerID, req.ID, status)
	})
}

func (s *Service) handleDelete(msg *natsc.Message) {
	var req natsc.DeleteRequest
	if !s.decode(msg, &req) {
		return
	}
	if err := s.authorize(req.Token, req.OwnerID); err != nil {
		s.replyError(msg, err)
		return
	}

	s.mutate(msg, req.OwnerID, func() error {
		return s.tasks.Delete(req.OwnerID, req.ID)
	})
}

// mutate applies a change, publishes the owner's new snapshot and replies
func (s *Service) mutate(msg *natsc.Message, ownerID string, change func() error) {
	s.mu.Lock()
	if err := change(); err != nil {
		s.mu.Unlock()
		s.replyError(msg, err)
		return
	}

	snap, err := s.snapshotLocked(ownerID)
	if err == nil {
		err = s.client.PublishJSON(natsc.SnapshotSubject(ownerID), snap)
	}
	s.mu.Unlock()

	if err != nil {
		// the change is stored; subscribers catch up on the next snapshot
		s.logger.Error().Err(err).Str("owner", ownerID).Msg("failed to publish snapshot")
	}
	s.reply(msg, natsc.Reply{OK: true})
}

// snapshotLocked reads the owner's collection under a fresh revision
func (s *Service) snapshotLocked(ownerID string) (natsc.SnapshotMessage, error) {
	list, err := s.tasks.ListByOwner(ownerID)
	if err != nil {
		return natsc.SnapshotMessage{}, err
	}
	return natsc.SnapshotMessage{
		Reply:    natsc.Reply{OK: true},
		OwnerID:  ownerID,
		Revision: s.nextRevisionLocked(),
		Tasks:    list,
	}, nil
}

// nextRevisionLocked follows the wall clock so revisions keep increasing
// across restarts, and never repeats within one process
func (s *Service) nextRevisionLocked() uint64 {
	rev := uint64(s.now().UnixNano())
	if rev <= s.revision {
		rev = s.revision + 1
	}
	s.revision = rev
	return rev
}

func (s *Service) authorize(token, ownerID string) error {
	id, err := s.users.Authenticate(context.Background(), token)
	if err != nil {
		return err
	}
	if id.UID != ownerID {
		return ErrPermissionDenied
	}
	return nil
}

func validateNew(task tasks.Task) (tasks.Task, error) {
	task.Title = strings.TrimSpace(task.Title)
	if task.Title == "" {
		return task, tasks.ErrEmptyTitle
	}
	if task.ID == "" {
		return task, fmt.Errorf("%w: missing task id", ErrInvalidArgument)
	}
	if _, err := tasks.ParseStatus(string(task.Status)); err != nil {
		return task, err
	}
	due, err := tasks.ValidateDueDate(task.DueDate)
	if err != nil {
		return task, err
	}
	task.DueDate = due
	return task, nil
}

func (s *Service) decode(msg *natsc.Message, v any) bool {
	if err := json.Unmarshal(msg.Data, v); err != nil {
		s.replyError(msg, fmt.Errorf("%w: malformed request", ErrInvalidArgument))
		return false
	}
	return true
}

func (s *Service) replyAuth(msg *natsc.Message, id auth.Identity, token string, err error) {
	if err != nil {
		s.replyError(msg, err)
		return
	}
	s.reply(msg, natsc.AuthReply{
		Reply: natsc.Reply{OK: true},
		UID:   id.UID,
		Email: id.Email,
		Token: token,
	})
}

func (s *Service) replyError(msg *natsc.Message, err error) {
	r := errorReply(err)
	if r.Code == natsc.CodeInternal {
		s.logger.Error().Err(err).Str("subject", msg.Subject).Msg("request failed")
	} else {
		s.logger.Debug().Err(err).Str("subject", msg.Subject).Msg("request rejected")
	}
	s.reply(msg, r)
}

// reply sends a JSON response to a reply subject
func (s *Service) reply(msg *natsc.Message, data any) {
	if msg.Reply == "" {
		return
	}
	if err := s.client.PublishJSON(msg.Reply, data); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send reply")
	}
}

// Package memstore is an in-process task repository with live snapshot
// subscriptions. It backs the remote mode when no document service is
// configured and serves as the deterministic repository in tests.
package memstore

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/taskboard/internal/projector"
	"github.com/taskboard/internal/tasks"
)

// Op names a repository operation for fault injection
type Op string

const (
	OpSubscribe Op = "subscribe"
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
	OpRemove    Op = "remove"
)

// ErrNotFound is returned when an update or remove targets a missing task
var ErrNotFound = errors.New("no document to update")

// Store holds per-owner task collections, newest first
type Store struct {
	mu       sync.Mutex
	owners   map[string][]tasks.Task
	subs     map[string]map[*subscriber]struct{}
	failures map[Op][]error
	calls    map[Op]int
	now      func() time.Time
}

var _ projector.Repository = (*Store)(nil)

// New creates an empty store using the wall clock for creation stamps
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty store with a custom creation clock
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		owners:   make(map[string][]tasks.Task),
		subs:     make(map[string]map[*subscriber]struct{}),
		failures: make(map[Op][]error),
		calls:    make(map[Op]int),
		now:      now,
	}
}

// Subscribe streams the owner's collection: the current snapshot first, then
// one snapshot per change, in order, until ctx is cancelled.
func (s *Store) Subscribe(ctx context.Context, ownerID string) (<-chan projector.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailureLocked(OpSubscribe); err != nil {
		return nil, err
	}

	sub := newSubscriber()
	if s.subs[ownerID] == nil {
		s.subs[ownerID] = make(map[*subscriber]struct{})
	}
	s.subs[ownerID][sub] = struct{}{}
	sub.push(projector.Snapshot{Tasks: tasks.Clone(s.collectionLocked(ownerID))})

	context.AfterFunc(ctx, func() {
		s.mu.Lock()
		delete(s.subs[ownerID], sub)
		if len(s.subs[ownerID]) == 0 {
			delete(s.subs, ownerID)
		}
		s.mu.Unlock()
		sub.close()
	})

	go sub.run(ctx)
	return sub.out, nil
}

// Create stores a task stamped with the store's creation time
func (s *Store) Create(_ context.Context, ownerID string, task tasks.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailureLocked(OpCreate); err != nil {
		return err
	}

	task.CreatedAt = s.now()
	s.owners[ownerID] = append([]tasks.Task{task}, s.owners[ownerID]...)
	s.publishLocked(ownerID)
	return nil
}

// UpdateStatus changes the status of one task
func (s *Store) UpdateStatus(_ context.Context, ownerID, id string, status tasks.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailureLocked(OpUpdate); err != nil {
		return err
	}

	list := s.owners[ownerID]
	idx := slices.IndexFunc(list, func(t tasks.Task) bool { return t.ID == id })
	if idx < 0 {
		return ErrNotFound
	}

	list = tasks.Clone(list)
	list[idx].Status = status
	s.owners[ownerID] = list
	s.publishLocked(ownerID)
	return nil
}

// Remove deletes one task
func (s *Store) Remove(_ context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailureLocked(OpRemove); err != nil {
		return err
	}

	list := s.owners[ownerID]
	idx := slices.IndexFunc(list, func(t tasks.Task) bool { return t.ID == id })
	if idx < 0 {
		return ErrNotFound
	}

	s.owners[ownerID] = slices.Delete(tasks.Clone(list), idx, idx+1)
	s.publishLocked(ownerID)
	return nil
}

// Put replaces an owner's collection (newest first) and notifies subscribers
func (s *Store) Put(ownerID string, list []tasks.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.owners[ownerID] = tasks.Clone(list)
	s.publishLocked(ownerID)
}

// Snapshot returns a copy of an owner's collection
func (s *Store) Snapshot(ownerID string) []tasks.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return tasks.Clone(s.collectionLocked(ownerID))
}

// FailNext makes the next call of op return err
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// BreakSubscription delivers err to every live subscriber of the owner
func (s *Store) BreakSubscription(ownerID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subs[ownerID] {
		sub.push(projector.Snapshot{Err: err})
	}
}

// Calls reports how many times op was invoked
func (s *Store) Calls(op Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Subscribers reports how many live subscriptions the owner has
func (s *Store) Subscribers(ownerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[ownerID])
}

func (s *Store) collectionLocked(ownerID string) []tasks.Task {
	list := s.owners[ownerID]
	if list == nil {
		return []tasks.Task{}
	}
	return list
}

func (s *Store) takeFailureLocked(op Op) error {
	s.calls[op]++
	queue := s.failures[op]
	if len(queue) == 0 {
		return nil
	}
	s.failures[op] = queue[1:]
	return queue[0]
}

func (s *Store) publishLocked(ownerID string) {
	for sub := range s.subs[ownerID] {
		sub.push(projector.Snapshot{Tasks: tasks.Clone(s.collectionLocked(ownerID))})
	}
}

// subscriber is an ordered, unbounded mailbox drained into out by run
type subscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []projector.Snapshot
	closed bool
	out    chan projector.Snapshot
}

func newSubscriber() *subscriber {
	sub := &subscriber{out: make(chan projector.Snapshot)}
	sub.cond = sync.NewCond(&sub.mu)
	return sub
}

func (s *subscriber) push(snap projector.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.queue = append(s.queue, snap)
	s.cond.Signal()
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

func (s *subscriber) run(ctx context.Context) {
	defer close(s.out)

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		snap := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- snap:
		case <-ctx.Done():
			return
		}
	}
}

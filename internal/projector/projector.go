// Package projector owns the active task collection, derives the filtered,
// searched and sorted view shown to the user, and routes mutations to the
// selected data source.
package projector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/taskboard/internal/events"
	"github.com/taskboard/internal/tasks"
)

// User-visible error messages
const (
	MsgEmptyTitle   = "task title must not be empty"
	MsgSimulated    = "simulated error for testing"
	msgLoadFailed   = "failed to load tasks"
	msgAddFailed    = "failed to add task"
	msgUpdateFailed = "failed to update task status"
	msgRemoveFailed = "failed to remove task"
	msgNoRepository = "no remote repository configured"
)

// DefaultSeedLatency is the simulated local-mode load delay
const DefaultSeedLatency = time.Second

var errNoRepository = errors.New(msgNoRepository)

// Config tunes a projector
type Config struct {
	Name        string        // event target used for change notifications
	SeedLatency time.Duration // simulated local-mode load delay; zero loads synchronously
	Locale      language.Tag  // title collation locale
}

// State is a consistent copy of everything the presentation layer may read
type State struct {
	Tasks   []tasks.Task `json:"tasks"`
	Total   int          `json:"total"`
	Loading bool         `json:"loading"`
	Error   *string      `json:"error"`
	Filter  tasks.Filter `json:"filter"`
	Sort    tasks.Sort   `json:"sort"`
	Search  string       `json:"search"`
	Mode    Mode         `json:"mode"`
}

// Projector is the task list state container. All mutation goes through its
// methods; it is safe for concurrent use.
type Projector struct {
	mu sync.RWMutex
	// raw is copy-on-write: a slice is never modified after being stored, so
	// readers may keep using it after releasing mu.
	raw      []tasks.Task
	criteria tasks.Criteria
	loading  bool
	errMsg   *string
	source   Source

	// epoch increases on every Load and Close; deliveries carry the epoch they
	// were started under and are discarded once it is stale.
	epoch  uint64
	cancel context.CancelFunc
	timer  *time.Timer
	wg     sync.WaitGroup

	cfg    Config
	bus    *events.Bus
	logger zerolog.Logger
}

// New creates a projector in local mode with an empty collection. bus may be nil.
func New(cfg Config, bus *events.Bus, logger zerolog.Logger) *Projector {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &Projector{
		raw:      []tasks.Task{},
		criteria: tasks.DefaultCriteria(),
		source:   Source{Mode: ModeLocal},
		cfg:      cfg,
		bus:      bus,
		logger:   logger.With().Str("component", "projector").Str("session", cfg.Name).Logger(),
	}
}

// Load switches the data source. Any previous subscription or pending seed load
// is cancelled before the new one starts, and the error is cleared.
func (p *Projector) Load(ctx context.Context, src Source) {
	p.mu.Lock()
	p.stopLocked()
	p.epoch++
	epoch := p.epoch
	p.source = src
	p.errMsg = nil

	switch {
	case src.Mode == ModeRemote && src.OwnerID == "":
		p.raw = []tasks.Task{}
		p.loading = false
		p.mu.Unlock()
		p.logger.Debug().Msg("remote mode without identity, nothing to load")
		p.notify()
		return

	case src.Mode == ModeRemote && src.Repository == nil:
		p.raw = []tasks.Task{}
		p.loading = false
		p.setErrorLocked(msgLoadFailed, errNoRepository)
		p.mu.Unlock()
		p.notify()
		return

	case src.Mode == ModeRemote:
		p.loading = true
		// the subscription outlives the caller's request; Load/Close end it
		subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		p.cancel = cancel
		p.wg.Add(1)
		p.mu.Unlock()
		p.notify()

		ch, err := src.Repository.Subscribe(subCtx, src.OwnerID)
		if err != nil {
			p.wg.Done()
			p.loadFailed(epoch, err)
			return
		}

		go p.consume(subCtx, epoch, ch)
		p.logger.Debug().Str("owner", src.OwnerID).Uint64("epoch", epoch).Msg("subscribed")
		return
	}

	// local mode
	p.loading = true
	if p.cfg.SeedLatency <= 0 {
		p.raw = tasks.SeedTasks()
		p.loading = false
		p.mu.Unlock()
		p.notify()
		return
	}
	p.timer = time.AfterFunc(p.cfg.SeedLatency, func() {
		p.applySeed(epoch)
	})
	p.mu.Unlock()
	p.notify()
}

// Close cancels the active subscription and waits for its consumer to exit
func (p *Projector) Close() {
	p.mu.Lock()
	p.stopLocked()
	p.epoch++
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Projector) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Projector) applySeed(epoch uint64) {
	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return
	}
	p.raw = tasks.SeedTasks()
	p.loading = false
	p.timer = nil
	p.mu.Unlock()
	p.notify()
}

func (p *Projector) consume(ctx context.Context, epoch uint64, ch <-chan Snapshot) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			p.apply(epoch, snap)
		}
	}
}

// apply replaces the raw collection with one subscription delivery
func (p *Projector) apply(epoch uint64, snap Snapshot) {
	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		p.logger.Debug().Uint64("epoch", epoch).Msg("dropping delivery from cancelled subscription")
		return
	}

	if snap.Err != nil {
		p.setErrorLocked(msgLoadFailed, snap.Err)
	} else {
		p.raw = tasks.Clone(snap.Tasks)
		if p.raw == nil {
			p.raw = []tasks.Task{}
		}
	}
	p.loading = false
	p.mu.Unlock()
	p.notify()
}

func (p *Projector) loadFailed(epoch uint64, err error) {
	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		return
	}
	p.setErrorLocked(msgLoadFailed, err)
	p.loading = false
	p.mu.Unlock()
	p.notify()
}

// AddTask creates a todo task. Local mode prepends it immediately; remote mode
// sends it to the repository and waits for the subscription to deliver it.
func (p *Projector) AddTask(ctx context.Context, title, dueDate string) {
	task, err := tasks.NewTask(title, dueDate)
	if err != nil {
		p.mu.Lock()
		if errors.Is(err, tasks.ErrEmptyTitle) {
			msg := MsgEmptyTitle
			p.errMsg = &msg
		} else {
			p.setErrorLocked(msgAddFailed, err)
		}
		p.mu.Unlock()
		p.notify()
		return
	}

	p.mu.Lock()
	src, epoch := p.source, p.epoch
	if !src.remote() {
		p.raw = append([]tasks.Task{task}, p.raw...)
		p.mu.Unlock()
		p.notify()
		return
	}
	p.mu.Unlock()

	if err := src.Repository.Create(ctx, src.OwnerID, task); err != nil {
		p.mutationFailed(epoch, msgAddFailed, err)
	}
}

// UpdateStatus changes a task's status. Unknown ids are ignored.
func (p *Projector) UpdateStatus(ctx context.Context, id string, status tasks.Status) {
	if _, err := tasks.ParseStatus(string(status)); err != nil {
		p.mu.Lock()
		p.setErrorLocked(msgUpdateFailed, err)
		p.mu.Unlock()
		p.notify()
		return
	}

	p.mu.Lock()
	idx := p.indexLocked(id)
	if idx < 0 {
		p.mu.Unlock()
		return
	}
	src, epoch := p.source, p.epoch
	if !src.remote() {
		p.raw = tasks.Clone(p.raw)
		p.raw[idx].Status = status
		p.mu.Unlock()
		p.notify()
		return
	}
	p.mu.Unlock()

	if err := src.Repository.UpdateStatus(ctx, src.OwnerID, id, status); err != nil {
		p.mutationFailed(epoch, msgUpdateFailed, err)
	}
}

// RemoveTask deletes a task. Unknown ids are ignored.
func (p *Projector) RemoveTask(ctx context.Context, id string) {
	p.mu.Lock()
	idx := p.indexLocked(id)
	if idx < 0 {
		p.mu.Unlock()
		return
	}
	src, epoch := p.source, p.epoch
	if !src.remote() {
		p.raw = slices.Delete(tasks.Clone(p.raw), idx, idx+1)
		p.mu.Unlock()
		p.notify()
		return
	}
	p.mu.Unlock()

	if err := src.Repository.Remove(ctx, src.OwnerID, id); err != nil {
		p.mutationFailed(epoch, msgRemoveFailed, err)
	}
}

// mutationFailed reports a remote failure unless the source changed meanwhile
func (p *Projector) mutationFailed(epoch uint64, prefix string, err error) {
	p.mu.Lock()
	if p.epoch != epoch {
		p.mu.Unlock()
		p.logger.Debug().Err(err).Str("op", prefix).Msg("ignoring failure from previous source")
		return
	}
	p.setErrorLocked(prefix, err)
	p.mu.Unlock()
	p.logger.Warn().Err(err).Str("op", prefix).Msg("remote mutation failed")
	p.notify()
}

// SimulateError sets a fixed diagnostic error
func (p *Projector) SimulateError() {
	p.mu.Lock()
	msg := MsgSimulated
	p.errMsg = &msg
	p.mu.Unlock()
	p.notify()
}

// ClearError dismisses the current error
func (p *Projector) ClearError() {
	p.mu.Lock()
	p.errMsg = nil
	p.mu.Unlock()
	p.notify()
}

// SetFilter sets the status filter
func (p *Projector) SetFilter(f tasks.Filter) {
	p.mu.Lock()
	p.criteria.Filter = f
	p.mu.Unlock()
	p.notify()
}

// SetSort sets the sort order
func (p *Projector) SetSort(s tasks.Sort) {
	p.mu.Lock()
	p.criteria.Sort = s
	p.mu.Unlock()
	p.notify()
}

// SetSearch sets the title search text
func (p *Projector) SetSearch(s string) {
	p.mu.Lock()
	p.criteria.Search = s
	p.mu.Unlock()
	p.notify()
}

// View returns the filtered, searched and sorted tasks
func (p *Projector) View() []tasks.Task {
	p.mu.RLock()
	raw, crit := p.raw, p.criteria
	p.mu.RUnlock()

	return tasks.Project(raw, crit, tasks.WithLocale(p.cfg.Locale))
}

// State returns a consistent copy of the presentation state
func (p *Projector) State() State {
	p.mu.RLock()
	raw, crit := p.raw, p.criteria
	st := State{
		Total:   len(p.raw),
		Loading: p.loading,
		Filter:  crit.Filter,
		Sort:    crit.Sort,
		Search:  crit.Search,
		Mode:    p.source.Mode,
	}
	if p.errMsg != nil {
		msg := *p.errMsg
		st.Error = &msg
	}
	p.mu.RUnlock()

	st.Tasks = tasks.Project(raw, crit, tasks.WithLocale(p.cfg.Locale))
	return st
}

// Raw returns the unfiltered collection in fetch/insertion order
func (p *Projector) Raw() []tasks.Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return tasks.Clone(p.raw)
}

// Err returns the current error message, if any
func (p *Projector) Err() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.errMsg == nil {
		return "", false
	}
	return *p.errMsg, true
}

// Loading reports whether a load is in flight
func (p *Projector) Loading() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loading
}

func (p *Projector) indexLocked(id string) int {
	return slices.IndexFunc(p.raw, func(t tasks.Task) bool { return t.ID == id })
}

func (p *Projector) setErrorLocked(prefix string, err error) {
	msg := fmt.Sprintf("%s: %v", prefix, err)
	p.errMsg = &msg
}

func (p *Projector) notify() {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.NewEvent(events.EventStateChanged, "projector", p.cfg.Name, nil))
}

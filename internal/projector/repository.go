package projector

import (
	"context"

	"github.com/taskboard/internal/tasks"
)

// Mode selects where the task collection comes from
type Mode string

const (
	ModeLocal  Mode = "local"  // in-memory seed data, no identity needed
	ModeRemote Mode = "remote" // authenticated document store
)

// ParseMode validates a raw mode value
func ParseMode(s string) (Mode, bool) {
	switch m := Mode(s); m {
	case ModeLocal, ModeRemote:
		return m, true
	}
	return "", false
}

// Snapshot is one delivery of a live subscription: either the owner's full
// task collection (newest first) or the failure that ended the fetch.
type Snapshot struct {
	Tasks []tasks.Task
	Err   error
}

// Repository is the remote task backend. Subscribe streams snapshots until ctx
// is cancelled, after which the channel is closed. Create stamps the task with
// the server's creation time.
type Repository interface {
	Subscribe(ctx context.Context, ownerID string) (<-chan Snapshot, error)
	Create(ctx context.Context, ownerID string, task tasks.Task) error
	UpdateStatus(ctx context.Context, ownerID, id string, status tasks.Status) error
	Remove(ctx context.Context, ownerID, id string) error
}

// Source binds the projector to a data source. OwnerID is empty when nobody is
// signed in.
type Source struct {
	Mode       Mode
	Repository Repository
	OwnerID    string
}

func (s Source) remote() bool {
	return s.Mode == ModeRemote && s.OwnerID != "" && s.Repository != nil
}

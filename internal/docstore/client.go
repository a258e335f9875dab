package docstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/taskboard/internal/auth"
	natsc "github.com/taskboard/internal/nats"
	"github.com/taskboard/internal/projector"
	"github.com/taskboard/internal/tasks"
)

// DefaultRequestTimeout bounds each request when none is configured
const DefaultRequestTimeout = 5 * time.Second

// Client talks to the document service. It remembers the token of the last
// successful sign-in and sends it with every task request.
type Client struct {
	nats    *natsc.Client
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.RWMutex
	token string
}

var (
	_ projector.Repository = (*Client)(nil)
	_ auth.Provider        = (*Client)(nil)
)

// NewClient creates a document service client
func NewClient(client *natsc.Client, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		nats:    client,
		timeout: timeout,
		logger:  logger.With().Str("component", "docstore-client").Logger(),
	}
}

// SignUp creates an account
func (c *Client) SignUp(ctx context.Context, email, password string) (auth.Identity, string, error) {
	return c.credentials(ctx, natsc.SubjectAuthSignUp, email, password)
}

// SignIn signs in an existing account
func (c *Client) SignIn(ctx context.Context, email, password string) (auth.Identity, string, error) {
	return c.credentials(ctx, natsc.SubjectAuthSignIn, email, password)
}

// SignOut ends the session server-side and forgets the token
func (c *Client) SignOut(ctx context.Context, token string) error {
	var resp natsc.Reply
	err := c.request(ctx, natsc.SubjectAuthSignOut, natsc.TokenRequest{Token: token}, &resp)
	if err == nil {
		err = decodeError(resp)
	}

	c.mu.Lock()
	if c.token == token {
		c.token = ""
	}
	c.mu.Unlock()
	return err
}

// Authenticate resolves a token and adopts it for task requests
func (c *Client) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	var resp natsc.AuthReply
	if err := c.request(ctx, natsc.SubjectAuthResolve, natsc.TokenRequest{Token: token}, &resp); err != nil {
		return auth.Identity{}, err
	}
	if err := decodeError(resp.Reply); err != nil {
		return auth.Identity{}, err
	}
	c.setToken(token)
	return auth.Identity{UID: resp.UID, Email: resp.Email}, nil
}

func (c *Client) credentials(ctx context.Context, subject, email, password string) (auth.Identity, string, error) {
	var resp natsc.AuthReply
	req := natsc.CredentialsRequest{Email: email, Password: password}
	if err := c.request(ctx, subject, req, &resp); err != nil {
		return auth.Identity{}, "", err
	}
	if err := decodeError(resp.Reply); err != nil {
		return auth.Identity{}, "", err
	}
	c.setToken(resp.Token)
	return auth.Identity{UID: resp.UID, Email: resp.Email}, resp.Token, nil
}

// Subscribe listens on the owner's snapshot subject, then fetches the current
// collection. Snapshots whose revision is not newer than the last delivered
// one are dropped.
func (c *Client) Subscribe(ctx context.Context, ownerID string) (<-chan projector.Snapshot, error) {
	token, err := c.currentToken()
	if err != nil {
		return nil, err
	}

	incoming := make(chan natsc.SnapshotMessage, 16)
	sub, err := c.nats.Subscribe(natsc.SnapshotSubject(ownerID), func(msg *natsc.Message) {
		var snap natsc.SnapshotMessage
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			c.logger.Warn().Err(err).Str("owner", ownerID).Msg("malformed snapshot")
			return
		}
		select {
		case incoming <- snap:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, err
	}
	if err := c.nats.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, err
	}

	out := make(chan projector.Snapshot)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		var last uint64
		deliver := func(snap natsc.SnapshotMessage) bool {
			if err := decodeError(snap.Reply); err != nil {
				return c.send(ctx, out, projector.Snapshot{Err: err})
			}
			if snap.Revision <= last {
				c.logger.Debug().Uint64("revision", snap.Revision).Uint64("last", last).Msg("dropping stale snapshot")
				return true
			}
			last = snap.Revision
			list := snap.Tasks
			if list == nil {
				list = []tasks.Task{}
			}
			return c.send(ctx, out, projector.Snapshot{Tasks: list})
		}

		var initial natsc.SnapshotMessage
		err := c.request(ctx, natsc.SubjectTasksList, natsc.ListRequest{Token: token, OwnerID: ownerID}, &initial)
		if err != nil {
			if !c.send(ctx, out, projector.Snapshot{Err: err}) {
				return
			}
		} else if !deliver(initial) {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-incoming:
				if !deliver(snap) {
					return
				}
			}
		}
	}()

	return out, nil
}

// Create stores a task; the service stamps its creation time
func (c *Client) Create(ctx context.Context, ownerID string, task tasks.Task) error {
	token, err := c.currentToken()
	if err != nil {
		return err
	}
	return c.mutate(ctx, natsc.SubjectTasksCreate, natsc.CreateRequest{Token: token, OwnerID: ownerID, Task: task})
}

// UpdateStatus changes a task's status
func (c *Client) UpdateStatus(ctx context.Context, ownerID, id string, status tasks.Status) error {
	token, err := c.currentToken()
	if err != nil {
		return err
	}
	return c.mutate(ctx, natsc.SubjectTasksUpdate, natsc.UpdateRequest{Token: token, OwnerID: ownerID, ID: id, Status: status})
}

// Remove deletes a task
func (c *Client) Remove(ctx context.Context, ownerID, id string) error {
	token, err := c.currentToken()
	if err != nil {
		return err
	}
	return c.mutate(ctx, natsc.SubjectTasksDelete, natsc.DeleteRequest{Token: token, OwnerID: ownerID, ID: id})
}

func (c *Client) mutate(ctx context.Context, subject string, req any) error {
	var resp natsc.Reply
	if err := c.request(ctx, subject, req, &resp); err != nil {
		return err
	}
	return decodeError(resp)
}

func (c *Client) request(ctx context.Context, subject string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.nats.RequestJSON(ctx, subject, req, resp)
}

func (c *Client) send(ctx context.Context, out chan<- projector.Snapshot, snap projector.Snapshot) bool {
	select {
	case out <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return "", auth.ErrUnauthenticated
	}
	return c.token, nil
}

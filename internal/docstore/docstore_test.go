package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskboard/internal/auth"
	"github.com/taskboard/internal/database"
	natsc "github.com/taskboard/internal/nats"
	"github.com/taskboard/internal/projector"
	"github.com/taskboard/internal/tasks"
)

type fixture struct {
	url     string
	service *Service
	tasks   *tasks.Store
}

func setup(t *testing.T) *fixture {
	t.Helper()

	ns, err := natsc.NewEmbeddedServer(natsc.EmbeddedServerConfig{Port: natsc.RandomPort})
	require.NoError(t, err)
	require.NoError(t, ns.Start())
	t.Cleanup(ns.Shutdown)

	db, err := database.Open(filepath.Join(t.TempDir(), "docstore.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	taskStore := tasks.NewStore(db)
	require.NoError(t, taskStore.Init())
	users := auth.NewStore(db, auth.WithHashCost(bcrypt.MinCost))
	require.NoError(t, users.Init())

	conn, err := natsc.NewClient(ns.URL(), "docstore-service", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	svc := NewService(conn, taskStore, users, zerolog.Nop())
	require.NoError(t, svc.Start())
	t.Cleanup(svc.Stop)

	return &fixture{url: ns.URL(), service: svc, tasks: taskStore}
}

func (f *fixture) client(t *testing.T) (*Client, *natsc.Client) {
	t.Helper()
	conn, err := natsc.NewClient(f.url, "docstore-client", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return NewClient(conn, 2*time.Second, zerolog.Nop()), conn
}

func nextSnapshot(t *testing.T, ch <-chan projector.Snapshot) projector.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed")
		return snap
	case <-time.After(3 * time.Second):
		t.Fatal("no snapshot delivered")
	}
	return projector.Snapshot{}
}

func TestService_StartTwice(t *testing.T) {
	f := setup(t)
	require.Error(t, f.service.Start())
}

func TestClient_AuthRoundTrip(t *testing.T) {
	f := setup(t)
	c, _ := f.client(t)
	ctx := context.Background()

	_, _, err := c.SignUp(ctx, "ada@example.com", "123")
	require.ErrorIs(t, err, auth.ErrWeakPassword)

	_, _, err = c.SignUp(ctx, "nope", "secret1")
	require.ErrorIs(t, err, auth.ErrInvalidEmail)

	id, token, err := c.SignUp(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.NotEmpty(t, token)

	_, _, err = c.SignUp(ctx, "ada@example.com", "secret1")
	require.ErrorIs(t, err, auth.ErrEmailInUse)

	_, _, err = c.SignIn(ctx, "ada@example.com", "wrong1")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	resolved, err := c.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, id, resolved)

	require.NoError(t, c.SignOut(ctx, token))
	_, err = c.Authenticate(ctx, token)
	require.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestClient_RequiresToken(t *testing.T) {
	f := setup(t)
	c, _ := f.client(t)
	ctx := context.Background()

	_, err := c.Subscribe(ctx, "u1")
	require.ErrorIs(t, err, auth.ErrUnauthenticated)

	task, _ := tasks.NewTask("x", "")
	require.ErrorIs(t, c.Create(ctx, "u1", task), auth.ErrUnauthenticated)
}

func TestClient_SubscribeAndMutate(t *testing.T) {
	f := setup(t)
	c, _ := f.client(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, _, err := c.SignUp(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	ch, err := c.Subscribe(ctx, id.UID)
	require.NoError(t, err)

	first := nextSnapshot(t, ch)
	require.NoError(t, first.Err)
	assert.Empty(t, first.Tasks)

	a, _ := tasks.NewTask("first", "2025-12-01")
	require.NoError(t, c.Create(ctx, id.UID, a))
	snap := nextSnapshot(t, ch)
	require.Len(t, snap.Tasks, 1)
	assert.Equal(t, a.ID, snap.Tasks[0].ID)
	assert.Equal(t, "2025-12-01", snap.Tasks[0].DueDate)
	assert.False(t, snap.Tasks[0].CreatedAt.IsZero())

	b, _ := tasks.NewTask("second", "")
	require.NoError(t, c.Create(ctx, id.UID, b))
	snap = nextSnapshot(t, ch)
	assert.Equal(t, []string{b.ID, a.ID}, []string{snap.Tasks[0].ID, snap.Tasks[1].ID})

	require.NoError(t, c.UpdateStatus(ctx, id.UID, a.ID, tasks.StatusDone))
	snap = nextSnapshot(t, ch)
	assert.Equal(t, tasks.StatusDone, snap.Tasks[1].Status)

	require.NoError(t, c.Remove(ctx, id.UID, b.ID))
	snap = nextSnapshot(t, ch)
	require.Len(t, snap.Tasks, 1)

	err = c.Remove(ctx, id.UID, "missing")
	require.ErrorIs(t, err, tasks.ErrNotFound)

	err = c.UpdateStatus(ctx, id.UID, a.ID, tasks.Status("archived"))
	require.ErrorIs(t, err, tasks.ErrInvalidStatus)

	stored, err := f.tasks.ListByOwner(id.UID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestClient_CreateRejectsBlankTitle(t *testing.T) {
	f := setup(t)
	c, _ := f.client(t)
	ctx := context.Background()

	id, _, err := c.SignUp(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	err = c.Create(ctx, id.UID, tasks.Task{ID: "x", Title: "   ", Status: tasks.StatusTodo})
	require.ErrorIs(t, err, tasks.ErrEmptyTitle)
}

func TestClient_OtherOwnerIsDenied(t *testing.T) {
	f := setup(t)
	alice, _ := f.client(t)
	bob, _ := f.client(t)
	ctx := context.Background()

	aliceID, _, err := alice.SignUp(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	_, _, err = bob.SignUp(ctx, "bob@example.com", "secret1")
	require.NoError(t, err)

	task, _ := tasks.NewTask("sneaky", "")
	err = bob.Create(ctx, aliceID.UID, task)
	require.ErrorIs(t, err, ErrPermissionDenied)

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := bob.Subscribe(subCtx, aliceID.UID)
	require.NoError(t, err)
	snap := nextSnapshot(t, ch)
	require.ErrorIs(t, snap.Err, ErrPermissionDenied)
}

func TestClient_DropsStaleRevisions(t *testing.T) {
	f := setup(t)
	c, conn := f.client(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id, _, err := c.SignUp(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	ch, err := c.Subscribe(ctx, id.UID)
	require.NoError(t, err)
	nextSnapshot(t, ch)

	stale := natsc.SnapshotMessage{
		Reply:    natsc.Reply{OK: true},
		OwnerID:  id.UID,
		Revision: 1,
		Tasks:    tasks.SeedTasks(),
	}
	require.NoError(t, conn.PublishJSON(natsc.SnapshotSubject(id.UID), stale))

	fresh := stale
	fresh.Revision = uint64(time.Now().Add(time.Hour).UnixNano())
	fresh.Tasks = tasks.SeedTasks()[:1]
	require.NoError(t, conn.PublishJSON(natsc.SnapshotSubject(id.UID), fresh))

	snap := nextSnapshot(t, ch)
	require.Len(t, snap.Tasks, 1, "revision 1 must have been dropped")
}

func TestClient_CancelClosesSubscription(t *testing.T) {
	f := setup(t)
	c, _ := f.client(t)
	ctx, cancel := context.WithCancel(context.Background())

	id, _, err := c.SignUp(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	ch, err := c.Subscribe(ctx, id.UID)
	require.NoError(t, err)
	nextSnapshot(t, ch)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProjectorOverDocstore(t *testing.T) {
	f := setup(t)
	c, _ := f.client(t)
	ctx := context.Background()

	id, _, err := c.SignUp(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)

	p := projector.New(projector.Config{Name: "e2e"}, nil, zerolog.Nop())
	defer p.Close()

	p.Load(ctx, projector.Source{Mode: projector.ModeRemote, Repository: c, OwnerID: id.UID})
	require.Eventually(t, func() bool { return !p.Loading() }, 3*time.Second, 10*time.Millisecond)

	p.AddTask(ctx, "remote task", "")
	require.Eventually(t, func() bool { return len(p.Raw()) == 1 }, 3*time.Second, 10*time.Millisecond)

	taskID := p.Raw()[0].ID
	p.UpdateStatus(ctx, taskID, tasks.StatusDoing)
	require.Eventually(t, func() bool {
		raw := p.Raw()
		return len(raw) == 1 && raw[0].Status == tasks.StatusDoing
	}, 3*time.Second, 10*time.Millisecond)

	p.RemoveTask(ctx, taskID)
	require.Eventually(t, func() bool { return len(p.Raw()) == 0 }, 3*time.Second, 10*time.Millisecond)

	_, hasErr := p.Err()
	assert.False(t, hasErr)
}

func TestErrorEnvelope(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{auth.ErrUnauthenticated, natsc.CodeUnauthenticated},
		{ErrPermissionDenied, natsc.CodePermissionDenied},
		{tasks.ErrNotFound, natsc.CodeNotFound},
		{auth.ErrWeakPassword, natsc.CodeInvalidArgument},
		{errors.New("disk on fire"), natsc.CodeInternal},
	}
	for _, tc := range cases {
		r := errorReply(tc.err)
		assert.False(t, r.OK)
		assert.Equal(t, tc.code, r.Code, tc.err.Error())
	}

	r := errorReply(errors.New("disk on fire"))
	assert.Equal(t, ErrInternal.Error(), r.Error, "internal details are not echoed")
	require.ErrorIs(t, decodeError(r), ErrInternal)

	require.NoError(t, decodeError(natsc.Reply{OK: true}))
	require.ErrorIs(t, decodeError(natsc.Reply{Error: "bad field", Code: natsc.CodeInvalidArgument}), ErrInvalidArgument)
}

package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskboard/internal/auth"
	"github.com/taskboard/internal/database"
	"github.com/taskboard/internal/events"
	"github.com/taskboard/internal/memstore"
	"github.com/taskboard/internal/persistence"
	"github.com/taskboard/internal/projector"
	"github.com/taskboard/internal/tasks"
)

const waitFor = 2 * time.Second

func newApp(t *testing.T, mode projector.Mode) (*App, *memstore.Store, *auth.Store) {
	t.Helper()

	db, err := database.Open(database.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := auth.NewStore(db, auth.WithHashCost(bcrypt.MinCost))
	require.NoError(t, users.Init())

	repo := memstore.New()
	app := New(Config{Name: "test", Mode: mode}, users, repo, nil, zerolog.Nop())
	t.Cleanup(app.Close)
	return app, repo, users
}

func TestApp_LocalStart(t *testing.T) {
	app, _, _ := newApp(t, projector.ModeLocal)
	app.Start(context.Background(), "")

	st := app.State()
	assert.Equal(t, ScreenBoard, st.Screen)
	assert.Equal(t, projector.ModeLocal, st.Mode)
	assert.False(t, st.AuthLoading)
	assert.Nil(t, st.Identity)
	assert.Len(t, st.Tasks, 3)
}

func TestApp_CheckingAuthBeforeResolve(t *testing.T) {
	app, _, _ := newApp(t, projector.ModeRemote)
	assert.Equal(t, ScreenCheckingAuth, app.State().Screen)

	app.Start(context.Background(), "")
	st := app.State()
	assert.Equal(t, ScreenSignIn, st.Screen)
	assert.Empty(t, st.Tasks)
	assert.False(t, st.Loading)
}

func TestApp_RemoteFollowsIdentity(t *testing.T) {
	app, repo, _ := newApp(t, projector.ModeRemote)
	ctx := context.Background()
	app.Start(ctx, "")

	require.NoError(t, app.SignUp(ctx, "ada@example.com", "secret1"))
	st := app.State()
	require.NotNil(t, st.Identity)
	assert.Equal(t, ScreenBoard, st.Screen)
	uid := st.Identity.UID

	require.Eventually(t, func() bool { return repo.Subscribers(uid) == 1 }, waitFor, 5*time.Millisecond)

	app.Projector().AddTask(ctx, "remote", "")
	require.Eventually(t, func() bool { return len(app.State().Tasks) == 1 }, waitFor, 5*time.Millisecond)
	assert.Len(t, repo.Snapshot(uid), 1)

	require.NoError(t, app.SignOut(ctx))
	require.Eventually(t, func() bool { return repo.Subscribers(uid) == 0 }, waitFor, 5*time.Millisecond)
	st = app.State()
	assert.Equal(t, ScreenSignIn, st.Screen)
	assert.Empty(t, st.Tasks)
}

func TestApp_ToggleModeClearsError(t *testing.T) {
	app, _, _ := newApp(t, projector.ModeLocal)
	ctx := context.Background()
	app.Start(ctx, "")

	app.Projector().SimulateError()
	require.NotNil(t, app.State().Error)

	assert.Equal(t, projector.ModeRemote, app.ToggleMode(ctx))
	st := app.State()
	assert.Nil(t, st.Error)
	assert.Equal(t, projector.ModeRemote, st.Mode)
	assert.Empty(t, st.Tasks)

	assert.Equal(t, projector.ModeLocal, app.ToggleMode(ctx))
	assert.Len(t, app.State().Tasks, 3)
}

func TestApp_IdentityChangeInLocalModeKeepsTasks(t *testing.T) {
	app, _, _ := newApp(t, projector.ModeLocal)
	ctx := context.Background()
	app.Start(ctx, "")

	app.Projector().AddTask(ctx, "mine", "")
	require.Len(t, app.State().Tasks, 4)

	require.NoError(t, app.SignUp(ctx, "ada@example.com", "secret1"))
	assert.Len(t, app.State().Tasks, 4, "local collection is not reloaded on sign-in")
}

func TestApp_AuthErrorsAreKept(t *testing.T) {
	app, _, _ := newApp(t, projector.ModeRemote)
	ctx := context.Background()
	app.Start(ctx, "")

	err := app.SignIn(ctx, "ada@example.com", "secret1")
	require.ErrorIs(t, err, auth.ErrInvalidCredentials)

	st := app.State()
	require.NotNil(t, st.AuthError)
	assert.Equal(t, auth.ErrInvalidCredentials.Error(), *st.AuthError)

	require.NoError(t, app.SignUp(ctx, "ada@example.com", "secret1"))
	assert.Nil(t, app.State().AuthError)
}

func TestApp_StartWithStoredToken(t *testing.T) {
	app, repo, users := newApp(t, projector.ModeRemote)
	ctx := context.Background()

	id, token, err := users.SignUp(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	repo.Put(id.UID, tasks.SeedTasks())

	app.Start(ctx, token)
	assert.Equal(t, token, app.Token())
	require.Eventually(t, func() bool { return len(app.State().Tasks) == 3 }, waitFor, 5*time.Millisecond)
}

func TestApp_SetModeRejectsUnknown(t *testing.T) {
	app, _, _ := newApp(t, projector.ModeLocal)
	require.Error(t, app.SetMode(context.Background(), projector.Mode("cloud")))
}

func TestApp_PublishesEvents(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test", []events.EventType{events.EventSourceChanged, events.EventAuthChanged})
	defer bus.Unsubscribe("test", ch)

	db, err := database.Open(database.MemoryPath)
	require.NoError(t, err)
	defer db.Close()
	users := auth.NewStore(db, auth.WithHashCost(bcrypt.MinCost))
	require.NoError(t, users.Init())

	app := New(Config{Name: "test"}, users, memstore.New(), bus, zerolog.Nop())
	defer app.Close()

	ctx := context.Background()
	app.Start(ctx, "")
	app.ToggleMode(ctx)

	var seen []events.EventType
	timeout := time.After(waitFor)
	for len(seen) < 2 {
		select {
		case ev := <-ch:
			seen = append(seen, ev.Type)
		case <-timeout:
			t.Fatalf("saw only %v", seen)
		}
	}
	assert.Contains(t, seen, events.EventAuthChanged)
	assert.Contains(t, seen, events.EventSourceChanged)
}

func TestApp_RestorePreferences(t *testing.T) {
	app, repo, users := newApp(t, projector.ModeLocal)
	ctx := context.Background()

	id, token, err := users.SignUp(ctx, "ada@example.com", "secret1")
	require.NoError(t, err)
	repo.Put(id.UID, tasks.SeedTasks())

	app.Restore(ctx, persistence.Preferences{
		Mode:     "remote",
		Token:    token,
		Criteria: tasks.Criteria{Filter: tasks.Filter(tasks.StatusDone), Sort: tasks.SortTitleAsc, Search: "milk"},
	})

	st := app.State()
	assert.Equal(t, projector.ModeRemote, st.Mode)
	assert.Equal(t, tasks.Filter(tasks.StatusDone), st.Filter)
	assert.Equal(t, tasks.SortTitleAsc, st.Sort)
	assert.Equal(t, "milk", st.Search)

	prefs := app.Preferences()
	assert.Equal(t, "remote", prefs.Mode)
	assert.Equal(t, token, prefs.Token)
	assert.Equal(t, "milk", prefs.Criteria.Search)
}

func TestApp_RestoreIgnoresInvalidValues(t *testing.T) {
	app, _, _ := newApp(t, projector.ModeLocal)

	app.Restore(context.Background(), persistence.Preferences{
		Mode:     "cloud",
		Criteria: tasks.Criteria{Filter: "archived", Sort: "random"},
	})

	st := app.State()
	assert.Equal(t, projector.ModeLocal, st.Mode)
	assert.Equal(t, tasks.FilterAll, st.Filter)
	assert.Equal(t, tasks.SortNone, st.Sort)
	assert.Len(t, st.Tasks, 3)
}

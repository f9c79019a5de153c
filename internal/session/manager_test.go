package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wahub/internal/infra/config"
	"wahub/internal/store"
)

// stubHandler stands in for the whatsmeow client.
type stubHandler struct {
	mu          sync.Mutex
	connected   bool
	closed      bool
	failInit    bool
	stuckHealth bool
	initStarted chan struct{}
	initBlock   chan struct{}
}

func (h *stubHandler) Init(ctx context.Context) error {
	if h.initStarted != nil {
		close(h.initStarted)
	}
	if h.initBlock != nil {
		<-h.initBlock
	}
	if h.failInit {
		return errors.New("init failed")
	}
	h.mu.Lock()
	h.connected = true
	h.mu.Unlock()
	return nil
}

func (h *stubHandler) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *stubHandler) LoggedIn() bool { return true }

func (h *stubHandler) SendText(ctx context.Context, to, text string) (string, error) {
	return "stub-msg-id", nil
}

func (h *stubHandler) SendPresence(ctx context.Context, state string) error { return nil }

func (h *stubHandler) MarkRead(ctx context.Context, chatJID string, messageIDs []string) error {
	return nil
}

func (h *stubHandler) Healthy(ctx context.Context) error {
	if h.stuckHealth {
		<-ctx.Done()
		return ctx.Err()
	}
	if !h.Connected() {
		return errors.New("disconnected")
	}
	return nil
}

func (h *stubHandler) Logout(ctx context.Context) error { return nil }

func (h *stubHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = false
	h.closed = true
	return nil
}

func stubFactory(ctx context.Context, sessionID string) (Handler, error) {
	return &stubHandler{}, nil
}

func newTestManager(t *testing.T, cfg *config.Config, factory Factory) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "wahub.db"), 128, waLog.Noop)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if cfg == nil {
		cfg = config.Default()
	}
	if factory == nil {
		factory = stubFactory
	}
	return NewManager(cfg, st, factory, waLog.Noop), st
}

func seedUser(t *testing.T, st *store.Store, username string) {
	t.Helper()
	_, err := store.NewUserStore(st).Create(context.Background(), username, "secret", store.RoleUser)
	require.NoError(t, err)
}

func TestCreatePersistsSessionAndOwner(t *testing.T) {
	m, st := newTestManager(t, nil, nil)
	ctx := context.Background()
	seedUser(t, st, "alice")

	info, err := m.Create(ctx, "alice", "")
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "alice", info.Owner)
	assert.True(t, info.Connected)

	rec, err := store.NewSessionStore(st).Get(ctx, info.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)

	owner, err := store.NewSessionStore(st).OwnerOf(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)

	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 1, m.CountForUser("alice"))
}

func TestCreateRejectsDuplicateID(t *testing.T) {
	m, st := newTestManager(t, nil, nil)
	ctx := context.Background()
	seedUser(t, st, "alice")

	_, err := m.Create(ctx, "alice", "fixed-id")
	require.NoError(t, err)

	_, err = m.Create(ctx, "alice", "fixed-id")
	assert.ErrorIs(t, err, ErrSessionExists)
}

func TestPerUserLimit(t *testing.T) {
	cfg := config.Default()
	cfg.MaxSessionsPerUser = 5
	m, st := newTestManager(t, cfg, nil)
	ctx := context.Background()
	seedUser(t, st, "alice")
	seedUser(t, st, "bob")

	for i := 0; i < 5; i++ {
		_, err := m.Create(ctx, "alice", fmt.Sprintf("alice-%d", i))
		require.NoError(t, err)
	}

	_, err := m.Create(ctx, "alice", "alice-overflow")
	assert.ErrorIs(t, err, ErrUserSessionLimit)

	// Another user is unaffected.
	_, err = m.Create(ctx, "bob", "bob-0")
	assert.NoError(t, err)
}

func TestPerUserOverride(t *testing.T) {
	cfg := config.Default()
	cfg.MaxSessionsPerUser = 5
	m, st := newTestManager(t, cfg, nil)
	ctx := context.Background()

	users := store.NewUserStore(st)
	u, err := users.Create(ctx, "carol", "secret", store.RoleUser)
	require.NoError(t, err)
	u.MaxSessions = 2
	require.NoError(t, users.Put(ctx, u))

	_, err = m.Create(ctx, "carol", "c-0")
	require.NoError(t, err)
	_, err = m.Create(ctx, "carol", "c-1")
	require.NoError(t, err)
	_, err = m.Create(ctx, "carol", "c-2")
	assert.ErrorIs(t, err, ErrUserSessionLimit)
}

func TestGlobalLimit(t *testing.T) {
	cfg := config.Default()
	cfg.MaxSessions = 2
	cfg.MaxSessionsPerUser = 5
	m, st := newTestManager(t, cfg, nil)
	ctx := context.Background()
	seedUser(t, st, "alice")
	seedUser(t, st, "bob")

	_, err := m.Create(ctx, "alice", "s-0")
	require.NoError(t, err)
	_, err = m.Create(ctx, "bob", "s-1")
	require.NoError(t, err)

	_, err = m.Create(ctx, "alice", "s-2")
	assert.ErrorIs(t, err, ErrSessionLimit)
}

func TestConcurrentCreatesRespectLimit(t *testing.T) {
	cfg := config.Default()
	cfg.MaxSessionsPerUser = 5
	m, st := newTestManager(t, cfg, nil)
	seedUser(t, st, "alice")

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Create(context.Background(), "alice", fmt.Sprintf("conc-%d", i))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrUserSessionLimit)
		}
	}
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, m.CountForUser("alice"))
}

func TestRemoveFreesSlotAndRows(t *testing.T) {
	cfg := config.Default()
	cfg.MaxSessionsPerUser = 1
	m, st := newTestManager(t, cfg, nil)
	ctx := context.Background()
	seedUser(t, st, "alice")

	info, err := m.Create(ctx, "alice", "")
	require.NoError(t, err)

	handler, err := m.Get(info.ID)
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, info.ID))
	assert.True(t, handler.(*stubHandler).closed)
	assert.Equal(t, 0, m.Count())

	rec, err := store.NewSessionStore(st).Get(ctx, info.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)

	// The freed slot is usable again.
	_, err = m.Create(ctx, "alice", "")
	assert.NoError(t, err)

	err = m.Remove(ctx, "never-existed")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCreateRejectsUnknownUser(t *testing.T) {
	m, _ := newTestManager(t, nil, nil)

	info, err := m.Create(context.Background(), "nobody", "")
	assert.Nil(t, info)
	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.Equal(t, 0, m.Count())
}

func TestCreateRacingRemoveReturnsNotFound(t *testing.T) {
	started := make(chan struct{})
	blocked := make(chan struct{})
	var raced *stubHandler
	factory := func(ctx context.Context, sessionID string) (Handler, error) {
		raced = &stubHandler{initStarted: started, initBlock: blocked}
		return raced, nil
	}
	m, st := newTestManager(t, nil, factory)
	ctx := context.Background()
	seedUser(t, st, "alice")

	type result struct {
		info *Info
		err  error
	}
	done := make(chan result, 1)
	go func() {
		info, err := m.Create(ctx, "alice", "raced")
		done <- result{info, err}
	}()

	// Remove the session while its handler is still initializing.
	<-started
	require.NoError(t, m.Remove(ctx, "raced"))
	close(blocked)

	res := <-done
	assert.Nil(t, res.info)
	assert.ErrorIs(t, res.err, ErrSessionNotFound)
	assert.True(t, raced.closed)
	assert.Equal(t, 0, m.Count())

	rec, err := store.NewSessionStore(st).Get(ctx, "raced")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestInitFailureReleasesSlot(t *testing.T) {
	cfg := config.Default()
	cfg.MaxSessionsPerUser = 1
	factory := func(ctx context.Context, sessionID string) (Handler, error) {
		return &stubHandler{failInit: true}, nil
	}
	m, st := newTestManager(t, cfg, factory)
	ctx := context.Background()
	seedUser(t, st, "alice")

	_, err := m.Create(ctx, "alice", "broken")
	require.Error(t, err)
	assert.Equal(t, 0, m.Count())

	// No orphaned row survives the failed create.
	rec, err := store.NewSessionStore(st).Get(ctx, "broken")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRestore(t *testing.T) {
	m, st := newTestManager(t, nil, nil)
	ctx := context.Background()
	seedUser(t, st, "alice")

	info, err := m.Create(ctx, "alice", "restored-0")
	require.NoError(t, err)
	m.CloseAll()
	assert.Equal(t, 0, m.Count())

	m2 := NewManager(config.Default(), st, stubFactory, waLog.Noop)
	require.NoError(t, m2.Restore(ctx))
	assert.Equal(t, 1, m2.Count())

	handler, err := m2.Get(info.ID)
	require.NoError(t, err)
	assert.True(t, handler.Connected())
}

func TestHealthCheckTimesOutStuckHandler(t *testing.T) {
	handlers := map[string]*stubHandler{}
	factory := func(ctx context.Context, sessionID string) (Handler, error) {
		h := &stubHandler{stuckHealth: sessionID == "stuck"}
		handlers[sessionID] = h
		return h, nil
	}
	m, st := newTestManager(t, nil, factory)
	ctx := context.Background()
	seedUser(t, st, "alice")

	_, err := m.Create(ctx, "alice", "healthy")
	require.NoError(t, err)
	_, err = m.Create(ctx, "alice", "stuck")
	require.NoError(t, err)

	results := m.HealthCheck(ctx, 50*time.Millisecond)
	require.Len(t, results, 2)
	assert.NoError(t, results["healthy"])
	assert.ErrorIs(t, results["stuck"], context.DeadlineExceeded)
}

func TestCloseAll(t *testing.T) {
	m, st := newTestManager(t, nil, nil)
	ctx := context.Background()
	seedUser(t, st, "alice")

	var handlers []Handler
	for i := 0; i < 3; i++ {
		info, err := m.Create(ctx, "alice", fmt.Sprintf("s-%d", i))
		require.NoError(t, err)
		h, err := m.Get(info.ID)
		require.NoError(t, err)
		handlers = append(handlers, h)
	}

	m.CloseAll()
	assert.Equal(t, 0, m.Count())
	for _, h := range handlers {
		assert.True(t, h.(*stubHandler).closed)
	}
}

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wahub/internal/infra/config"
	"wahub/internal/store"
)

// Info is a point-in-time view of one live session.
type Info struct {
	ID        string `json:"id"`
	Owner     string `json:"owner"`
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	LoggedIn  bool   `json:"logged_in"`
	// QRCode is the current pairing code (base64 PNG), empty once paired.
	QRCode string `json:"qr_code,omitempty"`
}

type managed struct {
	id      string
	owner   string
	handler Handler
}

// Manager owns the live session set. Capacity checks and slot
// reservation happen atomically under the mutex before any I/O, so
// concurrent creates can never overshoot a limit.
type Manager struct {
	cfg     *config.Config
	store   *store.Store
	users   *store.UserStore
	records *store.SessionStore
	factory Factory
	log     waLog.Logger

	mu       sync.Mutex
	sessions map[string]*managed
	byUser   map[string]map[string]bool
}

// NewManager creates a session manager. A nil factory defaults to the
// whatsmeow-backed client.
func NewManager(cfg *config.Config, st *store.Store, factory Factory, log waLog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		store:    st,
		users:    store.NewUserStore(st),
		records:  store.NewSessionStore(st),
		factory:  factory,
		log:      log.Sub("Sessions"),
		sessions: make(map[string]*managed),
		byUser:   make(map[string]map[string]bool),
	}
	if m.factory == nil {
		m.factory = func(ctx context.Context, sessionID string) (Handler, error) {
			return NewClient(ctx, st, sessionID, log)
		}
	}
	return m
}

// Create provisions a new session for a user. An empty id gets a
// generated one. The new handler's Init runs before Create returns; on
// any failure the reserved slot and persisted rows are released.
func (m *Manager) Create(ctx context.Context, username, id string) (*Info, error) {
	if id == "" {
		id = uuid.New().String()
	}

	userLimit, err := m.userLimit(ctx, username)
	if err != nil {
		return nil, err
	}

	// Reserve the slot before any I/O.
	m.mu.Lock()
	if _, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrSessionLimit
	}
	if len(m.byUser[username]) >= userLimit {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s has %d sessions", ErrUserSessionLimit, username, len(m.byUser[username]))
	}
	m.sessions[id] = &managed{id: id, owner: username}
	if m.byUser[username] == nil {
		m.byUser[username] = make(map[string]bool)
	}
	m.byUser[username][id] = true
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.sessions, id)
		delete(m.byUser[username], id)
		if len(m.byUser[username]) == 0 {
			delete(m.byUser, username)
		}
		m.mu.Unlock()
	}

	exists, err := m.records.Exists(ctx, id)
	if err != nil {
		release()
		return nil, err
	}
	if exists {
		release()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	if err := m.records.Put(ctx, &store.Session{ID: id, LastSeen: time.Now()}); err != nil {
		release()
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	if err := m.records.LinkUser(ctx, username, id); err != nil {
		m.records.Delete(ctx, id)
		release()
		return nil, fmt.Errorf("failed to link session owner: %w", err)
	}

	handler, err := m.factory(ctx, id)
	if err != nil {
		m.records.Delete(ctx, id)
		release()
		return nil, fmt.Errorf("failed to create session handler: %w", err)
	}
	if err := handler.Init(ctx); err != nil {
		handler.Close()
		m.records.Delete(ctx, id)
		release()
		return nil, fmt.Errorf("failed to initialize session: %w", err)
	}

	m.mu.Lock()
	s, attached := m.sessions[id]
	if attached {
		s.handler = handler
	}
	m.mu.Unlock()
	if !attached {
		// Removed while initializing. The rows are already gone, so the
		// caller gets a not-found instead of a half-built session.
		handler.Close()
		return nil, fmt.Errorf("%w: removed during create: %s", ErrSessionNotFound, id)
	}

	m.store.Events().Publish(store.Event{
		Kind:      store.EventLifecycle,
		SessionID: id,
		Payload:   store.Lifecycle{SessionID: id, State: "created"},
	})
	m.log.Infof("Created session %s for %s", id, username)
	return m.info(id), nil
}

// userLimit resolves a user's cap: the per-user override if set,
// otherwise the configured default.
func (m *Manager) userLimit(ctx context.Context, username string) (int, error) {
	user, err := m.users.Get(ctx, username)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	if user.MaxSessions > 0 {
		return user.MaxSessions, nil
	}
	return m.cfg.MaxSessionsPerUser, nil
}

// Get returns the handler of a live session.
func (m *Manager) Get(id string) (Handler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.handler, nil
}

// Owner returns the username owning a live session.
func (m *Manager) Owner(id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s.owner, nil
}

// UserSessions returns the live session ids of one user.
func (m *Manager) UserSessions(username string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.byUser[username]))
	for id := range m.byUser[username] {
		ids = append(ids, id)
	}
	return ids
}

// CountForUser returns how many live sessions a user has.
func (m *Manager) CountForUser(username string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byUser[username])
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// List returns a view of every live session.
func (m *Manager) List(ctx context.Context) []*Info {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	infos := make([]*Info, 0, len(ids))
	for _, id := range ids {
		if info := m.info(id); info != nil {
			infos = append(infos, info)
		}
	}
	return infos
}

func (m *Manager) info(id string) *Info {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	info := &Info{ID: s.id, Owner: s.owner}
	if s.handler != nil {
		info.Connected = s.handler.Connected()
		info.LoggedIn = s.handler.LoggedIn()
	}
	if rec, err := m.records.Get(context.Background(), id); err == nil && rec != nil {
		info.Status = rec.Status
		if !rec.LoggedIn {
			info.QRCode = rec.QRCode
		}
	}
	return info
}

// Remove tears a session down and deletes its rows. The slot frees up
// even when the handler refuses to close cleanly.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(m.sessions, id)
	delete(m.byUser[s.owner], id)
	if len(m.byUser[s.owner]) == 0 {
		delete(m.byUser, s.owner)
	}
	m.mu.Unlock()

	if s.handler != nil {
		if err := s.handler.Close(); err != nil {
			m.log.Warnf("Failed to close handler for %s: %v", id, err)
		}
	}
	if err := m.records.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session rows: %w", err)
	}

	m.store.Events().Publish(store.Event{
		Kind:      store.EventLifecycle,
		SessionID: id,
		Payload:   store.Lifecycle{SessionID: id, State: "removed"},
	})
	m.log.Infof("Removed session %s", id)
	return nil
}

// HealthCheck probes every live handler. Each probe runs in its own
// goroutine under a per-session timeout so one stuck handler cannot
// block the sweep. The result maps session id to probe error (nil =
// healthy).
func (m *Manager) HealthCheck(ctx context.Context, timeout time.Duration) map[string]error {
	m.mu.Lock()
	handlers := make(map[string]Handler, len(m.sessions))
	for id, s := range m.sessions {
		if s.handler != nil {
			handlers[id] = s.handler
		}
	}
	m.mu.Unlock()

	results := make(map[string]error, len(handlers))
	for id, h := range handlers {
		hctx, cancel := context.WithTimeout(ctx, timeout)
		done := make(chan error, 1)
		go func(h Handler) { done <- h.Healthy(hctx) }(h)
		select {
		case err := <-done:
			results[id] = err
		case <-hctx.Done():
			results[id] = fmt.Errorf("health probe timed out: %w", hctx.Err())
		}
		cancel()
	}
	return results
}

// Restore brings persisted sessions back to life after a restart. Rows
// that fail to restore stay in the database for a later retry.
func (m *Manager) Restore(ctx context.Context) error {
	records, err := m.records.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.Status == store.SessionClosed {
			continue
		}
		owner, err := m.records.OwnerOf(ctx, rec.ID)
		if err != nil {
			m.log.Warnf("Failed to resolve owner of %s: %v", rec.ID, err)
			continue
		}

		m.mu.Lock()
		if len(m.sessions) >= m.cfg.MaxSessions {
			m.mu.Unlock()
			m.log.Warnf("Global session limit reached during restore, %s stays offline", rec.ID)
			continue
		}
		m.sessions[rec.ID] = &managed{id: rec.ID, owner: owner}
		if m.byUser[owner] == nil {
			m.byUser[owner] = make(map[string]bool)
		}
		m.byUser[owner][rec.ID] = true
		m.mu.Unlock()

		handler, err := m.factory(ctx, rec.ID)
		if err == nil {
			err = handler.Init(ctx)
		}
		if err != nil {
			m.log.Warnf("Failed to restore session %s: %v", rec.ID, err)
			m.mu.Lock()
			delete(m.sessions, rec.ID)
			delete(m.byUser[owner], rec.ID)
			if len(m.byUser[owner]) == 0 {
				delete(m.byUser, owner)
			}
			m.mu.Unlock()
			continue
		}

		m.mu.Lock()
		s, attached := m.sessions[rec.ID]
		if attached {
			s.handler = handler
		}
		m.mu.Unlock()
		if !attached {
			handler.Close()
			continue
		}
		m.log.Infof("Restored session %s for %s", rec.ID, owner)
	}
	return nil
}

// CloseAll disconnects every live session without deleting rows.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	handlers := make([]*managed, 0, len(m.sessions))
	for _, s := range m.sessions {
		handlers = append(handlers, s)
	}
	m.sessions = make(map[string]*managed)
	m.byUser = make(map[string]map[string]bool)
	m.mu.Unlock()

	for _, s := range handlers {
		if s.handler == nil {
			continue
		}
		if err := s.handler.Close(); err != nil {
			m.log.Warnf("Failed to close session %s: %v", s.id, err)
		}
	}
}

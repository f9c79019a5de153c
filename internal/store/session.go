package store

import (
	"context"
	"time"
)

// Session connection states.
const (
	SessionInitializing = "initializing"
	SessionConnected    = "connected"
	SessionDisconnected = "disconnected"
	SessionClosed       = "closed"
)

// Session represents one protocol session row.
type Session struct {
	ID        string
	DeviceJID string
	Platform  string
	Status    string
	LoggedIn  bool
	QRCode    string
	LastSeen  time.Time
}

// SessionStore handles session rows and user ownership.
type SessionStore struct {
	store *Store
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(s *Store) *SessionStore {
	return &SessionStore{store: s}
}

// Put stores or updates a session.
func (s *SessionStore) Put(ctx context.Context, sess *Session) error {
	if sess.Status == "" {
		sess.Status = SessionInitializing
	}
	return s.store.Upsert(ctx, TableSessions, "", Row{
		"id":         sess.ID,
		"device_jid": nullString(sess.DeviceJID),
		"platform":   nullString(sess.Platform),
		"status":     sess.Status,
		"logged_in":  sess.LoggedIn,
		"qr_code":    nullString(sess.QRCode),
		"last_seen":  sess.LastSeen,
	})
}

// Get retrieves a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	row, err := s.store.Get(ctx, TableSessions, "", Row{"id": id}, true)
	if err != nil || row == nil {
		return nil, err
	}
	return sessionFromRow(row), nil
}

// Exists reports whether a session row exists.
func (s *SessionStore) Exists(ctx context.Context, id string) (bool, error) {
	return s.store.Exists(ctx, TableSessions, "", Row{"id": id})
}

// List returns all sessions.
func (s *SessionStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.store.List(ctx, TableSessions, "", "", nil, false)
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, len(rows))
	for i, row := range rows {
		sessions[i] = sessionFromRow(row)
	}
	return sessions, nil
}

// SetStatus updates the connection state and last-seen time and emits a
// lifecycle event.
func (s *SessionStore) SetStatus(ctx context.Context, id, status, reason string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}
	sess.Status = status
	sess.LastSeen = time.Now()
	if err := s.Put(ctx, sess); err != nil {
		return err
	}
	s.store.bus.Publish(Event{
		Kind:      EventLifecycle,
		SessionID: id,
		Payload:   Lifecycle{SessionID: id, State: status, Reason: reason},
	})
	return nil
}

// SetLoggedIn records a successful pairing: device JID, platform, and the
// cleared QR code.
func (s *SessionStore) SetLoggedIn(ctx context.Context, id, deviceJID, platform string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}
	sess.DeviceJID = deviceJID
	sess.Platform = platform
	sess.LoggedIn = true
	sess.QRCode = ""
	sess.LastSeen = time.Now()
	return s.Put(ctx, sess)
}

// SetQRCode stores the current pairing code.
func (s *SessionStore) SetQRCode(ctx context.Context, id, code string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}
	sess.QRCode = code
	return s.Put(ctx, sess)
}

// Delete hard-deletes a session; session-scoped rows cascade with it.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, TableSessions, "", Row{"id": id}, false)
}

// LinkUser records user -> session ownership.
func (s *SessionStore) LinkUser(ctx context.Context, username, sessionID string) error {
	return s.store.Upsert(ctx, TableUserSessions, "", Row{
		"username":   username,
		"session_id": sessionID,
	})
}

// UnlinkUser removes the ownership row.
func (s *SessionStore) UnlinkUser(ctx context.Context, username, sessionID string) error {
	return s.store.Delete(ctx, TableUserSessions, "", Row{
		"username":   username,
		"session_id": sessionID,
	}, false)
}

// UserSessionIDs returns the session ids owned by a user.
func (s *SessionStore) UserSessionIDs(ctx context.Context, username string) ([]string, error) {
	rows, err := s.store.List(ctx, TableUserSessions, "", "username = ?", []interface{}{username}, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = rowString(row, "session_id")
	}
	return ids, nil
}

// OwnerOf returns the username owning a session, or "".
func (s *SessionStore) OwnerOf(ctx context.Context, sessionID string) (string, error) {
	rows, err := s.store.List(ctx, TableUserSessions, "", "session_id = ?", []interface{}{sessionID}, false)
	if err != nil || len(rows) == 0 {
		return "", err
	}
	return rowString(rows[0], "username"), nil
}

func sessionFromRow(row Row) *Session {
	sess := &Session{
		ID:        rowString(row, "id"),
		DeviceJID: rowString(row, "device_jid"),
		Platform:  rowString(row, "platform"),
		Status:    rowString(row, "status"),
		LoggedIn:  rowBool(row, "logged_in"),
		QRCode:    rowString(row, "qr_code"),
	}
	if ts := rowInt64(row, "last_seen"); ts > 0 {
		sess.LastSeen = time.Unix(ts, 0)
	}
	return sess
}

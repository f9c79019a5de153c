package store

import (
	"context"
	"time"
)

// Contact represents a contact for one session.
type Contact struct {
	SessionID string
	JID       string
	Phone     string
	Name      string
	PushName  string
	Presence  string
	LastSeen  time.Time
	Blocked   bool
}

// ContactStore handles contact operations.
type ContactStore struct {
	store *Store
}

// NewContactStore creates a new ContactStore.
func NewContactStore(s *Store) *ContactStore {
	return &ContactStore{store: s}
}

// Put stores or updates a contact.
func (s *ContactStore) Put(ctx context.Context, c *Contact) error {
	return s.store.Upsert(ctx, TableContacts, c.SessionID, Row{
		"jid":       c.JID,
		"phone":     nullString(c.Phone),
		"name":      nullString(c.Name),
		"push_name": nullString(c.PushName),
		"presence":  nullString(c.Presence),
		"last_seen": c.LastSeen,
		"blocked":   c.Blocked,
	})
}

// Get retrieves a contact by JID.
func (s *ContactStore) Get(ctx context.Context, sessionID, jid string) (*Contact, error) {
	row, err := s.store.Get(ctx, TableContacts, sessionID, Row{"jid": jid}, true)
	if err != nil || row == nil {
		return nil, err
	}
	return contactFromRow(row), nil
}

// GetAll retrieves all contacts of a session.
func (s *ContactStore) GetAll(ctx context.Context, sessionID string) ([]*Contact, error) {
	rows, err := s.store.List(ctx, TableContacts, sessionID, "", nil, true)
	if err != nil {
		return nil, err
	}
	contacts := make([]*Contact, len(rows))
	for i, row := range rows {
		contacts[i] = contactFromRow(row)
	}
	return contacts, nil
}

// UpdatePushName updates the push name, creating the contact if needed.
func (s *ContactStore) UpdatePushName(ctx context.Context, sessionID, jid, pushName string) error {
	c, err := s.Get(ctx, sessionID, jid)
	if err != nil {
		return err
	}
	if c == nil {
		c = &Contact{SessionID: sessionID, JID: jid}
	}
	c.PushName = pushName
	return s.Put(ctx, c)
}

// SetPresence records a presence update, creating the contact if needed.
func (s *ContactStore) SetPresence(ctx context.Context, sessionID, jid, presence string, lastSeen time.Time) error {
	c, err := s.Get(ctx, sessionID, jid)
	if err != nil {
		return err
	}
	if c == nil {
		c = &Contact{SessionID: sessionID, JID: jid}
	}
	c.Presence = presence
	if !lastSeen.IsZero() {
		c.LastSeen = lastSeen
	}
	return s.Put(ctx, c)
}

// SetBlocked flips the blocked flag and maintains the blocklist table.
func (s *ContactStore) SetBlocked(ctx context.Context, sessionID, jid string, blocked bool) error {
	c, err := s.Get(ctx, sessionID, jid)
	if err != nil {
		return err
	}
	if c == nil {
		c = &Contact{SessionID: sessionID, JID: jid}
	}
	c.Blocked = blocked
	if err := s.Put(ctx, c); err != nil {
		return err
	}
	if blocked {
		return s.store.Upsert(ctx, TableBlocklist, sessionID, Row{
			"jid":        jid,
			"blocked_at": time.Now(),
		})
	}
	return s.store.Delete(ctx, TableBlocklist, sessionID, Row{"jid": jid}, false)
}

// Blocklist returns the blocked JIDs of a session.
func (s *ContactStore) Blocklist(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := s.store.List(ctx, TableBlocklist, sessionID, "", nil, false)
	if err != nil {
		return nil, err
	}
	jids := make([]string, len(rows))
	for i, row := range rows {
		jids[i] = rowString(row, "jid")
	}
	return jids, nil
}

// Delete soft-deletes a contact.
func (s *ContactStore) Delete(ctx context.Context, sessionID, jid string) error {
	return s.store.Delete(ctx, TableContacts, sessionID, Row{"jid": jid}, true)
}

func contactFromRow(row Row) *Contact {
	c := &Contact{
		SessionID: rowString(row, "session_id"),
		JID:       rowString(row, "jid"),
		Phone:     rowString(row, "phone"),
		Name:      rowString(row, "name"),
		PushName:  rowString(row, "push_name"),
		Presence:  rowString(row, "presence"),
		Blocked:   rowBool(row, "blocked"),
	}
	if ts := rowInt64(row, "last_seen"); ts > 0 {
		c.LastSeen = time.Unix(ts, 0)
	}
	return c
}

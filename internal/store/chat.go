package store

import (
	"context"
	"sort"
	"time"
)

// Chat represents chat metadata for one session.
type Chat struct {
	SessionID   string
	JID         string
	Name        string
	IsGroup     bool
	IsBroadcast bool

	Archived      bool
	Pinned        bool
	MutedUntil    time.Time
	UnreadCount   int
	LastMessageID string
	LastMessageAt time.Time
}

// ChatStore handles chat operations.
type ChatStore struct {
	store *Store
}

// NewChatStore creates a new ChatStore.
func NewChatStore(s *Store) *ChatStore {
	return &ChatStore{store: s}
}

// Put stores or updates a chat.
func (s *ChatStore) Put(ctx context.Context, c *Chat) error {
	return s.store.Upsert(ctx, TableChats, c.SessionID, Row{
		"jid":             c.JID,
		"name":            nullString(c.Name),
		"is_group":        c.IsGroup,
		"is_broadcast":    c.IsBroadcast,
		"archived":        c.Archived,
		"pinned":          c.Pinned,
		"muted_until":     c.MutedUntil,
		"unread_count":    c.UnreadCount,
		"last_message_id": nullString(c.LastMessageID),
		"last_message_at": c.LastMessageAt,
	})
}

// Get retrieves a chat by JID.
func (s *ChatStore) Get(ctx context.Context, sessionID, jid string) (*Chat, error) {
	row, err := s.store.Get(ctx, TableChats, sessionID, Row{"jid": jid}, true)
	if err != nil || row == nil {
		return nil, err
	}
	return chatFromRow(row), nil
}

// GetAll retrieves all chats of a session ordered by last message.
func (s *ChatStore) GetAll(ctx context.Context, sessionID string) ([]*Chat, error) {
	rows, err := s.store.List(ctx, TableChats, sessionID, "", nil, true)
	if err != nil {
		return nil, err
	}
	chats := make([]*Chat, len(rows))
	for i, row := range rows {
		chats[i] = chatFromRow(row)
	}
	sort.Slice(chats, func(i, j int) bool {
		if chats[i].Pinned != chats[j].Pinned {
			return chats[i].Pinned
		}
		return chats[i].LastMessageAt.After(chats[j].LastMessageAt)
	})
	return chats, nil
}

// Ensure creates a chat on first reference from an inbound event without
// clobbering existing state.
func (s *ChatStore) Ensure(ctx context.Context, sessionID, jid string, isGroup bool) error {
	exists, err := s.store.Exists(ctx, TableChats, sessionID, Row{"jid": jid})
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.Put(ctx, &Chat{SessionID: sessionID, JID: jid, IsGroup: isGroup})
}

// UpdateLastMessage updates the last message pointer and bumps the unread
// count for inbound messages.
func (s *ChatStore) UpdateLastMessage(ctx context.Context, sessionID, jid, messageID string, at time.Time, inbound bool) error {
	c, err := s.Get(ctx, sessionID, jid)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	c.LastMessageID = messageID
	c.LastMessageAt = at
	if inbound {
		c.UnreadCount++
	}
	return s.Put(ctx, c)
}

// MarkRead resets the unread count.
func (s *ChatStore) MarkRead(ctx context.Context, sessionID, jid string) error {
	c, err := s.Get(ctx, sessionID, jid)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	c.UnreadCount = 0
	return s.Put(ctx, c)
}

// SetArchived updates archive status.
func (s *ChatStore) SetArchived(ctx context.Context, sessionID, jid string, archived bool) error {
	return s.setFlag(ctx, sessionID, jid, func(c *Chat) { c.Archived = archived })
}

// SetPinned updates pin status.
func (s *ChatStore) SetPinned(ctx context.Context, sessionID, jid string, pinned bool) error {
	return s.setFlag(ctx, sessionID, jid, func(c *Chat) { c.Pinned = pinned })
}

// SetMuted updates mute status.
func (s *ChatStore) SetMuted(ctx context.Context, sessionID, jid string, until time.Time) error {
	return s.setFlag(ctx, sessionID, jid, func(c *Chat) { c.MutedUntil = until })
}

func (s *ChatStore) setFlag(ctx context.Context, sessionID, jid string, apply func(*Chat)) error {
	c, err := s.Get(ctx, sessionID, jid)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrNotFound
	}
	apply(c)
	return s.Put(ctx, c)
}

// Delete soft-deletes a chat.
func (s *ChatStore) Delete(ctx context.Context, sessionID, jid string) error {
	return s.store.Delete(ctx, TableChats, sessionID, Row{"jid": jid}, true)
}

func chatFromRow(row Row) *Chat {
	c := &Chat{
		SessionID:     rowString(row, "session_id"),
		JID:           rowString(row, "jid"),
		Name:          rowString(row, "name"),
		IsGroup:       rowBool(row, "is_group"),
		IsBroadcast:   rowBool(row, "is_broadcast"),
		Archived:      rowBool(row, "archived"),
		Pinned:        rowBool(row, "pinned"),
		UnreadCount:   rowInt(row, "unread_count"),
		LastMessageID: rowString(row, "last_message_id"),
	}
	if ts := rowInt64(row, "muted_until"); ts > 0 {
		c.MutedUntil = time.Unix(ts, 0)
	}
	if ts := rowInt64(row, "last_message_at"); ts > 0 {
		c.LastMessageAt = time.Unix(ts, 0)
	}
	return c
}

package store

import (
	"context"
	"sort"
	"time"
)

// Message statuses follow the receipt ladder.
const (
	MessageStatusPending   = "pending"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

// Message represents a stored message.
type Message struct {
	SessionID    string
	ID           string
	ChatJID      string
	SenderJID    string
	RecipientJID string
	FromMe       bool
	Type         string
	Text         string
	Caption      string
	QuotedID     string
	Status       string
	Starred      bool
	Timestamp    time.Time
}

// MessageStore handles message operations.
type MessageStore struct {
	store *Store
}

// NewMessageStore creates a new MessageStore.
func NewMessageStore(s *Store) *MessageStore {
	return &MessageStore{store: s}
}

// Put stores or updates a message. The chat must exist first.
func (s *MessageStore) Put(ctx context.Context, m *Message) error {
	if m.Type == "" {
		m.Type = "text"
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return s.store.Upsert(ctx, TableMessages, m.SessionID, Row{
		"id":            m.ID,
		"chat_jid":      m.ChatJID,
		"sender_jid":    nullString(m.SenderJID),
		"recipient_jid": nullString(m.RecipientJID),
		"from_me":       m.FromMe,
		"message_type":  m.Type,
		"text":          nullString(m.Text),
		"caption":       nullString(m.Caption),
		"quoted_id":     nullString(m.QuotedID),
		"status":        nullString(m.Status),
		"starred":       m.Starred,
		"timestamp":     m.Timestamp,
	})
}

// Get retrieves a message by id.
func (s *MessageStore) Get(ctx context.Context, sessionID, id string) (*Message, error) {
	row, err := s.store.Get(ctx, TableMessages, sessionID, Row{"id": id}, true)
	if err != nil || row == nil {
		return nil, err
	}
	return messageFromRow(row), nil
}

// ForChat retrieves messages of a chat, newest first, up to limit
// (0 = no limit).
func (s *MessageStore) ForChat(ctx context.Context, sessionID, chatJID string, limit int) ([]*Message, error) {
	rows, err := s.store.List(ctx, TableMessages, sessionID, "chat_jid = ?", []interface{}{chatJID}, true)
	if err != nil {
		return nil, err
	}
	messages := make([]*Message, len(rows))
	for i, row := range rows {
		messages[i] = messageFromRow(row)
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].Timestamp.After(messages[j].Timestamp)
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// SetStatus advances the delivery status of a message.
func (s *MessageStore) SetStatus(ctx context.Context, sessionID, id, status string) error {
	m, err := s.Get(ctx, sessionID, id)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNotFound
	}
	m.Status = status
	return s.Put(ctx, m)
}

// SetStarred flips the star flag.
func (s *MessageStore) SetStarred(ctx context.Context, sessionID, id string, starred bool) error {
	m, err := s.Get(ctx, sessionID, id)
	if err != nil {
		return err
	}
	if m == nil {
		return ErrNotFound
	}
	m.Starred = starred
	return s.Put(ctx, m)
}

// CountForChat counts visible messages in a chat.
func (s *MessageStore) CountForChat(ctx context.Context, sessionID, chatJID string) (int, error) {
	return s.store.Count(ctx, TableMessages, sessionID, "chat_jid = ?", chatJID)
}

// Delete soft-deletes a message.
func (s *MessageStore) Delete(ctx context.Context, sessionID, id string) error {
	return s.store.Delete(ctx, TableMessages, sessionID, Row{"id": id}, true)
}

func messageFromRow(row Row) *Message {
	m := &Message{
		SessionID:    rowString(row, "session_id"),
		ID:           rowString(row, "id"),
		ChatJID:      rowString(row, "chat_jid"),
		SenderJID:    rowString(row, "sender_jid"),
		RecipientJID: rowString(row, "recipient_jid"),
		FromMe:       rowBool(row, "from_me"),
		Type:         rowString(row, "message_type"),
		Text:         rowString(row, "text"),
		Caption:      rowString(row, "caption"),
		QuotedID:     rowString(row, "quoted_id"),
		Status:       rowString(row, "status"),
		Starred:      rowBool(row, "starred"),
	}
	if ts := rowInt64(row, "timestamp"); ts > 0 {
		m.Timestamp = time.Unix(ts, 0)
	}
	return m
}

package store

import "context"

// Reaction represents the latest reaction of one reactor to one message.
type Reaction struct {
	SessionID  string
	MessageID  string
	ReactorJID string
	Emoji      string
	Removed    bool
}

// ReactionStore handles reaction operations. Latest-wins per
// (message, reactor): a new reaction replaces the previous one, an empty
// emoji marks it removed.
type ReactionStore struct {
	store *Store
}

// NewReactionStore creates a new ReactionStore.
func NewReactionStore(s *Store) *ReactionStore {
	return &ReactionStore{store: s}
}

// Put stores or replaces a reaction.
func (s *ReactionStore) Put(ctx context.Context, r *Reaction) error {
	if r.Emoji == "" {
		r.Removed = true
	}
	return s.store.Upsert(ctx, TableReactions, r.SessionID, Row{
		"message_id":  r.MessageID,
		"reactor_jid": r.ReactorJID,
		"emoji":       nullString(r.Emoji),
		"removed":     r.Removed,
	})
}

// ForMessage retrieves the active reactions on a message.
func (s *ReactionStore) ForMessage(ctx context.Context, sessionID, messageID string) ([]*Reaction, error) {
	rows, err := s.store.List(ctx, TableReactions, sessionID, "message_id = ? AND removed = 0", []interface{}{messageID}, true)
	if err != nil {
		return nil, err
	}
	reactions := make([]*Reaction, len(rows))
	for i, row := range rows {
		reactions[i] = reactionFromRow(row)
	}
	return reactions, nil
}

func reactionFromRow(row Row) *Reaction {
	return &Reaction{
		SessionID:  rowString(row, "session_id"),
		MessageID:  rowString(row, "message_id"),
		ReactorJID: rowString(row, "reactor_jid"),
		Emoji:      rowString(row, "emoji"),
		Removed:    rowBool(row, "removed"),
	}
}

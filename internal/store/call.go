package store

import (
	"context"
	"sort"
	"time"
)

// Call outcomes.
const (
	CallOutcomeAccepted = "accepted"
	CallOutcomeRejected = "rejected"
	CallOutcomeMissed   = "missed"
)

// Call represents a call history entry.
type Call struct {
	SessionID string
	CallID    string
	ChatJID   string
	CallerJID string
	Outcome   string
	Timestamp time.Time
}

// CallStore handles call history.
type CallStore struct {
	store *Store
}

// NewCallStore creates a new CallStore.
func NewCallStore(s *Store) *CallStore {
	return &CallStore{store: s}
}

// Put stores or updates a call entry.
func (s *CallStore) Put(ctx context.Context, c *Call) error {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	return s.store.Upsert(ctx, TableCalls, c.SessionID, Row{
		"call_id":    c.CallID,
		"chat_jid":   nullString(c.ChatJID),
		"caller_jid": nullString(c.CallerJID),
		"outcome":    nullString(c.Outcome),
		"timestamp":  c.Timestamp,
	})
}

// History retrieves the call history of a session, newest first.
func (s *CallStore) History(ctx context.Context, sessionID string, limit int) ([]*Call, error) {
	rows, err := s.store.List(ctx, TableCalls, sessionID, "", nil, false)
	if err != nil {
		return nil, err
	}
	calls := make([]*Call, len(rows))
	for i, row := range rows {
		calls[i] = &Call{
			SessionID: rowString(row, "session_id"),
			CallID:    rowString(row, "call_id"),
			ChatJID:   rowString(row, "chat_jid"),
			CallerJID: rowString(row, "caller_jid"),
			Outcome:   rowString(row, "outcome"),
			Timestamp: time.Unix(rowInt64(row, "timestamp"), 0),
		}
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].Timestamp.After(calls[j].Timestamp)
	})
	if limit > 0 && len(calls) > limit {
		calls = calls[:limit]
	}
	return calls, nil
}

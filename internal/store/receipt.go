package store

import (
	"context"
	"time"
)

// Receipt represents a delivery receipt for one participant and type.
type Receipt struct {
	SessionID   string
	MessageID   string
	Participant string
	Type        string // "sent", "delivered", "read", "played"
	Timestamp   time.Time
}

// ReceiptStore handles receipt operations. Receipts are append-only per
// participant x type; a repeat only refreshes the timestamp.
type ReceiptStore struct {
	store *Store
}

// NewReceiptStore creates a new ReceiptStore.
func NewReceiptStore(s *Store) *ReceiptStore {
	return &ReceiptStore{store: s}
}

// Put stores a receipt.
func (s *ReceiptStore) Put(ctx context.Context, r *Receipt) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return s.store.Upsert(ctx, TableReceipts, r.SessionID, Row{
		"message_id":   r.MessageID,
		"participant":  r.Participant,
		"receipt_type": r.Type,
		"timestamp":    r.Timestamp,
	})
}

// PutMany stores multiple receipts in one transaction.
func (s *ReceiptStore) PutMany(ctx context.Context, receipts []*Receipt) error {
	return s.store.WithTx(ctx, func(ctx context.Context) error {
		for _, r := range receipts {
			if err := s.Put(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// ForMessage retrieves all receipts for a message.
func (s *ReceiptStore) ForMessage(ctx context.Context, sessionID, messageID string) ([]*Receipt, error) {
	rows, err := s.store.List(ctx, TableReceipts, sessionID, "message_id = ?", []interface{}{messageID}, false)
	if err != nil {
		return nil, err
	}
	receipts := make([]*Receipt, len(rows))
	for i, row := range rows {
		receipts[i] = &Receipt{
			SessionID:   rowString(row, "session_id"),
			MessageID:   rowString(row, "message_id"),
			Participant: rowString(row, "participant"),
			Type:        rowString(row, "receipt_type"),
			Timestamp:   time.Unix(rowInt64(row, "timestamp"), 0),
		}
	}
	return receipts, nil
}

// IsRead reports whether any participant sent a read receipt.
func (s *ReceiptStore) IsRead(ctx context.Context, sessionID, messageID string) (bool, error) {
	count, err := s.store.Count(ctx, TableReceipts, sessionID, "message_id = ? AND receipt_type = 'read'", messageID)
	return count > 0, err
}

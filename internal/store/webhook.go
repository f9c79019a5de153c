package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"wahub/internal/utils/retry"
)

// Webhook represents a registered HTTP subscriber. At most one webhook per
// (session, event) pair.
type Webhook struct {
	ID          string
	SessionID   string
	Event       string
	URL         string
	Headers     map[string]string
	Enabled     bool
	TimeoutSecs int
	MaxRetries  int
	// FailedCount increments once per exhausted delivery task, not once
	// per attempt; RetryCount counts every attempt for observability.
	FailedCount    int
	RetryCount     int
	LastStatus     int
	LastDeliveryAt time.Time
}

// Delivery is one audit row in the webhook delivery trail.
type Delivery struct {
	ID             string
	WebhookID      string
	Event          string
	Payload        string
	ResponseStatus int
	ResponseBody   string
	Success        bool
	Attempt        int
	Duration       time.Duration
	CreatedAt      time.Time
}

// WebhookStore handles webhook registration and delivery audit rows.
type WebhookStore struct {
	store *Store
}

// NewWebhookStore creates a new WebhookStore.
func NewWebhookStore(s *Store) *WebhookStore {
	return &WebhookStore{store: s}
}

// Put stores or updates a webhook, generating an id when absent.
func (s *WebhookStore) Put(ctx context.Context, w *Webhook) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.TimeoutSecs <= 0 {
		w.TimeoutSecs = 30
	}
	if w.MaxRetries <= 0 {
		w.MaxRetries = 3
	}
	return s.store.Upsert(ctx, TableWebhooks, "", Row{
		"id":               w.ID,
		"session_id":       w.SessionID,
		"event":            w.Event,
		"url":              w.URL,
		"headers":          w.Headers,
		"enabled":          w.Enabled,
		"timeout_secs":     w.TimeoutSecs,
		"max_retries":      w.MaxRetries,
		"failed_count":     w.FailedCount,
		"retry_count":      w.RetryCount,
		"last_status":      nullInt64(int64(w.LastStatus)),
		"last_delivery_at": w.LastDeliveryAt,
	})
}

// Get retrieves a webhook by id.
func (s *WebhookStore) Get(ctx context.Context, id string) (*Webhook, error) {
	row, err := s.store.Get(ctx, TableWebhooks, "", Row{"id": id}, true)
	if err != nil || row == nil {
		return nil, err
	}
	return webhookFromRow(row), nil
}

// ForEvent retrieves the enabled webhook registered for (session, event),
// nil if none.
func (s *WebhookStore) ForEvent(ctx context.Context, sessionID, event string) (*Webhook, error) {
	rows, err := s.store.List(ctx, TableWebhooks, "", "session_id = ? AND event = ? AND enabled = 1", []interface{}{sessionID, event}, false)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return webhookFromRow(rows[0]), nil
}

// ForSession retrieves all webhooks of a session.
func (s *WebhookStore) ForSession(ctx context.Context, sessionID string) ([]*Webhook, error) {
	rows, err := s.store.List(ctx, TableWebhooks, "", "session_id = ?", []interface{}{sessionID}, false)
	if err != nil {
		return nil, err
	}
	return webhooksFromRows(rows), nil
}

// ListFailed retrieves enabled webhooks with a non-zero failure counter.
// Used at startup to reconstruct dropped tasks.
func (s *WebhookStore) ListFailed(ctx context.Context) ([]*Webhook, error) {
	rows, err := s.store.List(ctx, TableWebhooks, "", "enabled = 1 AND failed_count > 0", nil, false)
	if err != nil {
		return nil, err
	}
	return webhooksFromRows(rows), nil
}

// RecordSuccess resets the failure counter and records the last response.
func (s *WebhookStore) RecordSuccess(ctx context.Context, id string, status int) error {
	now := time.Now().Unix()
	return s.updateCounters(ctx, id,
		fmt.Sprintf(`UPDATE %s SET failed_count = 0, last_status = ?, last_delivery_at = ?, updated_at = ? WHERE id = ?`, TableWebhooks),
		status, now, now, id)
}

// RecordExhausted increments the failure counter after a task ran out of
// retries.
func (s *WebhookStore) RecordExhausted(ctx context.Context, id string, status int) error {
	now := time.Now().Unix()
	return s.updateCounters(ctx, id,
		fmt.Sprintf(`UPDATE %s SET failed_count = failed_count + 1, last_status = ?, last_delivery_at = ?, updated_at = ? WHERE id = ?`, TableWebhooks),
		status, now, now, id)
}

// AddRetries bumps the observability retry counter.
func (s *WebhookStore) AddRetries(ctx context.Context, id string, attempts int) error {
	return s.updateCounters(ctx, id,
		fmt.Sprintf(`UPDATE %s SET retry_count = retry_count + ?, updated_at = ? WHERE id = ?`, TableWebhooks),
		attempts, time.Now().Unix(), id)
}

// updateCounters applies an in-place counter update. Concurrent delivers
// hit the same webhook row; a read-modify-write here would lose
// increments, so the arithmetic stays in SQL.
func (s *WebhookStore) updateCounters(ctx context.Context, id, query string, args ...interface{}) error {
	var affected int64
	err := retry.Do(ctx, s.store.retryCfg, func() error {
		res, execErr := s.store.conn(ctx).ExecContext(ctx, query, args...)
		if execErr != nil {
			return execErr
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return s.store.countError(fmt.Errorf("update %s: %w", TableWebhooks, err))
	}
	if affected == 0 {
		return ErrNotFound
	}
	s.store.purgeCache(tables[TableWebhooks], "", Row{"id": id})
	return nil
}

// Delete removes a webhook and, via cascade, its delivery rows.
func (s *WebhookStore) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, TableWebhooks, "", Row{"id": id}, false)
}

// AddDelivery appends a delivery audit row.
func (s *WebhookStore) AddDelivery(ctx context.Context, d *Delivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return s.store.Upsert(ctx, TableWebhookDeliveries, "", Row{
		"id":              d.ID,
		"webhook_id":      d.WebhookID,
		"event":           d.Event,
		"payload":         nullString(d.Payload),
		"response_status": nullInt64(int64(d.ResponseStatus)),
		"response_body":   nullString(d.ResponseBody),
		"success":         d.Success,
		"attempt":         d.Attempt,
		"duration_ms":     d.Duration.Milliseconds(),
	})
}

// Deliveries retrieves the audit trail of a webhook, oldest first.
func (s *WebhookStore) Deliveries(ctx context.Context, webhookID string) ([]*Delivery, error) {
	rows, err := s.store.List(ctx, TableWebhookDeliveries, "", "webhook_id = ?", []interface{}{webhookID}, false)
	if err != nil {
		return nil, err
	}
	deliveries := make([]*Delivery, len(rows))
	for i, row := range rows {
		deliveries[i] = &Delivery{
			ID:             rowString(row, "id"),
			WebhookID:      rowString(row, "webhook_id"),
			Event:          rowString(row, "event"),
			Payload:        rowString(row, "payload"),
			ResponseStatus: rowInt(row, "response_status"),
			ResponseBody:   rowString(row, "response_body"),
			Success:        rowBool(row, "success"),
			Attempt:        rowInt(row, "attempt"),
			Duration:       time.Duration(rowInt64(row, "duration_ms")) * time.Millisecond,
			CreatedAt:      time.Unix(rowInt64(row, "created_at"), 0),
		}
	}
	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].CreatedAt.Before(deliveries[j].CreatedAt)
	})
	return deliveries, nil
}

func webhookFromRow(row Row) *Webhook {
	w := &Webhook{
		ID:          rowString(row, "id"),
		SessionID:   rowString(row, "session_id"),
		Event:       rowString(row, "event"),
		URL:         rowString(row, "url"),
		Headers:     jsonUnmarshalMap([]byte(rowString(row, "headers"))),
		Enabled:     rowBool(row, "enabled"),
		TimeoutSecs: rowInt(row, "timeout_secs"),
		MaxRetries:  rowInt(row, "max_retries"),
		FailedCount: rowInt(row, "failed_count"),
		RetryCount:  rowInt(row, "retry_count"),
		LastStatus:  rowInt(row, "last_status"),
	}
	if ts := rowInt64(row, "last_delivery_at"); ts > 0 {
		w.LastDeliveryAt = time.Unix(ts, 0)
	}
	return w
}

func webhooksFromRows(rows []Row) []*Webhook {
	webhooks := make([]*Webhook, len(rows))
	for i, row := range rows {
		webhooks[i] = webhookFromRow(row)
	}
	return webhooks
}

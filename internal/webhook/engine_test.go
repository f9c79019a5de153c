package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wahub/internal/infra/config"
	"wahub/internal/store"
)

func newTestEngine(t *testing.T, cfg *config.Config) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "wahub.db"), 128, waLog.Noop)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	if cfg == nil {
		cfg = config.Default()
	}
	e := NewEngine(cfg, st, waLog.Noop)
	e.backoff = time.Millisecond
	return e, st
}

func seedSession(t *testing.T, st *store.Store, id string) {
	t.Helper()
	require.NoError(t, store.NewSessionStore(st).Put(context.Background(), &store.Session{ID: id}))
}

func registerWebhook(t *testing.T, st *store.Store, sessionID, event, url string, maxRetries int) *store.Webhook {
	t.Helper()
	wh := &store.Webhook{
		SessionID:  sessionID,
		Event:      event,
		URL:        url,
		Enabled:    true,
		MaxRetries: maxRetries,
	}
	require.NoError(t, store.NewWebhookStore(st).Put(context.Background(), wh))
	return wh
}

func TestDeliverSucceedsAfterRetries(t *testing.T) {
	e, st := newTestEngine(t, nil)
	ctx := context.Background()
	seedSession(t, st, "sess-1")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := registerWebhook(t, st, "sess-1", "message", srv.URL, 3)

	e.Enqueue(Task{SessionID: "sess-1", Event: "message", Payload: map[string]string{"text": "hi"}})
	e.processQueue(ctx)

	assert.Equal(t, int32(3), calls.Load())

	webhooks := store.NewWebhookStore(st)
	got, err := webhooks.Get(ctx, wh.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedCount)
	assert.Equal(t, 3, got.RetryCount)
	assert.Equal(t, http.StatusOK, got.LastStatus)

	// Every attempt left an audit row: two failures, one success.
	deliveries, err := webhooks.Deliveries(ctx, wh.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 3)
	failures := 0
	for _, d := range deliveries {
		if !d.Success {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}

func TestDeliverExhausted(t *testing.T) {
	e, st := newTestEngine(t, nil)
	ctx := context.Background()
	seedSession(t, st, "sess-1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := registerWebhook(t, st, "sess-1", "message", srv.URL, 2)

	e.Enqueue(Task{SessionID: "sess-1", Event: "message"})
	e.processQueue(ctx)

	webhooks := store.NewWebhookStore(st)
	got, err := webhooks.Get(ctx, wh.ID)
	require.NoError(t, err)
	// One exhausted task bumps the failure counter once, not per attempt.
	assert.Equal(t, 1, got.FailedCount)
	assert.Equal(t, 2, got.RetryCount)

	deliveries, err := webhooks.Deliveries(ctx, wh.ID)
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)
	for _, d := range deliveries {
		assert.False(t, d.Success)
		assert.Equal(t, http.StatusInternalServerError, d.ResponseStatus)
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	e, st := newTestEngine(t, nil)
	ctx := context.Background()
	seedSession(t, st, "sess-1")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := registerWebhook(t, st, "sess-1", "message", srv.URL, 3)
	wh.FailedCount = 4
	require.NoError(t, store.NewWebhookStore(st).Put(ctx, wh))

	e.Enqueue(Task{SessionID: "sess-1", Event: "message"})
	e.processQueue(ctx)

	got, err := store.NewWebhookStore(st).Get(ctx, wh.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailedCount)
	assert.Equal(t, http.StatusNoContent, got.LastStatus)
}

func TestNoWebhookRegistered(t *testing.T) {
	e, st := newTestEngine(t, nil)
	seedSession(t, st, "sess-1")

	// No registration for this event: the task is consumed silently.
	e.Enqueue(Task{SessionID: "sess-1", Event: "presence"})
	e.processQueue(context.Background())
	assert.Equal(t, 0, e.QueueLen())
}

func TestReloadFailed(t *testing.T) {
	e, st := newTestEngine(t, nil)
	ctx := context.Background()
	seedSession(t, st, "sess-1")

	wh := registerWebhook(t, st, "sess-1", "message", "http://example.invalid", 1)
	wh.FailedCount = 1
	require.NoError(t, store.NewWebhookStore(st).Put(ctx, wh))

	// Healthy webhooks are not replayed.
	registerWebhook(t, st, "sess-1", "presence", "http://example.invalid", 1)

	require.NoError(t, e.ReloadFailed(ctx))
	assert.Equal(t, 1, e.QueueLen())
}

func TestQueueBounded(t *testing.T) {
	cfg := config.Default()
	cfg.WebhookQueueSize = 2
	e, _ := newTestEngine(t, cfg)

	e.Enqueue(Task{SessionID: "s", Event: "message"})
	e.Enqueue(Task{SessionID: "s", Event: "presence"})
	e.Enqueue(Task{SessionID: "s", Event: "chat"})

	assert.Equal(t, 2, e.QueueLen())
	assert.Equal(t, uint64(1), e.Dropped())
}

func TestEngineConsumesBusEvents(t *testing.T) {
	cfg := config.Default()
	cfg.WebhookInterval = 10 * time.Millisecond
	e, st := newTestEngine(t, cfg)
	ctx := context.Background()
	seedSession(t, st, "sess-1")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registerWebhook(t, st, "sess-1", "lifecycle", srv.URL, 1)

	require.NoError(t, e.Start(ctx))
	defer e.Stop()

	st.Events().Publish(store.Event{Kind: store.EventLifecycle, SessionID: "sess-1"})

	require.Eventually(t, func() bool {
		return calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

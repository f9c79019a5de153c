package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"wahub/internal/infra/config"
	"wahub/internal/store"
	"wahub/internal/utils/retry"
)

// batchSize caps how many queued tasks one tick processes.
const batchSize = 10

// Task is one pending delivery: an event that a registered webhook
// should receive.
type Task struct {
	SessionID string
	Event     string
	Payload   interface{}
	Replay    bool
}

// Envelope is the JSON body POSTed to subscribers.
type Envelope struct {
	Event     string      `json:"event"`
	SessionID string      `json:"session_id"`
	Timestamp int64       `json:"timestamp"`
	Replay    bool        `json:"replay,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Engine fans domain events out to registered webhooks with at-least-once
// semantics: a bounded FIFO queue feeds an interval-driven dispatcher that
// retries each delivery with backoff before declaring it exhausted.
type Engine struct {
	cfg      *config.Config
	store    *store.Store
	webhooks *store.WebhookStore
	client   *http.Client
	log      waLog.Logger

	queueMu sync.Mutex
	queue   []Task
	dropped atomic.Uint64

	// backoff seeds the retry schedule between delivery attempts.
	backoff    time.Duration
	processing atomic.Bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(cfg *config.Config, st *store.Store, log waLog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    st,
		webhooks: store.NewWebhookStore(st),
		client:   &http.Client{Timeout: cfg.WebhookTimeout},
		log:      log.Sub("Webhooks"),
		backoff:  time.Second,
		stop:     make(chan struct{}),
	}
}

// Start subscribes to domain events and begins the dispatch loop.
// Webhooks with a recorded failure are re-enqueued first so interrupted
// deliveries from a previous run are not lost.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.ReloadFailed(ctx); err != nil {
		e.log.Warnf("Failed to reload failed webhooks: %v", err)
	}

	events := e.store.Events().Subscribe(
		store.EventMessage, store.EventPresence, store.EventChat,
		store.EventReaction, store.EventGroup, store.EventLifecycle,
	)

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case <-e.stop:
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				e.Enqueue(Task{SessionID: evt.SessionID, Event: string(evt.Kind), Payload: evt.Payload})
			}
		}
	}()
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.WebhookInterval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stop:
				return
			case <-ticker.C:
				e.processQueue(context.Background())
			}
		}
	}()
	return nil
}

// Stop drains nothing: queued tasks for failing webhooks survive via the
// failure counter and are reloaded on the next start.
func (e *Engine) Stop() {
	close(e.stop)
	e.wg.Wait()
}

// Enqueue appends a task, dropping the oldest when the queue is full.
func (e *Engine) Enqueue(task Task) {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if len(e.queue) >= e.cfg.WebhookQueueSize {
		e.queue = e.queue[1:]
		e.dropped.Add(1)
		e.log.Warnf("Delivery queue full, dropped oldest task")
	}
	e.queue = append(e.queue, task)
}

// QueueLen returns the number of pending tasks.
func (e *Engine) QueueLen() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

// Dropped returns how many tasks were pushed out of the full queue.
func (e *Engine) Dropped() uint64 {
	return e.dropped.Load()
}

// ReloadFailed re-enqueues a replay task for every webhook that still
// carries a failure counter from an earlier run.
func (e *Engine) ReloadFailed(ctx context.Context) error {
	failed, err := e.webhooks.ListFailed(ctx)
	if err != nil {
		return err
	}
	for _, wh := range failed {
		e.Enqueue(Task{SessionID: wh.SessionID, Event: wh.Event, Replay: true})
		e.log.Infof("Re-enqueued failed webhook %s (%s/%s)", wh.ID, wh.SessionID, wh.Event)
	}
	return nil
}

// processQueue delivers up to batchSize tasks concurrently. The guard
// keeps a slow batch from overlapping with the next tick.
func (e *Engine) processQueue(ctx context.Context) {
	if !e.processing.CompareAndSwap(false, true) {
		return
	}
	defer e.processing.Store(false)

	e.queueMu.Lock()
	n := len(e.queue)
	if n > batchSize {
		n = batchSize
	}
	batch := make([]Task, n)
	copy(batch, e.queue[:n])
	e.queue = e.queue[n:]
	e.queueMu.Unlock()

	if len(batch) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, task := range batch {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			e.deliver(ctx, task)
		}(task)
	}
	wg.Wait()
}

// deliver attempts a task against its registered webhook, retrying with
// backoff. Every attempt leaves an audit row. An exhausted task bumps
// the webhook's failure counter exactly once.
func (e *Engine) deliver(ctx context.Context, task Task) {
	wh, err := e.webhooks.ForEvent(ctx, task.SessionID, task.Event)
	if err != nil {
		e.log.Errorf("Failed to resolve webhook for %s/%s: %v", task.SessionID, task.Event, err)
		return
	}
	if wh == nil {
		return
	}

	body, err := json.Marshal(Envelope{
		Event:     task.Event,
		SessionID: task.SessionID,
		Timestamp: time.Now().Unix(),
		Replay:    task.Replay,
		Data:      task.Payload,
	})
	if err != nil {
		e.log.Errorf("Failed to encode payload for webhook %s: %v", wh.ID, err)
		return
	}

	attempt := 0
	lastStatus := 0
	retryCfg := retry.Config{
		MaxAttempts: wh.MaxRetries,
		InitialWait: e.backoff,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
		AddJitter:   true,
	}

	err = retry.Do(ctx, retryCfg, func() error {
		attempt++
		start := time.Now()
		status, attemptErr := e.attempt(ctx, wh, body)
		lastStatus = status
		e.audit(ctx, wh, task.Event, string(body), status, attempt, time.Since(start), attemptErr)
		if attemptErr != nil {
			return attemptErr
		}
		return nil
	})

	if recErr := e.webhooks.AddRetries(ctx, wh.ID, attempt); recErr != nil {
		e.log.Warnf("Failed to record attempts for webhook %s: %v", wh.ID, recErr)
	}

	if err != nil {
		e.log.Warnf("Webhook %s exhausted after %d attempts: %v", wh.ID, attempt, err)
		if recErr := e.webhooks.RecordExhausted(ctx, wh.ID, lastStatus); recErr != nil {
			e.log.Errorf("Failed to record exhaustion for webhook %s: %v", wh.ID, recErr)
		}
		return
	}

	if recErr := e.webhooks.RecordSuccess(ctx, wh.ID, lastStatus); recErr != nil {
		e.log.Errorf("Failed to record success for webhook %s: %v", wh.ID, recErr)
	}
}

// attempt performs one HTTP POST within the webhook's own timeout.
func (e *Engine) attempt(ctx context.Context, wh *store.Webhook, body []byte) (int, error) {
	timeout := time.Duration(wh.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = e.cfg.WebhookTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return 0, retry.NonRetryable(fmt.Errorf("invalid webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook post failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// audit stores one delivery attempt row.
func (e *Engine) audit(ctx context.Context, wh *store.Webhook, event, payload string, status, attempt int, took time.Duration, attemptErr error) {
	d := &store.Delivery{
		WebhookID:      wh.ID,
		Event:          event,
		Payload:        payload,
		ResponseStatus: status,
		Success:        attemptErr == nil,
		Attempt:        attempt,
		Duration:       took,
	}
	if attemptErr != nil {
		d.ResponseBody = attemptErr.Error()
	}
	if err := e.webhooks.AddDelivery(ctx, d); err != nil {
		e.log.Errorf("Failed to record delivery for webhook %s: %v", wh.ID, err)
	}
}

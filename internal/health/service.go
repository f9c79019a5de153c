package health

import (
	"context"
	"runtime"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"wahub/internal/cache"
	"wahub/internal/infra/config"
	"wahub/internal/store"
)

// SessionCounter exposes the live-session counts the sampler reads.
type SessionCounter interface {
	Count() int
}

// QueueStats exposes the delivery engine's backlog counters.
type QueueStats interface {
	QueueLen() int
	Dropped() uint64
}

// Snapshot is one health sample.
type Snapshot struct {
	Time          time.Time   `json:"time"`
	Uptime        string      `json:"uptime"`
	Goroutines    int         `json:"goroutines"`
	HeapAllocMB   float64     `json:"heap_alloc_mb"`
	Sessions      int         `json:"sessions"`
	StoreErrors   uint64      `json:"store_errors"`
	EventsDropped uint64      `json:"events_dropped"`
	QueueLen      int         `json:"queue_len"`
	QueueDropped  uint64      `json:"queue_dropped"`
	Cache         cache.Stats `json:"cache"`
	// Rows holds row counts for the global tables.
	Rows map[string]int `json:"rows"`
}

// Service samples process and component health on an interval and keeps
// the latest snapshot available for reads.
type Service struct {
	cfg      *config.Config
	store    *store.Store
	sessions SessionCounter
	queue    QueueStats
	log      waLog.Logger
	started  time.Time

	mu     sync.RWMutex
	latest Snapshot

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewService creates a health service. sessions and queue may be nil
// when those components are not running.
func NewService(cfg *config.Config, st *store.Store, sessions SessionCounter, queue QueueStats, log waLog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		queue:    queue,
		log:      log.Sub("Health"),
		started:  time.Now(),
		stop:     make(chan struct{}),
	}
}

// Start begins the sampling loop.
func (s *Service) Start(ctx context.Context) error {
	s.sample()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
	return nil
}

// Stop halts the sampling loop.
func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// Latest returns the most recent sample.
func (s *Service) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Service) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	snap := Snapshot{
		Time:          time.Now(),
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(mem.HeapAlloc) / (1 << 20),
		StoreErrors:   s.store.ErrorCount(),
		EventsDropped: s.store.Events().Dropped(),
		Cache:         s.store.Cache().Stats(),
	}
	if s.sessions != nil {
		snap.Sessions = s.sessions.Count()
	}
	if s.queue != nil {
		snap.QueueLen = s.queue.QueueLen()
		snap.QueueDropped = s.queue.Dropped()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap.Rows = make(map[string]int, 4)
	for _, table := range []string{store.TableUsers, store.TableSessions, store.TableWebhooks, store.TableBackups} {
		n, err := s.store.Count(ctx, table, "", "")
		if err != nil {
			s.log.Warnf("Failed to count %s: %v", table, err)
			continue
		}
		snap.Rows[table] = n
	}

	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()

	s.log.Debugf("Health: %d sessions, %d goroutines, %.1f MB heap, %d store errors",
		snap.Sessions, snap.Goroutines, snap.HeapAllocMB, snap.StoreErrors)
}

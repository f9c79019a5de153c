package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	wstore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wahub/internal/cache"
	"wahub/internal/utils/retry"
)

// listCacheTTL bounds staleness of list-query cache entries. Lists are read
// far more often than they can be correctly invalidated.
const listCacheTTL = 60 * time.Second

// Store wraps the sqlite database, the whatsmeow device container, the
// read cache, and the domain event bus. It is the sole reader/writer of
// durable state.
type Store struct {
	db        *sql.DB
	container *sqlstore.Container
	cache     *cache.Cache
	bus       *Bus
	log       waLog.Logger

	retryCfg retry.Config
	errCount atomic.Uint64
}

// New creates a Store backed by the sqlite file at dbPath.
func New(dbPath string, cacheSize int, log waLog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", log.Sub("whatsmeow"))
	if err := container.Upgrade(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to upgrade whatsmeow schema: %w", err)
	}

	s := &Store{
		db:        db,
		container: container,
		cache:     cache.New(cacheSize),
		bus:       NewBus(log.Sub("Events")),
		log:       log.Sub("Store"),
		retryCfg: retry.Config{
			MaxAttempts: 3,
			InitialWait: 100 * time.Millisecond,
			MaxWait:     1 * time.Second,
			Multiplier:  2.0,
			Retryable:   isTransient,
		},
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create wahub tables: %w", err)
	}

	return s, nil
}

// isTransient reports whether an error is sqlite lock contention worth
// retrying. Constraint violations and type mismatches are not.
func isTransient(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	// The driver sometimes surfaces contention as plain text.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(schema)
	return err
}

// Container returns the whatsmeow sqlstore container.
func (s *Store) Container() *sqlstore.Container {
	return s.container
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Cache returns the read cache.
func (s *Store) Cache() *cache.Cache {
	return s.cache
}

// Events returns the domain event bus.
func (s *Store) Events() *Bus {
	return s.bus
}

// ErrorCount returns the number of storage errors observed so far.
func (s *Store) ErrorCount() uint64 {
	return s.errCount.Load()
}

func (s *Store) countError(err error) error {
	if err != nil {
		s.errCount.Add(1)
	}
	return err
}

// NewDevice allocates a fresh whatsmeow device for a new session.
func (s *Store) NewDevice() *wstore.Device {
	return s.container.NewDevice()
}

// DeviceByJID returns the stored device for a paired session, nil if absent.
func (s *Store) DeviceByJID(ctx context.Context, jid types.JID) (*wstore.Device, error) {
	return s.container.GetDevice(ctx, jid)
}

// DeleteDevice removes a session's device credentials.
func (s *Store) DeleteDevice(ctx context.Context, device *wstore.Device) error {
	return s.container.DeleteDevice(ctx, device)
}

// Snapshot writes an atomic point-in-time copy of the database to path
// using sqlite's VACUUM INTO.
func (s *Store) Snapshot(ctx context.Context, path string) error {
	// VACUUM INTO fails if the target exists.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	_, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path)
	return s.countError(err)
}

// Close closes the database connection and the event bus.
func (s *Store) Close() error {
	s.bus.Close()
	s.cache.Clear()
	return s.db.Close()
}

// execer abstracts *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

type txKey struct{}

// txState is an open transaction plus the cache purges queued behind it.
// Purging before the commit would let a concurrent reader re-cache the
// pre-commit row with no TTL.
type txState struct {
	tx     *sql.Tx
	mu     sync.Mutex
	purges []func()
}

func (t *txState) addPurge(fn func()) {
	t.mu.Lock()
	t.purges = append(t.purges, fn)
	t.mu.Unlock()
}

func (t *txState) runPurges() {
	t.mu.Lock()
	purges := t.purges
	t.purges = nil
	t.mu.Unlock()
	for _, fn := range purges {
		fn()
	}
}

// txFrom returns the transaction carried by ctx, nil outside WithTx.
func txFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

// conn returns the transaction carried by ctx, otherwise the db. Statements
// issued without a WithTx context never join another goroutine's
// transaction.
func (s *Store) conn(ctx context.Context) execer {
	if st := txFrom(ctx); st != nil {
		return st.tx
	}
	return s.db
}

// WithTx runs fn inside a transaction scoped to the context fn receives.
// A nested call finds the outer transaction on its context and joins it;
// the outermost call commits. Cache purges for writes made inside the
// transaction run after the commit.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.countError(err)
	}
	st := &txState{tx: tx}

	if err := fn(context.WithValue(ctx, txKey{}, st)); err != nil {
		tx.Rollback()
		return s.countError(err)
	}
	if err := tx.Commit(); err != nil {
		return s.countError(err)
	}
	st.runPurges()
	return nil
}

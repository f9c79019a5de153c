package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"wahub/internal/infra/config"
	"wahub/internal/store"
)

// lastRunKey records the most recent successful snapshot time.
const lastRunKey = "backup.last_run"

// Service snapshots the database on an interval and rotates old
// snapshots, keeping the newest N.
type Service struct {
	cfg      *config.Config
	store    *store.Store
	backups  *store.BackupStore
	settings *store.SettingsStore
	log      waLog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewService creates a backup service.
func NewService(cfg *config.Config, st *store.Store, log waLog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		backups:  store.NewBackupStore(st),
		settings: store.NewSettingsStore(st),
		log:      log.Sub("Backup"),
		stop:     make(chan struct{}),
	}
}

// Start begins the interval snapshot loop.
func (s *Service) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.cfg.BackupPath, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.BackupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if _, err := s.Run(context.Background()); err != nil {
					s.log.Errorf("Backup failed: %v", err)
				}
			}
		}
	}()
	return nil
}

// Stop halts the snapshot loop. A snapshot already in flight finishes.
func (s *Service) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// Run takes one snapshot, catalogs it, and rotates old ones. The record
// is written even when the snapshot fails, so the catalog shows failures.
func (s *Service) Run(ctx context.Context) (*store.BackupRecord, error) {
	now := time.Now()
	path := filepath.Join(s.cfg.BackupPath, fmt.Sprintf("wahub-%s.db", now.Format("20060102-150405.000")))

	rec := &store.BackupRecord{FilePath: path, CreatedAt: now}

	if err := s.store.Snapshot(ctx, path); err != nil {
		rec.Status = store.BackupFailed
		rec.Error = err.Error()
		if putErr := s.backups.Put(ctx, rec); putErr != nil {
			s.log.Errorf("Failed to catalog failed backup: %v", putErr)
		}
		return rec, fmt.Errorf("snapshot failed: %w", err)
	}

	if fi, err := os.Stat(path); err == nil {
		rec.SizeBytes = fi.Size()
	}
	rec.Status = store.BackupCompleted
	if err := s.backups.Put(ctx, rec); err != nil {
		return rec, fmt.Errorf("failed to catalog backup: %w", err)
	}
	s.log.Infof("Backup written to %s (%d bytes)", path, rec.SizeBytes)

	if err := s.settings.Set(ctx, lastRunKey, now.Format(time.RFC3339)); err != nil {
		s.log.Warnf("Failed to record backup time: %v", err)
	}

	if err := s.rotate(ctx); err != nil {
		s.log.Warnf("Backup rotation failed: %v", err)
	}
	return rec, nil
}

// rotate deletes completed snapshots beyond the retention count, files
// and catalog rows both. Failed records past the cutoff go too.
func (s *Service) rotate(ctx context.Context) error {
	records, err := s.backups.List(ctx)
	if err != nil {
		return err
	}
	if len(records) <= s.cfg.BackupKeep {
		return nil
	}

	// List returns newest first.
	for _, rec := range records[s.cfg.BackupKeep:] {
		if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
			s.log.Warnf("Failed to remove old backup %s: %v", rec.FilePath, err)
			continue
		}
		if err := s.backups.Delete(ctx, rec.ID); err != nil {
			s.log.Warnf("Failed to delete backup record %s: %v", rec.ID, err)
			continue
		}
		s.log.Infof("Rotated out backup %s", rec.FilePath)
	}
	return nil
}

// List returns the snapshot catalog, newest first.
func (s *Service) List(ctx context.Context) ([]*store.BackupRecord, error) {
	return s.backups.List(ctx)
}

// LastRun returns the time of the last successful snapshot, zero if none.
func (s *Service) LastRun(ctx context.Context) time.Time {
	v, err := s.settings.Get(ctx, lastRunKey)
	if err != nil || v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

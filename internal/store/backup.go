package store

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Backup statuses.
const (
	BackupPending   = "pending"
	BackupCompleted = "completed"
	BackupFailed    = "failed"
)

// BackupRecord catalogs one snapshot file.
type BackupRecord struct {
	ID        string
	FilePath  string
	SizeBytes int64
	Status    string
	Error     string
	CreatedAt time.Time
}

// BackupStore handles the snapshot catalog.
type BackupStore struct {
	store *Store
}

// NewBackupStore creates a new BackupStore.
func NewBackupStore(s *Store) *BackupStore {
	return &BackupStore{store: s}
}

// Put stores or updates a backup record, generating an id when absent.
func (s *BackupStore) Put(ctx context.Context, b *BackupRecord) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = BackupPending
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	return s.store.Upsert(ctx, TableBackups, "", Row{
		"id":         b.ID,
		"file_path":  b.FilePath,
		"size_bytes": b.SizeBytes,
		"status":     b.Status,
		"error":      nullString(b.Error),
		// Millisecond granularity so rotation orders snapshots taken
		// within the same second.
		"created_at": b.CreatedAt.UnixMilli(),
	})
}

// List retrieves all backup records, newest first.
func (s *BackupStore) List(ctx context.Context) ([]*BackupRecord, error) {
	rows, err := s.store.List(ctx, TableBackups, "", "", nil, false)
	if err != nil {
		return nil, err
	}
	backups := make([]*BackupRecord, len(rows))
	for i, row := range rows {
		backups[i] = &BackupRecord{
			ID:        rowString(row, "id"),
			FilePath:  rowString(row, "file_path"),
			SizeBytes: rowInt64(row, "size_bytes"),
			Status:    rowString(row, "status"),
			Error:     rowString(row, "error"),
			CreatedAt: time.UnixMilli(rowInt64(row, "created_at")),
		}
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Delete removes a catalog row.
func (s *BackupStore) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, TableBackups, "", Row{"id": id}, false)
}

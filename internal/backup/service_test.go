package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"

	"wahub/internal/infra/config"
	"wahub/internal/store"
)

func newTestService(t *testing.T, keep int) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "wahub.db"), 128, waLog.Noop)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.BackupPath = t.TempDir()
	cfg.BackupKeep = keep
	return NewService(cfg, st, waLog.Noop), st
}

func TestRunSnapshotsAndCatalogs(t *testing.T) {
	svc, st := newTestService(t, 5)
	ctx := context.Background()

	require.NoError(t, store.NewSessionStore(st).Put(ctx, &store.Session{ID: "sess-1"}))

	rec, err := svc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.BackupCompleted, rec.Status)
	assert.Greater(t, rec.SizeBytes, int64(0))

	fi, err := os.Stat(rec.FilePath)
	require.NoError(t, err)
	assert.Equal(t, rec.SizeBytes, fi.Size())
	assert.False(t, svc.LastRun(ctx).IsZero())

	// The snapshot is a usable database.
	snap, err := store.New(rec.FilePath, 16, waLog.Noop)
	require.NoError(t, err)
	defer snap.Close()
	sess, err := store.NewSessionStore(snap).Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.NotNil(t, sess)
}

func TestRotationKeepsNewest(t *testing.T) {
	const keep = 3
	svc, _ := newTestService(t, keep)
	ctx := context.Background()

	for i := 0; i < keep+2; i++ {
		_, err := svc.Run(ctx)
		require.NoError(t, err)
	}

	records, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, keep)

	entries, err := os.ReadDir(svc.cfg.BackupPath)
	require.NoError(t, err)
	assert.Len(t, entries, keep)

	// Every surviving record still points at a file on disk.
	for _, rec := range records {
		_, err := os.Stat(rec.FilePath)
		assert.NoError(t, err)
	}
}

func TestRunCatalogsFailure(t *testing.T) {
	svc, _ := newTestService(t, 5)
	ctx := context.Background()

	// A missing backup directory makes the snapshot fail.
	svc.cfg.BackupPath = filepath.Join(svc.cfg.BackupPath, "missing", "dir")

	rec, err := svc.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, store.BackupFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)

	records, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, store.BackupFailed, records[0].Status)
}

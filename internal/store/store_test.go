package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "wahub.db"), 128, waLog.Noop)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedSession inserts the session row that scoped tables reference.
func seedSession(t *testing.T, s *Store, id string) {
	t.Helper()
	err := NewSessionStore(s).Put(context.Background(), &Session{ID: id})
	require.NoError(t, err)
}

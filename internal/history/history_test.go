package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	require.NoError(t, s.Save(ctx, Message{SessionID: "a", Role: RoleUser, Content: "q1", CreatedAt: at}))
	require.NoError(t, s.Save(ctx, Message{SessionID: "b", Role: RoleUser, Content: "other", CreatedAt: at}))
	require.NoError(t, s.Save(ctx, Message{SessionID: "a", Role: RoleAssistant, Content: "a1", CreatedAt: at.Add(time.Second)}))

	got, err := s.List(ctx, "a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "q1", got[0].Content)
	require.Equal(t, RoleAssistant, got[1].Role)
	require.Less(t, got[0].ID, got[1].ID)
	require.True(t, got[1].CreatedAt.Equal(at.Add(time.Second)))

	require.NoError(t, s.Delete(ctx, "a"))
	got, err = s.List(ctx, "a")
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = s.List(ctx, "b")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestMemoryStore(t *testing.T) {
	s, err := Open("", nil)
	require.NoError(t, err)
	require.IsType(t, &Memory{}, s)
	exerciseStore(t, s)
	require.NoError(t, s.Close())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path, nil)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	// Data survives reopening.
	s2, err := OpenSQLite(path, nil)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.List(context.Background(), "b")
	require.NoError(t, err)
	require.Len(t, got, 1)
}

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/sortana/internal/core"
)

func exerciseStore(t *testing.T, s core.Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "aiRules")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "aiRules", []byte(`[1]`)))
	require.NoError(t, s.Set(ctx, "aiRules", []byte(`[1,2]`)))

	value, ok, err := s.Get(ctx, "aiRules")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[1,2]`, string(value))

	require.NoError(t, s.Remove(ctx, "aiRules"))
	require.NoError(t, s.Remove(ctx, "aiRules"))

	_, ok, err = s.Get(ctx, "aiRules")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(zap.NewNop()))
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	s := NewMemoryStore(nil)
	buf := []byte("abc")
	require.NoError(t, s.Set(context.Background(), "k", buf))
	buf[0] = 'x'

	value, _, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(value))
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sortana.db"), zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

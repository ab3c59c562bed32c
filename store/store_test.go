package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// contractTest runs the VarStore contract against a backend.
func contractTest(t *testing.T, s VarStore) {
	t.Helper()
	ctx := context.Background()

	_, err := s.GetRunVar(ctx, "g1", "e1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetRunVar(ctx, "g1", "e1", "k", "v1"))
	require.NoError(t, s.SetRunVar(ctx, "g1", "e1", "k", "v2")) // overwrite
	require.NoError(t, s.SetRunVar(ctx, "g1", "e1", "n", float64(42)))
	require.NoError(t, s.SetRunVar(ctx, "g1", "e2", "k", "other-exec"))
	require.NoError(t, s.SetRunVar(ctx, "g2", "e1", "k", "other-graph"))

	v, err := s.GetRunVar(ctx, "g1", "e1", "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	v, err = s.GetRunVar(ctx, "g1", "e1", "n")
	require.NoError(t, err)
	assert.Equal(t, float64(42), v)

	// Clearing one execution leaves the sibling execution and the other
	// graph untouched.
	count, err := s.ClearRunVars(ctx, "g1", "e1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = s.GetRunVar(ctx, "g1", "e1", "k")
	assert.ErrorIs(t, err, ErrNotFound)

	v, err = s.GetRunVar(ctx, "g1", "e2", "k")
	require.NoError(t, err)
	assert.Equal(t, "other-exec", v)

	// Clearing an already-empty scope is fine.
	count, err = s.ClearRunVars(ctx, "g1", "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// ClearAgentVars drops everything the graph accumulated.
	count, err = s.ClearAgentVars(ctx, "g1", "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = s.GetRunVar(ctx, "g1", "e2", "k")
	assert.ErrorIs(t, err, ErrNotFound)

	v, err = s.GetRunVar(ctx, "g2", "e1", "k")
	require.NoError(t, err)
	assert.Equal(t, "other-graph", v)
}

func TestMemoryStoreContract(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	contractTest(t, s)
}

func TestSQLiteStoreContract(t *testing.T) {
	s, err := NewSQLiteStore("file:contract?mode=memory&cache=shared")
	require.NoError(t, err)
	defer s.Close()
	contractTest(t, s)
}

func TestRedisStoreContract(t *testing.T) {
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer s.Close()
	contractTest(t, s)
}

func TestSQLiteStoreRoundTripsStructuredValues(t *testing.T) {
	s, err := NewSQLiteStore("file:structured?mode=memory&cache=shared")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	in := map[string]any{
		"key":   "result",
		"value": []any{"a", float64(1), true},
	}
	require.NoError(t, s.SetRunVar(ctx, "g", "e", "out", in))

	got, err := s.GetRunVar(ctx, "g", "e", "out")
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SetRunVar(context.Background(), "g", "e", "k", 1), ErrStoreClosed)
}

func TestFactory(t *testing.T) {
	s, err := New(Config{Type: TypeMemory})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)
	s.Close()

	s, err = New(Config{})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)
	s.Close()

	_, err = New(Config{Type: "bogus"})
	require.Error(t, err)
}

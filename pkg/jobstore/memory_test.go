package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreGetSetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "job:A:1", []byte(`{"state":"running"}`), 0))

	got, err := s.Get(ctx, "job:A:1")
	require.NoError(t, err)
	assert.Equal(t, `{"state":"running"}`, string(got))

	exists, err := s.Exists(ctx, "job:A:1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, "job:A:1"))
	_, err = s.Get(ctx, "job:A:1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "job:A:1", []byte("x"), 10*time.Millisecond))
	time.Sleep(25 * time.Millisecond)

	_, err := s.Get(ctx, "job:A:1")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := s.Exists(ctx, "job:A:1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStoreScan(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()

	require.NoError(t, s.Set(ctx, "job:A:1", []byte("x"), 0))
	require.NoError(t, s.Set(ctx, "job:A:2", []byte("x"), 0))
	require.NoError(t, s.Set(ctx, "job:B:1", []byte("x"), 0))

	keys, err := s.Scan(ctx, "job:A:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"job:A:1", "job:A:2"}, keys)
}

func TestJobKey(t *testing.T) {
	assert.Equal(t, "get:MYAET:abc123", JobKey("get", "MYAET", "abc123"))
}

package memory

import (
	"context"
	"testing"

	"github.com/bissquit/deepvisas/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Put(ctx, "k", []byte("v1")))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, s.Put(ctx, "k", []byte("v2")))
	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k"), "deleting twice is fine")

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorage_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	value := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", value))
	value[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'y'
	again, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

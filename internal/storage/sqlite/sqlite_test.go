package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bissquit/deepvisas/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorage_CRUD(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, err = s.Get(ctx, "deepvisas.identities")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Put(ctx, "deepvisas.identities", []byte(`[]`)))
	require.NoError(t, s.Put(ctx, "deepvisas.identities", []byte(`[{"email":"a@x.com"}]`)))

	got, err := s.Get(ctx, "deepvisas.identities")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"email":"a@x.com"}]`, string(got))

	require.NoError(t, s.Delete(ctx, "deepvisas.identities"))
	require.NoError(t, s.Delete(ctx, "deepvisas.identities"))

	_, err = s.Get(ctx, "deepvisas.identities")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	assert.NoError(t, s.Ping(ctx))
}

func TestStorage_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "deepvisas.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "deepvisas.session", []byte("snapshot")))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err, "migrations must be idempotent")
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Get(ctx, "deepvisas.session")
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot"), got)
}

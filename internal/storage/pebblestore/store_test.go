package pebblestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenTracer/internal/storage"
)

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(Config{Path: dir})
	require.NoError(t, err)

	_, err = store.Get(ctx, "chainHistory")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Put(ctx, "chainHistory", []byte("[]")))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err = store.Get(ctx, "chainHistory")
	require.ErrorIs(t, err, storage.ErrClosed)

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "chainHistory")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(got))

	require.NoError(t, reopened.Delete(ctx, "chainHistory"))
	_, err = reopened.Get(ctx, "chainHistory")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

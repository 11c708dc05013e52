package sqlitestore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/sigilvault/internal/storage"
	"github.com/mrz1836/sigilvault/internal/storage/sqlitestore"
)

func newBackend(t *testing.T) storage.Backend {
	t.Helper()
	return sqlitestore.New(t.TempDir())()
}

func TestBackend_CreateOpenDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newBackend(t)

	md := storage.Metadata{SealedKeys: []byte("sealed"), Salt: []byte("salt")}
	require.NoError(t, backend.CreateStorage(ctx, "wallet-1", nil, nil, md))

	err := backend.CreateStorage(ctx, "wallet-1", nil, nil, md)
	require.Error(t, err)

	handle, err := backend.OpenStorage(ctx, "wallet-1", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = handle.Close() })

	got, err := handle.GetStorageMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, md.SealedKeys, got.SealedKeys)
	assert.Equal(t, md.Salt, got.Salt)

	require.NoError(t, handle.Close())
	require.NoError(t, backend.DeleteStorage(ctx, "wallet-1", nil, nil))

	_, err = backend.OpenStorage(ctx, "wallet-1", nil, nil)
	require.Error(t, err)
}

func TestBackend_OpenMissingWallet(t *testing.T) {
	t.Parallel()

	backend := newBackend(t)
	_, err := backend.OpenStorage(context.Background(), "nope", nil, nil)
	require.Error(t, err)
}

func TestBackend_DeleteMissingWallet(t *testing.T) {
	t.Parallel()

	backend := newBackend(t)
	err := backend.DeleteStorage(context.Background(), "nope", nil, nil)
	require.Error(t, err)
}

func TestBackend_CustomPathOverridesBase(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend := newBackend(t)
	custom := t.TempDir()

	md := storage.Metadata{SealedKeys: []byte("sealed")}
	require.NoError(t, backend.CreateStorage(ctx, "wallet-2", storage.Config{"path": custom}, nil, md))

	handle, err := backend.OpenStorage(ctx, "wallet-2", storage.Config{"path": custom}, nil)
	require.NoError(t, err)
	require.NoError(t, handle.Close())
}

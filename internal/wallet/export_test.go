package wallet_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/sigilvault/internal/record"
	"github.com/mrz1836/sigilvault/internal/storage"
	"github.com/mrz1836/sigilvault/internal/storage/sqlitestore"
	"github.com/mrz1836/sigilvault/internal/wallet"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
)

func newWalletWithBackend(t *testing.T, id string) (*wallet.Wallet, storage.Backend) {
	t.Helper()
	ctx := context.Background()

	keys, err := walletcrypto.GenerateKeys()
	require.NoError(t, err)

	backend := sqlitestore.New(t.TempDir())()
	require.NoError(t, backend.CreateStorage(ctx, id, nil, nil, storage.Metadata{SealedKeys: []byte("s")}))
	handle, err := backend.OpenStorage(ctx, id, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = handle.Close() })

	return wallet.Open(id, handle, keys), backend
}

func TestWallet_ExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src, _ := newWalletWithBackend(t, "source")
	records := []record.Record{
		{Type: "credential", Name: "bob", Value: []byte("bob-secret"), Tags: map[string]string{"~age": "30", "owner": "bob"}},
		{Type: "credential", Name: "alice", Value: []byte("alice-secret"), Tags: map[string]string{"~age": "20"}},
		{Type: "note", Name: "todo", Value: []byte("buy milk")},
	}
	for _, rec := range records {
		require.NoError(t, src.Add(ctx, rec))
	}

	var archive bytes.Buffer
	opts := wallet.ExportOptions{Passphrase: "correct horse battery staple", Method: walletcrypto.Argon2iInt, ChunkSize: 32}
	require.NoError(t, src.Export(ctx, &archive, opts))

	dest, _ := newWalletWithBackend(t, "dest")

	pending, err := wallet.Preparse(bytes.NewReader(archive.Bytes()), opts.Passphrase)
	require.NoError(t, err)
	require.NoError(t, wallet.Finish(ctx, pending, dest))

	for _, rec := range records {
		got, err := dest.Get(ctx, rec.Type, rec.Name, record.Options{RetrieveValue: true, RetrieveTags: true})
		require.NoError(t, err)
		assert.Equal(t, rec.Value, got.Value)
		assert.Equal(t, rec.Tags, got.Tags)
	}
}

func TestWallet_ImportWrongPassphraseFailsChunkAuthentication(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src, _ := newWalletWithBackend(t, "source")
	require.NoError(t, src.Add(ctx, record.Record{Type: "t", Name: "n", Value: []byte("v")}))

	var archive bytes.Buffer
	opts := wallet.ExportOptions{Passphrase: "right-passphrase", Method: walletcrypto.Argon2iInt}
	require.NoError(t, src.Export(ctx, &archive, opts))

	dest, _ := newWalletWithBackend(t, "dest")

	pending, err := wallet.Preparse(bytes.NewReader(archive.Bytes()), "wrong-passphrase")
	require.NoError(t, err)

	err = wallet.Finish(ctx, pending, dest)
	require.Error(t, err)
}

func TestWallet_ImportCorruptedChunkRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src, _ := newWalletWithBackend(t, "source")
	require.NoError(t, src.Add(ctx, record.Record{Type: "t", Name: "n", Value: []byte("v")}))

	var archive bytes.Buffer
	opts := wallet.ExportOptions{Passphrase: "passphrase", Method: walletcrypto.Argon2iInt}
	require.NoError(t, src.Export(ctx, &archive, opts))

	corrupted := archive.Bytes()
	flipIndex := len(corrupted) - 40
	corrupted[flipIndex] ^= 0xFF

	dest, _ := newWalletWithBackend(t, "dest")
	pending, err := wallet.Preparse(bytes.NewReader(corrupted), opts.Passphrase)
	require.NoError(t, err)

	err = wallet.Finish(ctx, pending, dest)
	require.Error(t, err)
}

func TestWallet_ExportEmptyWallet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src, _ := newWalletWithBackend(t, "source")

	var archive bytes.Buffer
	opts := wallet.ExportOptions{Passphrase: "passphrase", Method: walletcrypto.Argon2iMod}
	require.NoError(t, src.Export(ctx, &archive, opts))

	dest, _ := newWalletWithBackend(t, "dest")
	pending, err := wallet.Preparse(bytes.NewReader(archive.Bytes()), opts.Passphrase)
	require.NoError(t, err)
	require.NoError(t, wallet.Finish(ctx, pending, dest))
}

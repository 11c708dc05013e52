package wallet_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/sigilvault/internal/record"
	"github.com/mrz1836/sigilvault/internal/storage"
	"github.com/mrz1836/sigilvault/internal/storage/sqlitestore"
	"github.com/mrz1836/sigilvault/internal/tagquery"
	"github.com/mrz1836/sigilvault/internal/wallet"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
	walleterr "github.com/mrz1836/sigilvault/pkg/errors"
)

func openTestWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	ctx := context.Background()

	keys, err := walletcrypto.GenerateKeys()
	require.NoError(t, err)

	backend := sqlitestore.New(t.TempDir())()
	require.NoError(t, backend.CreateStorage(ctx, "wallet", nil, nil, storage.Metadata{SealedKeys: []byte("s")}))
	handle, err := backend.OpenStorage(ctx, "wallet", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = handle.Close() })

	return wallet.Open("wallet", handle, keys)
}

func TestWallet_AddGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := openTestWallet(t)

	rec := record.Record{Type: "Indy::credential", Name: "alice", Value: []byte("secret"), Tags: map[string]string{"~age": "30"}}
	require.NoError(t, w.Add(ctx, rec))

	err := w.Add(ctx, rec)
	require.ErrorIs(t, err, walleterr.ErrItemAlreadyExists)

	got, err := w.Get(ctx, rec.Type, rec.Name, record.Options{RetrieveValue: true, RetrieveTags: true})
	require.NoError(t, err)
	assert.Equal(t, rec.Value, got.Value)
	assert.Equal(t, rec.Tags, got.Tags)

	require.NoError(t, w.Delete(ctx, rec.Type, rec.Name))

	_, err = w.Get(ctx, rec.Type, rec.Name, record.DefaultOptions())
	require.ErrorIs(t, err, walleterr.ErrItemNotFound)
}

func TestWallet_GetMissing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := openTestWallet(t)

	_, err := w.Get(ctx, "type", "missing", record.DefaultOptions())
	require.ErrorIs(t, err, walleterr.ErrItemNotFound)
}

func TestWallet_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := openTestWallet(t)

	require.NoError(t, w.Add(ctx, record.Record{Type: "type", Name: "name", Value: []byte("v1")}))
	require.NoError(t, w.Update(ctx, "type", "name", []byte("v2")))

	got, err := w.Get(ctx, "type", "name", record.Options{RetrieveValue: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.Value)

	err = w.Update(ctx, "type", "missing", []byte("x"))
	require.ErrorIs(t, err, walleterr.ErrItemNotFound)
}

func TestWallet_TagLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := openTestWallet(t)

	require.NoError(t, w.Add(ctx, record.Record{Type: "type", Name: "name", Value: []byte("v")}))
	require.NoError(t, w.AddTags(ctx, "type", "name", map[string]string{"~status": "active", "owner": "alice"}))

	got, err := w.Get(ctx, "type", "name", record.Options{RetrieveTags: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"~status": "active", "owner": "alice"}, got.Tags)

	require.NoError(t, w.UpdateTags(ctx, "type", "name", map[string]string{"~status": "archived"}))
	got, err = w.Get(ctx, "type", "name", record.Options{RetrieveTags: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"~status": "archived"}, got.Tags)

	require.NoError(t, w.DeleteTags(ctx, "type", "name", []string{"~status"}))
	got, err = w.Get(ctx, "type", "name", record.Options{RetrieveTags: true})
	require.NoError(t, err)
	assert.Empty(t, got.Tags)
}

func TestWallet_SearchPlainRangeQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := openTestWallet(t)

	ages := map[string]string{"alice": "20", "bob": "30", "carol": "40"}
	for name, age := range ages {
		require.NoError(t, w.Add(ctx, record.Record{
			Type:  "person",
			Name:  name,
			Value: []byte(name),
			Tags:  map[string]string{"~age": age},
		}))
	}

	query := tagquery.Gte("~age", "25")
	it, err := w.Search(ctx, "person", query, record.SearchOptions{Options: record.Options{RetrieveValue: true}})
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	var names []string
	for it.Next(ctx) {
		names = append(names, string(it.Record().Value))
	}
	require.NoError(t, it.Err())
	assert.ElementsMatch(t, []string{"bob", "carol"}, names)
}

func TestWallet_SearchEncryptedTagEquality(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := openTestWallet(t)

	require.NoError(t, w.Add(ctx, record.Record{Type: "credential", Name: "a", Value: []byte("a"), Tags: map[string]string{"owner": "alice"}}))
	require.NoError(t, w.Add(ctx, record.Record{Type: "credential", Name: "b", Value: []byte("b"), Tags: map[string]string{"owner": "bob"}}))

	query := tagquery.Eq("owner", "alice")
	it, err := w.Search(ctx, "credential", query, record.SearchOptions{Options: record.Options{RetrieveValue: true}})
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	require.True(t, it.Next(ctx))
	assert.Equal(t, []byte("a"), it.Record().Value)
	require.False(t, it.Next(ctx))
	require.NoError(t, it.Err())
}

func TestWallet_SearchRangeOnEncryptedTagRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	w := openTestWallet(t)

	_, err := w.Search(ctx, "credential", tagquery.Gte("owner", "alice"), record.DefaultSearchOptions())
	require.ErrorIs(t, err, walleterr.ErrQuery)
}

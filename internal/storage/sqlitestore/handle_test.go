package sqlitestore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/sigilvault/internal/storage"
	"github.com/mrz1836/sigilvault/internal/storage/sqlitestore"
)

func newOpenHandle(t *testing.T) storage.Handle {
	t.Helper()
	ctx := context.Background()
	backend := sqlitestore.New(t.TempDir())()
	require.NoError(t, backend.CreateStorage(ctx, "wallet", nil, nil, storage.Metadata{SealedKeys: []byte("s")}))
	handle, err := backend.OpenStorage(ctx, "wallet", nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = handle.Close() })
	return handle
}

func TestHandle_AddGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newOpenHandle(t)

	row := storage.Row{
		TypeCiphertext:  []byte("type-ct"),
		NameCiphertext:  []byte("name-ct"),
		ValueCiphertext: []byte("value-ct"),
		Tags: []storage.TagPair{
			{Name: "~age", Value: "30", Plain: true},
			{Name: "enc-tag", Value: "enc-value", Plain: false},
		},
	}
	require.NoError(t, h.Add(ctx, row))

	err := h.Add(ctx, row)
	require.Error(t, err)

	got, err := h.Get(ctx, row.TypeCiphertext, row.NameCiphertext, storage.SearchOptions{RetrieveValue: true, RetrieveTags: true})
	require.NoError(t, err)
	assert.Equal(t, row.ValueCiphertext, got.ValueCiphertext)
	assert.Len(t, got.Tags, 2)

	require.NoError(t, h.Delete(ctx, row.TypeCiphertext, row.NameCiphertext))

	_, err = h.Get(ctx, row.TypeCiphertext, row.NameCiphertext, storage.SearchOptions{})
	require.Error(t, err)
}

func TestHandle_GetMissing(t *testing.T) {
	t.Parallel()
	h := newOpenHandle(t)

	_, err := h.Get(context.Background(), []byte("t"), []byte("n"), storage.SearchOptions{})
	require.Error(t, err)
}

func TestHandle_Update(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newOpenHandle(t)

	row := storage.Row{TypeCiphertext: []byte("t"), NameCiphertext: []byte("n"), ValueCiphertext: []byte("v1")}
	require.NoError(t, h.Add(ctx, row))

	require.NoError(t, h.Update(ctx, row.TypeCiphertext, row.NameCiphertext, []byte("v2")))

	got, err := h.Get(ctx, row.TypeCiphertext, row.NameCiphertext, storage.SearchOptions{RetrieveValue: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got.ValueCiphertext)

	err = h.Update(ctx, []byte("missing"), []byte("missing"), []byte("v3"))
	require.Error(t, err)
}

func TestHandle_AddUpdateDeleteTags(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newOpenHandle(t)

	row := storage.Row{TypeCiphertext: []byte("t"), NameCiphertext: []byte("n"), ValueCiphertext: []byte("v")}
	require.NoError(t, h.Add(ctx, row))

	require.NoError(t, h.AddTags(ctx, row.TypeCiphertext, row.NameCiphertext, []storage.TagPair{
		{Name: "~color", Value: "blue", Plain: true},
	}))

	got, err := h.Get(ctx, row.TypeCiphertext, row.NameCiphertext, storage.SearchOptions{RetrieveTags: true})
	require.NoError(t, err)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "blue", got.Tags[0].Value)

	require.NoError(t, h.UpdateTags(ctx, row.TypeCiphertext, row.NameCiphertext, []storage.TagPair{
		{Name: "~color", Value: "red", Plain: true},
		{Name: "~size", Value: "large", Plain: true},
	}))

	got, err = h.Get(ctx, row.TypeCiphertext, row.NameCiphertext, storage.SearchOptions{RetrieveTags: true})
	require.NoError(t, err)
	assert.Len(t, got.Tags, 2)

	require.NoError(t, h.DeleteTags(ctx, row.TypeCiphertext, row.NameCiphertext, []string{"~color"}))

	got, err = h.Get(ctx, row.TypeCiphertext, row.NameCiphertext, storage.SearchOptions{RetrieveTags: true})
	require.NoError(t, err)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "~size", got.Tags[0].Name)
}

func TestHandle_SearchWithPlainRangeQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newOpenHandle(t)

	typeCT := []byte("person")
	ages := map[string]string{"alice": "20", "bob": "30", "carol": "40"}
	for name, age := range ages {
		require.NoError(t, h.Add(ctx, storage.Row{
			TypeCiphertext:  typeCT,
			NameCiphertext:  []byte(name),
			ValueCiphertext: []byte(name),
			Tags:            []storage.TagPair{{Name: "~age", Value: age, Plain: true}},
		}))
	}

	query := &storage.CompiledQuery{Op: 3 /* Gte */, Name: "~age", Value: "25"}
	it, err := h.Search(ctx, typeCT, query, storage.SearchOptions{RetrieveValue: true, RetrieveTotalCount: true})
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	var names []string
	for it.Next(ctx) {
		names = append(names, string(it.Row().ValueCiphertext))
	}
	require.NoError(t, it.Err())
	assert.ElementsMatch(t, []string{"bob", "carol"}, names)
	assert.Equal(t, 2, it.TotalCount())
}

func TestHandle_SearchAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newOpenHandle(t)

	require.NoError(t, h.Add(ctx, storage.Row{TypeCiphertext: []byte("a"), NameCiphertext: []byte("1"), ValueCiphertext: []byte("v1")}))
	require.NoError(t, h.Add(ctx, storage.Row{TypeCiphertext: []byte("b"), NameCiphertext: []byte("2"), ValueCiphertext: []byte("v2")}))

	it, err := h.SearchAll(ctx)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()

	count := 0
	for it.Next(ctx) {
		count++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 2, count)
}

func TestHandle_SetStorageMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newOpenHandle(t)

	newMD := storage.Metadata{SealedKeys: []byte("rotated"), Salt: []byte("newsalt")}
	require.NoError(t, h.SetStorageMetadata(ctx, newMD))

	got, err := h.GetStorageMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, newMD.SealedKeys, got.SealedKeys)
	assert.Equal(t, newMD.Salt, got.Salt)
}

package tagquery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/sigilvault/internal/tagquery"
	"github.com/mrz1836/sigilvault/internal/walletcrypto"
)

func testKeys(t *testing.T) *walletcrypto.Keys {
	t.Helper()
	keys, err := walletcrypto.GenerateKeys()
	require.NoError(t, err)
	t.Cleanup(keys.Destroy)
	return keys
}

func TestCompile_EqOnEncryptedTag(t *testing.T) {
	t.Parallel()

	keys := testKeys(t)
	q := tagquery.Eq("tag_name_1", "tag_value_1")

	compiled, err := tagquery.Compile(q, keys)
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpEq, compiled.Op)
	assert.NotEqual(t, "tag_name_1", compiled.Name)
	assert.NotEqual(t, "tag_value_1", compiled.Value)
}

func TestCompile_EqIsDeterministic(t *testing.T) {
	t.Parallel()

	keys := testKeys(t)
	a, err := tagquery.Compile(tagquery.Eq("status", "active"), keys)
	require.NoError(t, err)
	b, err := tagquery.Compile(tagquery.Eq("status", "active"), keys)
	require.NoError(t, err)

	assert.Equal(t, a.Name, b.Name)
	assert.Equal(t, a.Value, b.Value)
}

func TestCompile_PlainTagPassesThrough(t *testing.T) {
	t.Parallel()

	keys := testKeys(t)
	q := tagquery.Gte("~age", "25")

	compiled, err := tagquery.Compile(q, keys)
	require.NoError(t, err)
	assert.Equal(t, "~age", compiled.Name)
	assert.Equal(t, "25", compiled.Value)
}

func TestCompile_RangeOnEncryptedTagFails(t *testing.T) {
	t.Parallel()

	keys := testKeys(t)
	_, err := tagquery.Compile(tagquery.Gte("age", "25"), keys)
	require.Error(t, err)
}

func TestCompile_LikeOnEncryptedTagFails(t *testing.T) {
	t.Parallel()

	keys := testKeys(t)
	_, err := tagquery.Compile(tagquery.Like("name", "foo%"), keys)
	require.Error(t, err)
}

func TestCompile_InOnEncryptedTag(t *testing.T) {
	t.Parallel()

	keys := testKeys(t)
	compiled, err := tagquery.Compile(tagquery.In("status", []string{"active", "pending"}), keys)
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpIn, compiled.Op)
	assert.Len(t, compiled.Values, 2)
	assert.NotEqual(t, "active", compiled.Values[0])
}

func TestCompile_BooleanRecursion(t *testing.T) {
	t.Parallel()

	keys := testKeys(t)
	q := tagquery.And(
		tagquery.Eq("a", "1"),
		tagquery.Or(tagquery.Eq("b", "2"), tagquery.Not(tagquery.Eq("c", "3"))),
	)

	compiled, err := tagquery.Compile(q, keys)
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpAnd, compiled.Op)
	require.Len(t, compiled.Sub, 2)
	assert.Equal(t, tagquery.OpOr, compiled.Sub[1].Op)
}

func TestCompile_EmptyAndAndOr(t *testing.T) {
	t.Parallel()

	keys := testKeys(t)

	compiledAnd, err := tagquery.Compile(tagquery.And(), keys)
	require.NoError(t, err)
	assert.Empty(t, compiledAnd.Sub)

	compiledOr, err := tagquery.Compile(tagquery.Or(), keys)
	require.NoError(t, err)
	assert.Empty(t, compiledOr.Sub)
}

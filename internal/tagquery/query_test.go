package tagquery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/sigilvault/internal/tagquery"
)

func TestParseJSON_ImplicitEquality(t *testing.T) {
	t.Parallel()

	q, err := tagquery.ParseJSON([]byte(`{"tag_name_1":"tag_value_1"}`))
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpEq, q.Op)
	assert.Equal(t, "tag_name_1", q.Name)
	assert.Equal(t, "tag_value_1", q.Value)
}

func TestParseJSON_AndOfMultipleKeys(t *testing.T) {
	t.Parallel()

	q, err := tagquery.ParseJSON([]byte(`{"a":"1","b":"2"}`))
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpAnd, q.Op)
	assert.Len(t, q.Sub, 2)
}

func TestParseJSON_PlainTagRange(t *testing.T) {
	t.Parallel()

	q, err := tagquery.ParseJSON([]byte(`{"$and":[{"~age":{"$gte":"25"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpAnd, q.Op)
	require.Len(t, q.Sub, 1)
	leaf := q.Sub[0]
	assert.Equal(t, tagquery.OpGte, leaf.Op)
	assert.Equal(t, "~age", leaf.Name)
	assert.True(t, leaf.IsPlainLeaf())
}

func TestParseJSON_In(t *testing.T) {
	t.Parallel()

	q, err := tagquery.ParseJSON([]byte(`{"status":{"$in":["active","pending"]}}`))
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpIn, q.Op)
	assert.Equal(t, []string{"active", "pending"}, q.Values)
}

func TestParseJSON_Not(t *testing.T) {
	t.Parallel()

	q, err := tagquery.ParseJSON([]byte(`{"$not":{"status":"deleted"}}`))
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpNot, q.Op)
	require.Len(t, q.Sub, 1)
	assert.Equal(t, "status", q.Sub[0].Name)
}

func TestParseJSON_Or(t *testing.T) {
	t.Parallel()

	q, err := tagquery.ParseJSON([]byte(`{"$or":[{"a":"1"},{"b":"2"}]}`))
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpOr, q.Op)
	assert.Len(t, q.Sub, 2)
}

func TestParseJSON_UnknownOperator(t *testing.T) {
	t.Parallel()

	_, err := tagquery.ParseJSON([]byte(`{"a":{"$bogus":"1"}}`))
	require.Error(t, err)
}

func TestParseJSON_EmptyAnd(t *testing.T) {
	t.Parallel()

	q, err := tagquery.ParseJSON([]byte(`{"$and":[]}`))
	require.NoError(t, err)
	assert.Equal(t, tagquery.OpAnd, q.Op)
	assert.Empty(t, q.Sub)
}

func TestQuery_String(t *testing.T) {
	t.Parallel()

	q := tagquery.Eq("name", "value")
	assert.Contains(t, q.String(), "name")
	assert.Contains(t, q.String(), "value")
}

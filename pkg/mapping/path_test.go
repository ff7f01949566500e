package mapping

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var doc any
	require.NoError(t, dec.Decode(&doc))
	return doc
}

func TestResolvePath(t *testing.T) {
	doc := decode(t, `{
		"user": {"name": "alice", "roles": ["admin", "ops"]},
		"tokens": [{"id": "t1"}, {"id": "t2"}],
		"count": 3
	}`)

	tests := []struct {
		expr string
		want any
	}{
		{"$.user.name", "alice"},
		{"$.count", json.Number("3")},
		{"$.user.roles[1]", "ops"},
		{"$.tokens[*].id", []any{"t1", "t2"}},
		{"$.tokens.length()", json.Number("2")},
		{"$.user.roles.length()", json.Number("2")},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			v, found, err := ResolvePath(doc, tc.expr)
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, tc.want, v)
		})
	}
}

func TestResolvePathOptional(t *testing.T) {
	doc := decode(t, `{"a": {"b": 1}}`)

	_, found, err := ResolvePath(doc, "$.a.missing?")
	require.NoError(t, err)
	assert.False(t, found)

	// non-optional miss is an error wrapping ErrPathMiss
	_, _, err = ResolvePath(doc, "$.a.missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPathMiss)
}

func TestResolvePathErrors(t *testing.T) {
	doc := decode(t, `{"arr": [1, 2], "obj": {"x": 1}}`)

	for _, expr := range []string{
		"no-dollar",
		"$.arr[5]",
		"$.arr[x]",
		"$.arr[1",
		"$.obj[0]",
		"$.obj.x.y",
		"$.obj.length()",
		"$.arr.length().x",
		"$..x",
	} {
		t.Run(expr, func(t *testing.T) {
			_, _, err := ResolvePath(doc, expr)
			assert.Error(t, err)
		})
	}
}

func TestResolvePathWildcardSkipsOptionalMisses(t *testing.T) {
	doc := decode(t, `{"items": [{"v": "a"}, {}, {"v": "c"}]}`)

	v, found, err := ResolvePath(doc, "$.items[*].v?")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []any{"a", "c"}, v)
}

func TestStringify(t *testing.T) {
	s, err := Stringify(json.Number("42"))
	require.NoError(t, err)
	assert.Equal(t, "42", s)

	s, err = Stringify(true)
	require.NoError(t, err)
	assert.Equal(t, "true", s)

	_, err = Stringify([]any{"x"})
	assert.Error(t, err)
}

package mapping

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySinglePath(t *testing.T) {
	doc := decode(t, `{"data": {"username": "Alice"}}`)

	out, err := Apply(doc, FieldMapping{
		Paths:           []string{"$.data.username"},
		Transformations: []string{"to-lower", "prefix(user-)", "suffix(-01)"},
	})
	require.NoError(t, err)
	assert.Equal(t, "user-alice-01", out)
}

func TestApplyBase64RoundTrip(t *testing.T) {
	secret := "s3cr3t"
	encoded := base64.StdEncoding.EncodeToString([]byte(secret))
	doc := decode(t, `{"password": "`+encoded+`"}`)

	out, err := Apply(doc, FieldMapping{
		Paths:           []string{"$.password"},
		Transformations: []string{"base64-decode"},
	})
	require.NoError(t, err)
	assert.Equal(t, secret, out)

	// encode(decode(x)) == x for well-formed x
	out, err = Apply(doc, FieldMapping{
		Paths:           []string{"$.password"},
		Transformations: []string{"base64-decode", "base64-encode"},
	})
	require.NoError(t, err)
	assert.Equal(t, encoded, out)
}

func TestApplyConcat(t *testing.T) {
	doc := decode(t, `{"a": "host1", "b": "host2"}`)

	out, err := Apply(doc, FieldMapping{
		Paths:           []string{"$.a", "$.b"},
		Transformations: []string{"concat(,)", "to-upper"},
	})
	require.NoError(t, err)
	assert.Equal(t, "HOST1,HOST2", out)
}

func TestApplyMultiplePathsRequireConcat(t *testing.T) {
	doc := decode(t, `{"a": "x", "b": "y"}`)

	_, err := Apply(doc, FieldMapping{
		Paths:           []string{"$.a", "$.b"},
		Transformations: []string{"to-upper"},
	})
	assert.Error(t, err)
}

func TestApplyDefaultOnMiss(t *testing.T) {
	doc := decode(t, `{}`)

	out, err := Apply(doc, FieldMapping{
		Paths:           []string{"$.mechanism?"},
		Transformations: []string{"default(SCRAM-SHA-512)", "to-lower"},
	})
	require.NoError(t, err)
	assert.Equal(t, "scram-sha-512", out)

	// a leading default also rescues a non-optional miss
	out, err = Apply(doc, FieldMapping{
		Paths:           []string{"$.mechanism"},
		Transformations: []string{"default(PLAIN)"},
	})
	require.NoError(t, err)
	assert.Equal(t, "PLAIN", out)
}

func TestApplyDefaultIgnoredWhenPresent(t *testing.T) {
	doc := decode(t, `{"mechanism": "SCRAM-SHA-256"}`)

	out, err := Apply(doc, FieldMapping{
		Paths:           []string{"$.mechanism"},
		Transformations: []string{"default(PLAIN)"},
	})
	require.NoError(t, err)
	assert.Equal(t, "SCRAM-SHA-256", out)
}

func TestApplyMissWithoutDefaultFails(t *testing.T) {
	doc := decode(t, `{}`)

	_, err := Apply(doc, FieldMapping{
		Paths:           []string{"$.missing?"},
		Transformations: []string{"to-upper", "default(x)"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPathMiss)
}

func TestApplyFirstFailureAborts(t *testing.T) {
	doc := decode(t, `{"v": "not base64!!!"}`)

	_, err := Apply(doc, FieldMapping{
		Paths:           []string{"$.v"},
		Transformations: []string{"base64-decode", "to-upper"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base64-decode")
}

func TestParseTransformationErrors(t *testing.T) {
	for _, s := range []string{"nope", "prefix", "prefix(x", "base64-encode(x)"} {
		t.Run(s, func(t *testing.T) {
			_, err := ParseTransformation(s)
			assert.Error(t, err)
		})
	}
}

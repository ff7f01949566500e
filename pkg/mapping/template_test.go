package mapping

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() TemplateContext {
	return TemplateContext{
		RequestParams: map[string]string{
			"request-params.environment": "staging",
			"request-params.team.name":   "payments",
		},
		Metadata: map[string]string{
			"cluster": "kafka-eu-1",
		},
		Fields: map[string]string{
			"topic":           "orders",
			"role":            "producer",
			"clientPrincipal": "svc-orders",
		},
	}
}

func TestRenderTemplate(t *testing.T) {
	tpl := []byte(`{
		"principal": "{{clientPrincipal}}",
		"scope": "{{topic}}:{{role}}",
		"env": "{{$^request-params.environment}}",
		"team": "{{$^request-params.team.name}}",
		"cluster": "{{'cluster'}}",
		"nested": {"static": true, "items": ["{{topic}}", 7]}
	}`)

	out, err := RenderTemplate(tpl, testContext())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	assert.Equal(t, "svc-orders", got["principal"])
	assert.Equal(t, "orders:producer", got["scope"])
	assert.Equal(t, "staging", got["env"])
	assert.Equal(t, "payments", got["team"])
	assert.Equal(t, "kafka-eu-1", got["cluster"])
	nested := got["nested"].(map[string]any)
	assert.Equal(t, []any{"orders", float64(7)}, nested["items"])
}

func TestRenderTemplateRejectsForeignNamespace(t *testing.T) {
	tpl := []byte(`{"v": "{{$^server.admin-token}}"}`)

	_, err := RenderTemplate(tpl, testContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request-params")
}

func TestRenderTemplateAccumulatesErrors(t *testing.T) {
	tpl := []byte(`{
		"a": "{{$^request-params.missing}}",
		"b": "{{'absent'}}",
		"c": "{{bogusField}}"
	}`)

	_, err := RenderTemplate(tpl, testContext())
	require.Error(t, err)

	var errs Errors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 3)
}

func TestRenderTemplateInvalidJSON(t *testing.T) {
	_, err := RenderTemplate([]byte(`{`), testContext())
	assert.Error(t, err)
}

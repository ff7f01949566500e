package mapping

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// RequestParamsNamespace is the only process-config namespace a template may
// read. Restricting the namespace keeps user-supplied templates from lifting
// arbitrary config values into vault requests.
const RequestParamsNamespace = "request-params."

var placeholderRe = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// TemplateContext supplies the three placeholder sources of a request-body
// template: process-level request params, directive metadata, and directive
// field accessors.
type TemplateContext struct {
	RequestParams map[string]string // keyed by full dotted path incl. the namespace
	Metadata      map[string]string
	Fields        map[string]string // topic, role, clientPrincipal
}

// Errors accumulates every substitution failure of a single template walk so
// a bad template reports all its problems at once.
type Errors []error

func (e Errors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// RenderTemplate walks the JSON template and substitutes placeholders inside
// every string value. Three forms are recognized:
//
//	{{$^request-params.<dotted-path>}}  process config, request-params.* only
//	{{'<key>'}}                         directive metadata
//	{{<field>}}                         topic | role | clientPrincipal
func RenderTemplate(tpl []byte, tc TemplateContext) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(tpl, &doc); err != nil {
		return nil, fmt.Errorf("template is not valid JSON: %w", err)
	}

	var errs Errors
	rendered := walkTemplate(doc, tc, &errs)
	if len(errs) > 0 {
		return nil, errs
	}
	return json.Marshal(rendered)
}

func walkTemplate(node any, tc TemplateContext, errs *Errors) any {
	switch t := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = walkTemplate(v, tc, errs)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = walkTemplate(v, tc, errs)
		}
		return out
	case string:
		return substitute(t, tc, errs)
	default:
		return node
	}
}

func substitute(s string, tc TemplateContext, errs *Errors) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		inner := strings.TrimSpace(m[2 : len(m)-2])

		switch {
		case strings.HasPrefix(inner, "$^"):
			path := inner[2:]
			if !strings.HasPrefix(path, RequestParamsNamespace) {
				*errs = append(*errs, fmt.Errorf("config path %q is outside the %s namespace", path, strings.TrimSuffix(RequestParamsNamespace, ".")))
				return m
			}
			v, ok := tc.RequestParams[path]
			if !ok {
				*errs = append(*errs, fmt.Errorf("config path %q is not set", path))
				return m
			}
			return v

		case strings.HasPrefix(inner, "'") && strings.HasSuffix(inner, "'") && len(inner) >= 2:
			key := inner[1 : len(inner)-1]
			v, ok := tc.Metadata[key]
			if !ok {
				*errs = append(*errs, fmt.Errorf("metadata key %q is not set", key))
				return m
			}
			return v

		default:
			v, ok := tc.Fields[inner]
			if !ok {
				*errs = append(*errs, fmt.Errorf("unknown directive field %q", inner))
				return m
			}
			return v
		}
	})
}

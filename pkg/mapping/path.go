// Package mapping holds the pure transformation pieces shared by the secret
// resolver: a small JSON path dialect, an ordered transformation pipeline, and
// the request-body template engine. Nothing in here performs I/O.
package mapping

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ErrPathMiss marks a lookup that failed because a field was absent, as
// opposed to a malformed expression. The transformation pipeline uses it to
// decide whether a leading default() may rescue the chain.
var ErrPathMiss = fmt.Errorf("path miss")

type segmentKind int

const (
	segField segmentKind = iota
	segOptField
	segIndex
	segWildcard
	segLength
)

type segment struct {
	kind segmentKind
	name string
	idx  int
}

// ResolvePath evaluates a path expression against a decoded JSON document.
// found is false only when an optional segment (`$.field?`) missed; all other
// misses are errors wrapping ErrPathMiss.
//
// Supported syntax: `$.field`, `$.field?`, `$.arr[i]`, `$.arr[*]` and
// `$.arr.length()`.
func ResolvePath(doc any, expr string) (any, bool, error) {
	segs, err := parsePath(expr)
	if err != nil {
		return nil, false, err
	}
	return eval(doc, segs, expr)
}

func parsePath(expr string) ([]segment, error) {
	if !strings.HasPrefix(expr, "$") {
		return nil, fmt.Errorf("path %q must start with $", expr)
	}
	rest := expr[1:]

	var segs []segment
	for len(rest) > 0 {
		switch {
		case strings.HasPrefix(rest, "."):
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end == -1 {
				end = len(rest)
			}
			name := rest[:end]
			rest = rest[end:]
			if name == "" {
				return nil, fmt.Errorf("path %q has an empty segment", expr)
			}
			if name == "length()" {
				if len(rest) != 0 {
					return nil, fmt.Errorf("path %q: length() must be the final segment", expr)
				}
				segs = append(segs, segment{kind: segLength})
				continue
			}
			if strings.HasSuffix(name, "?") {
				segs = append(segs, segment{kind: segOptField, name: name[:len(name)-1]})
				continue
			}
			segs = append(segs, segment{kind: segField, name: name})

		case strings.HasPrefix(rest, "["):
			end := strings.Index(rest, "]")
			if end == -1 {
				return nil, fmt.Errorf("path %q has an unterminated index", expr)
			}
			inner := rest[1:end]
			rest = rest[end+1:]
			if inner == "*" {
				segs = append(segs, segment{kind: segWildcard})
				continue
			}
			idx, err := strconv.Atoi(inner)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("path %q has invalid index %q", expr, inner)
			}
			segs = append(segs, segment{kind: segIndex, idx: idx})

		default:
			return nil, fmt.Errorf("path %q: unexpected %q", expr, rest)
		}
	}
	return segs, nil
}

func eval(doc any, segs []segment, expr string) (any, bool, error) {
	if len(segs) == 0 {
		return doc, true, nil
	}
	seg, rest := segs[0], segs[1:]

	switch seg.kind {
	case segField, segOptField:
		obj, ok := doc.(map[string]any)
		if !ok {
			return nil, false, fmt.Errorf("path %q: field %q accessed on non-object", expr, seg.name)
		}
		v, ok := obj[seg.name]
		if !ok {
			if seg.kind == segOptField {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("path %q: %w: field %q absent", expr, ErrPathMiss, seg.name)
		}
		return eval(v, rest, expr)

	case segIndex:
		arr, ok := doc.([]any)
		if !ok {
			return nil, false, fmt.Errorf("path %q: index applied to non-array", expr)
		}
		if seg.idx >= len(arr) {
			return nil, false, fmt.Errorf("path %q: %w: index %d out of range (len %d)", expr, ErrPathMiss, seg.idx, len(arr))
		}
		return eval(arr[seg.idx], rest, expr)

	case segWildcard:
		arr, ok := doc.([]any)
		if !ok {
			return nil, false, fmt.Errorf("path %q: wildcard applied to non-array", expr)
		}
		out := make([]any, 0, len(arr))
		for _, elem := range arr {
			v, found, err := eval(elem, rest, expr)
			if err != nil {
				return nil, false, err
			}
			if found {
				out = append(out, v)
			}
		}
		return out, true, nil

	case segLength:
		arr, ok := doc.([]any)
		if !ok {
			return nil, false, fmt.Errorf("path %q: length() applied to non-array", expr)
		}
		return json.Number(strconv.Itoa(len(arr))), true, nil
	}

	return nil, false, fmt.Errorf("path %q: unknown segment", expr)
}

// Stringify renders a resolved scalar as a string. Arrays and objects are not
// valid credential material and error out.
func Stringify(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("value of type %T is not a scalar", v)
	}
}

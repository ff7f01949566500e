package mapping

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	opBase64Encode = "base64-encode"
	opBase64Decode = "base64-decode"
	opToUpper      = "to-upper"
	opToLower      = "to-lower"
	opPrefix       = "prefix"
	opSuffix       = "suffix"
	opConcat       = "concat"
	opDefault      = "default"
)

// Transformation is one step of an ordered pipeline, parsed from its config
// form, e.g. "base64-decode" or "prefix(user-)".
type Transformation struct {
	Op  string
	Arg string
}

func ParseTransformation(s string) (Transformation, error) {
	if open := strings.Index(s, "("); open != -1 {
		if !strings.HasSuffix(s, ")") {
			return Transformation{}, fmt.Errorf("transformation %q: missing closing parenthesis", s)
		}
		op := s[:open]
		arg := s[open+1 : len(s)-1]
		switch op {
		case opPrefix, opSuffix, opConcat, opDefault:
			return Transformation{Op: op, Arg: arg}, nil
		}
		return Transformation{}, fmt.Errorf("unknown transformation %q", op)
	}

	switch s {
	case opBase64Encode, opBase64Decode, opToUpper, opToLower:
		return Transformation{Op: s}, nil
	case opPrefix, opSuffix, opConcat, opDefault:
		return Transformation{}, fmt.Errorf("transformation %q requires an argument", s)
	}
	return Transformation{}, fmt.Errorf("unknown transformation %q", s)
}

func ParseTransformations(ss []string) ([]Transformation, error) {
	tfs := make([]Transformation, 0, len(ss))
	for _, s := range ss {
		tf, err := ParseTransformation(s)
		if err != nil {
			return nil, err
		}
		tfs = append(tfs, tf)
	}
	return tfs, nil
}

// FieldMapping extracts one credential field from a response document: the
// paths are resolved first, then the transformations run left to right over
// the result. Multiple paths are only meaningful together with concat().
type FieldMapping struct {
	Paths           []string `yaml:"paths"`
	Transformations []string `yaml:"transformations"`
}

// Apply resolves m against doc. A path miss is an error unless the first
// transformation is default(), in which case the default value seeds the rest
// of the pipeline. The first failing transformation aborts the chain.
func Apply(doc any, m FieldMapping) (string, error) {
	tfs, err := ParseTransformations(m.Transformations)
	if err != nil {
		return "", err
	}
	if len(m.Paths) == 0 {
		return "", errors.New("field mapping has no paths")
	}

	defaulted := len(tfs) > 0 && tfs[0].Op == opDefault

	values := make([]string, 0, len(m.Paths))
	missed := false
	for _, p := range m.Paths {
		v, found, err := ResolvePath(doc, p)
		if err != nil {
			if defaulted && errors.Is(err, ErrPathMiss) {
				missed = true
				continue
			}
			return "", err
		}
		if !found {
			missed = true
			continue
		}
		s, err := Stringify(v)
		if err != nil {
			return "", fmt.Errorf("path %q: %w", p, err)
		}
		values = append(values, s)
	}

	if missed && !defaulted {
		return "", fmt.Errorf("%w: one or more paths missed and no leading default()", ErrPathMiss)
	}

	var current string
	seeded := len(values) > 0
	if len(values) == 1 {
		current = values[0]
	}

	for i, tf := range tfs {
		switch tf.Op {
		case opConcat:
			current = strings.Join(values, tf.Arg)
			seeded = true
		case opDefault:
			if i == 0 && missed {
				current = tf.Arg
				seeded = true
			}
		case opBase64Encode:
			current = base64.StdEncoding.EncodeToString([]byte(current))
		case opBase64Decode:
			decoded, err := base64.StdEncoding.DecodeString(current)
			if err != nil {
				return "", fmt.Errorf("base64-decode: %w", err)
			}
			current = string(decoded)
		case opToUpper:
			current = strings.ToUpper(current)
		case opToLower:
			current = strings.ToLower(current)
		case opPrefix:
			current = tf.Arg + current
		case opSuffix:
			current = current + tf.Arg
		}
	}

	if len(values) > 1 && !hasOp(tfs, opConcat) {
		return "", fmt.Errorf("multiple paths require a concat() transformation")
	}
	if !seeded {
		return "", fmt.Errorf("%w: no value produced", ErrPathMiss)
	}
	return current, nil
}

func hasOp(tfs []Transformation, op string) bool {
	for _, tf := range tfs {
		if tf.Op == op {
			return true
		}
	}
	return false
}

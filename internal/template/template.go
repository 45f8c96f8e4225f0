// Package template substitutes {field.path} placeholders in action
// parameters with values from a run's payload snapshot.
//
// Placeholders are pure path lookups. There is no expression syntax, no
// function calls and no arithmetic: the data source is an untrusted webhook
// body, so the only thing a placeholder can do is read a field.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/Atif-27/AutoChain/internal/workflow"
)

// placeholder matches {seg} and {seg.seg...} where each segment is a
// field name or array index.
var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_-]+(?:\.[A-Za-z0-9_-]+)*)\}`)

// Interpolate replaces every placeholder in tmpl with the value found at its
// path in data. Placeholders whose path does not resolve are left as-is.
//
// Rendering: strings verbatim, numbers as JSON text, booleans as true or
// false, objects and arrays as compact JSON in payload form, null as "".
func Interpolate(tmpl string, data map[string]any) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	return placeholder.ReplaceAllStringFunc(tmpl, func(token string) string {
		path := token[1 : len(token)-1]
		v, ok := Lookup(data, path)
		if !ok {
			return token
		}
		s, ok := render(v)
		if !ok {
			return token
		}
		return s
	})
}

// Placeholders returns the distinct paths referenced by tmpl in order of
// first appearance.
func Placeholders(tmpl string) []string {
	matches := placeholder.FindAllStringSubmatch(tmpl, -1)
	seen := make(map[string]bool, len(matches))
	var paths []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			paths = append(paths, m[1])
		}
	}
	return paths
}

// Lookup follows a dot-separated path through nested maps and arrays.
// Numeric segments index into arrays; on a map they are plain keys.
func Lookup(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case map[string]string:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func render(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", true
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case json.Number:
		return val.String(), true
	}
	out, err := workflow.EncodePayload(v)
	if err != nil {
		return "", false
	}
	return string(out), true
}

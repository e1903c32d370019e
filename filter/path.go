package filter

import "strings"

// Value is a resolved location inside a SCIM resource: a container
// (the object or array it came from) plus the key or index that reaches
// it. Mutation handles go through a Value so the PATCH Applier can set
// or delete in place without re-resolving the path.
type Value struct {
	Data interface{} // the resolved JSON value itself

	// Parent/Key/Index describe where Data lives, so callers can mutate
	// it. Exactly one of Key (object field) or Index (array element)
	// applies, selected by whether Parent is a map or a slice. Both are
	// zero when Data is the resource root itself.
	Parent interface{}
	Key    string
	Index  int
	HasKey bool
}

// ResolvePath resolves path against resource, fanning out across any
// multi-valued (array) intermediate step. It implements §4.3: case
// insensitive segment matching, a missing attribute yields no results
// rather than an error, and descending through an array evaluates the
// remaining path against every element.
func ResolvePath(resource map[string]interface{}, path AttrPath) []Value {
	if len(path.Segments) == 0 {
		return nil
	}
	return resolveSegments(resource, path.Segments)
}

func resolveSegments(container interface{}, segments []string) []Value {
	if len(segments) == 0 {
		return nil
	}
	head, rest := segments[0], segments[1:]

	switch c := container.(type) {
	case map[string]interface{}:
		key, val, ok := lookupCaseInsensitive(c, head)
		if !ok {
			return nil
		}
		if len(rest) == 0 {
			return []Value{{Data: val, Parent: c, Key: key, HasKey: true}}
		}
		return resolveSegments(val, rest)

	case []interface{}:
		var out []Value
		for _, elem := range c {
			out = append(out, resolveSegments(elem, segments)...)
		}
		return out

	default:
		return nil
	}
}

func lookupCaseInsensitive(m map[string]interface{}, name string) (string, interface{}, bool) {
	if v, ok := m[name]; ok {
		return name, v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, name) {
			return k, v, true
		}
	}
	return "", nil, false
}

// Values extracts the underlying JSON values from a Value slice, the
// shape the Evaluator and projection logic actually want to compare or
// emit.
func Values(vs []Value) []interface{} {
	out := make([]interface{}, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Data)
	}
	return out
}

// AsObject returns v's Data as a map[string]interface{}, or nil, false
// if it isn't one. Useful when resolving a complex node's predicate
// against each array element.
func AsObject(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

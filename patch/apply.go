package patch

import (
	"strings"

	"github.com/abugrin/scim-proxy/filter"
	"github.com/abugrin/scim-proxy/scimerr"
)

// immutableAttrs are the attributes the Applier refuses to touch under
// any operation, per §4.6: "schemas, id, meta are immutable".
var immutableAttrs = map[string]bool{"schemas": true, "id": true, "meta": true}

func isImmutable(name string) bool {
	return immutableAttrs[strings.ToLower(name)]
}

func mutabilityError(name string) error {
	return scimerr.Newf(scimerr.Mutability, "attribute %q is immutable", name)
}

func noTargetError(path string) error {
	return scimerr.Newf(scimerr.NoTarget, "PATCH selector matched no elements at %q", path)
}

// Apply executes ops against resource in order, mutating it in place.
// A failing operation aborts the whole PATCH (§4.6): the caller should
// discard resource rather than continue with a partially applied
// document, since upstream is never written to until Apply succeeds.
func Apply(resource map[string]interface{}, ops []Operation) error {
	for _, op := range ops {
		var err error
		switch op.Kind {
		case OpAdd:
			err = applyAdd(resource, op)
		case OpReplace:
			err = applyReplace(resource, op)
		case OpRemove:
			err = applyRemove(resource, op)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func applyAdd(resource map[string]interface{}, op Operation) error {
	if op.Path == nil {
		obj, ok := op.Value.(map[string]interface{})
		if !ok {
			return scimerr.New(scimerr.InvalidPath, "add without a path requires an object value")
		}
		for key, val := range obj {
			if isImmutable(key) {
				return mutabilityError(key)
			}
			mergeAtKey(resource, key, val)
		}
		return nil
	}

	attr := op.Path.Attr
	if isImmutable(attr.Segments[0]) {
		return mutabilityError(attr.Segments[0])
	}

	if op.Path.Selector == nil {
		container, key, existed, _ := navigate(resource, attr.Segments, true)
		addAtContainer(container, key, existed, op.Value)
		return nil
	}

	_, _, arr, ok := resolveArray(resource, attr)
	if !ok {
		return noTargetError(attr.String())
	}
	indices := matchingIndices(arr, op.Path.Selector)
	if len(indices) == 0 {
		return noTargetError(attr.String())
	}
	for _, i := range indices {
		elem, ok := arr[i].(map[string]interface{})
		if !ok {
			continue
		}
		if op.Path.Sub != "" {
			if isImmutable(op.Path.Sub) {
				return mutabilityError(op.Path.Sub)
			}
			elem[op.Path.Sub] = op.Value
			continue
		}
		obj, ok := op.Value.(map[string]interface{})
		if !ok {
			return scimerr.New(scimerr.InvalidPath, "add with a selector and no sub-attribute requires an object value")
		}
		for key, val := range obj {
			if isImmutable(key) {
				return mutabilityError(key)
			}
			elem[key] = val
		}
	}
	return nil
}

// mergeAtKey implements the "add at that attribute" step of a path-less
// merge: set if singular/absent, append if the existing value is an
// array — the same rule addAtContainer applies for a direct path.
func mergeAtKey(resource map[string]interface{}, key string, val interface{}) {
	actualKey, existing, found := lookupCI(resource, key)
	if !found {
		resource[key] = val
		return
	}
	if arr, ok := existing.([]interface{}); ok {
		if more, ok := val.([]interface{}); ok {
			resource[actualKey] = append(arr, more...)
		} else {
			resource[actualKey] = append(arr, val)
		}
		return
	}
	resource[actualKey] = val
}

func addAtContainer(container map[string]interface{}, key string, existed bool, value interface{}) {
	if !existed {
		container[key] = value
		return
	}
	if arr, ok := container[key].([]interface{}); ok {
		if more, ok := value.([]interface{}); ok {
			container[key] = append(arr, more...)
		} else {
			container[key] = append(arr, value)
		}
		return
	}
	container[key] = value
}

func applyReplace(resource map[string]interface{}, op Operation) error {
	if op.Path == nil {
		obj, ok := op.Value.(map[string]interface{})
		if !ok {
			return scimerr.New(scimerr.InvalidPath, "replace without a path requires an object value")
		}
		for key, val := range obj {
			if isImmutable(key) {
				return mutabilityError(key)
			}
			actualKey, _, found := lookupCI(resource, key)
			if !found {
				actualKey = key
			}
			resource[actualKey] = val
		}
		return nil
	}

	attr := op.Path.Attr
	if isImmutable(attr.Segments[0]) {
		return mutabilityError(attr.Segments[0])
	}

	if op.Path.Selector == nil {
		container, key, _, _ := navigate(resource, attr.Segments, true)
		container[key] = op.Value
		return nil
	}

	_, _, arr, ok := resolveArray(resource, attr)
	if !ok {
		return nil // no array to replace into: selector-matches-zero is a no-op
	}
	indices := matchingIndices(arr, op.Path.Selector)
	if len(indices) == 0 {
		return nil
	}
	for _, i := range indices {
		if op.Path.Sub != "" {
			if isImmutable(op.Path.Sub) {
				return mutabilityError(op.Path.Sub)
			}
			if elem, ok := arr[i].(map[string]interface{}); ok {
				elem[op.Path.Sub] = op.Value
			}
			continue
		}
		arr[i] = op.Value
	}
	return nil
}

func applyRemove(resource map[string]interface{}, op Operation) error {
	if op.Path == nil {
		return scimerr.New(scimerr.InvalidPath, "remove requires a path")
	}

	attr := op.Path.Attr
	if isImmutable(attr.Segments[0]) {
		return mutabilityError(attr.Segments[0])
	}

	if op.Path.Selector == nil {
		container, key, existed, _ := navigate(resource, attr.Segments, false)
		if existed {
			delete(container, key)
		}
		return nil
	}

	container, key, arr, ok := resolveArray(resource, attr)
	if !ok {
		return nil // no array: selector-matches-zero is a no-op
	}
	indices := matchingIndices(arr, op.Path.Selector)
	if len(indices) == 0 {
		return nil
	}

	if op.Path.Sub != "" {
		if isImmutable(op.Path.Sub) {
			return mutabilityError(op.Path.Sub)
		}
		for _, i := range indices {
			if elem, ok := arr[i].(map[string]interface{}); ok {
				deleteCI(elem, op.Path.Sub)
			}
		}
		return nil
	}

	removed := make(map[int]bool, len(indices))
	for _, i := range indices {
		removed[i] = true
	}
	kept := make([]interface{}, 0, len(arr)-len(indices))
	for i, elem := range arr {
		if !removed[i] {
			kept = append(kept, elem)
		}
	}
	if len(kept) == 0 {
		delete(container, key)
	} else {
		container[key] = kept
	}
	return nil
}

// navigate walks segments[:-1] through resource, creating intermediate
// maps when create is true (needed for add/replace, which may target a
// path that doesn't exist yet), and resolves the final segment's actual
// (case-preserving) key. existed reports whether that final key was
// already present; ok is false only when create is false and an
// intermediate segment is missing or not a container.
func navigate(resource map[string]interface{}, segments []string, create bool) (container map[string]interface{}, key string, existed bool, ok bool) {
	container = resource
	for _, seg := range segments[:len(segments)-1] {
		actualKey, val, found := lookupCI(container, seg)
		if !found {
			if !create {
				return nil, "", false, false
			}
			next := map[string]interface{}{}
			container[seg] = next
			container = next
			continue
		}
		next, isMap := val.(map[string]interface{})
		if !isMap {
			if !create {
				return nil, "", false, false
			}
			next = map[string]interface{}{}
			container[actualKey] = next
		}
		container = next
	}

	last := segments[len(segments)-1]
	actualKey, _, found := lookupCI(container, last)
	if found {
		return container, actualKey, true, true
	}
	return container, last, false, true
}

// resolveArray navigates to attr without creating intermediates and
// reports whether it resolves to an array.
func resolveArray(resource map[string]interface{}, attr filter.AttrPath) (container map[string]interface{}, key string, arr []interface{}, ok bool) {
	c, k, existed, navOK := navigate(resource, attr.Segments, false)
	if !navOK || !existed {
		return nil, "", nil, false
	}
	a, isArr := c[k].([]interface{})
	if !isArr {
		return nil, "", nil, false
	}
	return c, k, a, true
}

func matchingIndices(arr []interface{}, selector filter.Node) []int {
	var idx []int
	for i, elem := range arr {
		obj, ok := elem.(map[string]interface{})
		if !ok {
			continue
		}
		if filter.Evaluate(selector, obj) {
			idx = append(idx, i)
		}
	}
	return idx
}

func lookupCI(m map[string]interface{}, name string) (string, interface{}, bool) {
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

func deleteCI(m map[string]interface{}, name string) {
	if _, ok := m[name]; ok {
		delete(m, name)
		return
	}
	for k := range m {
		if strings.EqualFold(k, name) {
			delete(m, k)
			return
		}
	}
}

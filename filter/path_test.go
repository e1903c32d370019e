package filter

import "testing"

func TestResolvePathCaseInsensitive(t *testing.T) {
	resource := map[string]interface{}{"UserName": "alice"}
	vals := ResolvePath(resource, AttrPath{Segments: []string{"userName"}})
	if len(vals) != 1 || vals[0].Data != "alice" {
		t.Fatalf("expected [alice], got %v", vals)
	}
}

func TestResolvePathNested(t *testing.T) {
	resource := map[string]interface{}{
		"name": map[string]interface{}{"givenName": "Alice"},
	}
	vals := ResolvePath(resource, AttrPath{Segments: []string{"name", "givenName"}})
	if len(vals) != 1 || vals[0].Data != "Alice" {
		t.Fatalf("expected [Alice], got %v", vals)
	}
}

func TestResolvePathMissingAttribute(t *testing.T) {
	resource := map[string]interface{}{"id": "1"}
	vals := ResolvePath(resource, AttrPath{Segments: []string{"nickName"}})
	if len(vals) != 0 {
		t.Fatalf("expected no values for a missing attribute, got %v", vals)
	}
}

func TestResolvePathArrayFanOut(t *testing.T) {
	resource := map[string]interface{}{
		"emails": []interface{}{
			map[string]interface{}{"value": "a@corp.io"},
			map[string]interface{}{"value": "b@corp.io"},
		},
	}
	vals := ResolvePath(resource, AttrPath{Segments: []string{"emails", "value"}})
	if len(vals) != 2 {
		t.Fatalf("expected 2 fanned-out values, got %d", len(vals))
	}
	seen := map[string]bool{}
	for _, v := range vals {
		seen[v.Data.(string)] = true
	}
	if !seen["a@corp.io"] || !seen["b@corp.io"] {
		t.Fatalf("expected both emails, got %v", vals)
	}
}

func TestResolvePathMutationHandle(t *testing.T) {
	resource := map[string]interface{}{"active": true}
	vals := ResolvePath(resource, AttrPath{Segments: []string{"active"}})
	if len(vals) != 1 {
		t.Fatalf("expected one value, got %v", vals)
	}
	v := vals[0]
	parent, ok := v.Parent.(map[string]interface{})
	if !ok || !v.HasKey {
		t.Fatalf("expected a mutable map handle, got %+v", v)
	}
	parent[v.Key] = false
	if resource["active"] != false {
		t.Fatalf("expected mutation through the handle to update the resource, got %v", resource)
	}
}

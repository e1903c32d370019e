// Package patch implements the RFC 7644 §3.5.2 PATCH path sub-language
// and the read-modify-write Applier that executes add/replace/remove
// operations over an in-memory SCIM resource.
package patch

import (
	"strings"

	"github.com/abugrin/scim-proxy/filter"
	"github.com/abugrin/scim-proxy/scimerr"
)

// Path is a parsed PATCH path: an attribute, optionally narrowed by a
// value selector, optionally followed by a sub-attribute. Per §4.5 it
// covers `attr`, `attr.sub`, `attr[filter]`, and `attr[filter].sub`.
type Path struct {
	Attr     filter.AttrPath
	Selector filter.Node // nil when no "[...]" selector is present
	Sub      string      // "" when no trailing sub-attribute is present
}

func newPathError(format string, args ...interface{}) error {
	return scimerr.Newf(scimerr.InvalidPath, format, args...)
}

// ParsePath parses raw PATCH-operation path text. maxComplexity bounds
// the embedded selector filter the same way it bounds a top-level
// filter (§4.2); a value of 0 leaves it unbounded.
func ParsePath(raw string, maxComplexity int) (*Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, newPathError("path must not be empty")
	}

	open := strings.IndexByte(raw, '[')
	if open == -1 {
		attr := filter.ParseAttrPath(raw)
		if err := validateAttr(attr); err != nil {
			return nil, err
		}
		return &Path{Attr: attr}, nil
	}

	attrText := raw[:open]
	if attrText == "" {
		return nil, newPathError("path %q has a selector with no attribute", raw)
	}
	attr := filter.ParseAttrPath(attrText)
	if err := validateAttr(attr); err != nil {
		return nil, err
	}

	close, err := matchingBracket(raw, open)
	if err != nil {
		return nil, err
	}

	selector, err := filter.ParseFilter(raw[open+1:close], maxComplexity)
	if err != nil {
		return nil, err
	}

	remainder := raw[close+1:]
	if remainder == "" {
		return &Path{Attr: attr, Selector: selector}, nil
	}
	if remainder[0] != '.' {
		return nil, newPathError("unexpected text %q after selector in path %q", remainder, raw)
	}
	sub := remainder[1:]
	if sub == "" || strings.ContainsAny(sub, ".[]") {
		return nil, newPathError("sub-attribute %q in path %q must not itself be complex", sub, raw)
	}
	return &Path{Attr: attr, Selector: selector, Sub: sub}, nil
}

func validateAttr(attr filter.AttrPath) error {
	if len(attr.Segments) == 0 || attr.Segments[0] == "" {
		return newPathError("path has no attribute")
	}
	return nil
}

// matchingBracket returns the index of the "]" that closes the "[" at
// openIdx, skipping over bracket characters inside quoted strings and
// any nested selector (complex-on-complex is rejected later, not here).
func matchingBracket(s string, openIdx int) (int, error) {
	depth := 0
	inString := false
	for i := openIdx; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' {
				i++ // skip the escaped character
				continue
			}
			if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return -1, newPathError("unbalanced brackets in path %q", s)
}

package filter

import (
	"testing"

	"github.com/abugrin/scim-proxy/internal/testutil"
	"github.com/abugrin/scim-proxy/scimerr"
)

func mustParse(t *testing.T, src string) Node {
	node, err := ParseFilter(src, 0)
	testutil.Ensure(t, err)
	return node
}

func TestParseComparison(t *testing.T) {
	node := mustParse(t, `userName eq "alice"`)
	cmp, ok := node.(*CompareNode)
	if !ok {
		t.Fatalf("expected *CompareNode, got %T", node)
	}
	if cmp.Path.String() != "userName" || cmp.Op != OpEq || cmp.Value.Str != "alice" {
		t.Fatalf("unexpected node: %+v", cmp)
	}
}

func TestParsePrecedence(t *testing.T) {
	// "and" binds tighter than "or": a or b and c == a or (b and c)
	node := mustParse(t, `active eq true or name.givenName sw "A" and name.familyName pr`)
	or, ok := node.(*OrNode)
	if !ok {
		t.Fatalf("expected top-level OrNode, got %T", node)
	}
	if _, ok := or.Right.(*AndNode); !ok {
		t.Fatalf("expected right side of or to be an AndNode, got %T", or.Right)
	}
}

func TestParseNot(t *testing.T) {
	node := mustParse(t, `not (active eq true)`)
	if _, ok := node.(*NotNode); !ok {
		t.Fatalf("expected *NotNode, got %T", node)
	}
}

func TestParseComplexWithSubAttribute(t *testing.T) {
	node := mustParse(t, `emails[type eq "work" and primary eq true].value`)
	cx, ok := node.(*ComplexNode)
	if !ok {
		t.Fatalf("expected *ComplexNode, got %T", node)
	}
	if cx.Path.String() != "emails" || cx.Sub == nil || *cx.Sub != "value" {
		t.Fatalf("unexpected complex node: %+v", cx)
	}
	if _, ok := cx.Predicate.(*AndNode); !ok {
		t.Fatalf("expected predicate to be an AndNode, got %T", cx.Predicate)
	}
}

func TestParseURIQualifiedPath(t *testing.T) {
	node := mustParse(t, `urn:ietf:params:scim:schemas:core:2.0:User:userName eq "alice"`)
	cmp := node.(*CompareNode)
	if cmp.Path.String() != "userName" {
		t.Fatalf("expected stripped path %q, got %q", "userName", cmp.Path.String())
	}
}

func TestParseInvalidFilter(t *testing.T) {
	_, err := ParseFilter(`userName eq`, 0)
	testutil.MustFail(t, err)
	e, ok := scimerr.As(err)
	if !ok || e.Type() != scimerr.InvalidFilter {
		t.Fatalf("expected InvalidFilter, got %v", err)
	}
}

func TestParseComplexityLimit(t *testing.T) {
	// S3: active eq true and name.givenName sw "A" has complexity 3.
	_, err := ParseFilter(`active eq true and name.givenName sw "A"`, 2)
	testutil.MustFail(t, err)
	e, ok := scimerr.As(err)
	if !ok || e.Type() != scimerr.FilterTooComplex {
		t.Fatalf("expected FilterTooComplex, got %v", err)
	}

	testutil.Ensure(t, func() error {
		_, err := ParseFilter(`active eq true and name.givenName sw "A"`, 3)
		return err
	}())
}

func TestParseUnbalancedParen(t *testing.T) {
	_, err := ParseFilter(`(active eq true`, 0)
	testutil.MustFail(t, err)
}

package patch

import (
	"testing"

	"github.com/abugrin/scim-proxy/internal/testutil"
)

func TestParsePathSimple(t *testing.T) {
	p, err := ParsePath("active", 0)
	testutil.Ensure(t, err)
	if p.Attr.String() != "active" || p.Selector != nil || p.Sub != "" {
		t.Fatalf("unexpected path: %+v", p)
	}
}

func TestParsePathDottedSubAttribute(t *testing.T) {
	p, err := ParsePath("name.givenName", 0)
	testutil.Ensure(t, err)
	if p.Attr.String() != "name.givenName" || p.Selector != nil {
		t.Fatalf("unexpected path: %+v", p)
	}
}

func TestParsePathWithSelectorAndSub(t *testing.T) {
	p, err := ParsePath(`emails[type eq "work"].value`, 0)
	testutil.Ensure(t, err)
	if p.Attr.String() != "emails" || p.Selector == nil || p.Sub != "value" {
		t.Fatalf("unexpected path: %+v", p)
	}
}

func TestParsePathNoAttribute(t *testing.T) {
	_, err := ParsePath("[type eq \"work\"]", 0)
	testutil.MustFail(t, err)
}

func TestParsePathUnbalancedBracket(t *testing.T) {
	_, err := ParsePath(`emails[type eq "work"`, 0)
	testutil.MustFail(t, err)
}

func TestParsePathComplexSubAttribute(t *testing.T) {
	_, err := ParsePath(`emails[type eq "work"].sub[value eq "x"]`, 0)
	testutil.MustFail(t, err)
}

func TestParsePathEmpty(t *testing.T) {
	_, err := ParsePath("", 0)
	testutil.MustFail(t, err)
}

package filter

import (
	"testing"

	"github.com/abugrin/scim-proxy/internal/testutil"
	"github.com/abugrin/scim-proxy/scimerr"
)

func lexAll(t *testing.T, src string) []Token {
	toks, err := tokenize(src)
	testutil.Ensure(t, err)
	return toks
}

func TestLexerKeywordsCaseInsensitive(t *testing.T) {
	toks := lexAll(t, `userName EQ "alice" AND active Pr`)
	kinds := make([]TokenKind, 0, len(toks))
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	want := []TokenKind{TokIdent, TokEq, TokString, TokAnd, TokIdent, TokPr, TokEOF}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(kinds), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("token %d: expected %v, got %v", i, want[i], kinds[i])
		}
	}
}

func TestLexerStringEscapes(t *testing.T) {
	toks := lexAll(t, `"a\"b\\c\/d\nA"`)
	if len(toks) != 2 || toks[0].Kind != TokString {
		t.Fatalf("unexpected tokens: %v", toks)
	}
	if toks[0].Text != "a\"b\\c/d\nA" {
		t.Fatalf("unexpected decoded string: %q", toks[0].Text)
	}
}

func TestLexerUnterminatedString(t *testing.T) {
	_, err := tokenize(`"unterminated`)
	testutil.MustFail(t, err)
	e, ok := scimerr.As(err)
	if !ok || e.Type() != scimerr.InvalidFilter {
		t.Fatalf("expected InvalidFilter, got %v", err)
	}
}

func TestLexerNumbers(t *testing.T) {
	toks := lexAll(t, `-1 2.5 3e10 4E-2`)
	for i, want := range []string{"-1", "2.5", "3e10", "4E-2"} {
		if toks[i].Kind != TokNumber || toks[i].Text != want {
			t.Fatalf("token %d: expected number %q, got %+v", i, want, toks[i])
		}
	}
}

func TestLexerURIQualifiedIdent(t *testing.T) {
	toks := lexAll(t, `urn:ietf:params:scim:schemas:core:2.0:User:userName`)
	if len(toks) != 2 || toks[0].Kind != TokIdent {
		t.Fatalf("expected a single identifier token, got %v", toks)
	}
}

func TestLexerUnknownRune(t *testing.T) {
	_, err := tokenize(`userName eq #alice`)
	testutil.MustFail(t, err)
}

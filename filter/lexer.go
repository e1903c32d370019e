// Package filter implements the RFC 7644 §3.4.2.2 filter expression
// language: a lexer, a recursive-descent parser that produces an
// abstract syntax tree, and an evaluator that runs that tree against a
// SCIM JSON resource.
package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/abugrin/scim-proxy/scimerr"
)

// ErrInvalidFilter and ErrFilterTooComplex are the two scimerr.Kind values
// this package can produce.
const (
	ErrInvalidFilter    = scimerr.InvalidFilter
	ErrFilterTooComplex = scimerr.FilterTooComplex
)

// NewError builds a *scimerr.Error for this package's failures.
func NewError(kind scimerr.Kind, message string) error {
	return scimerr.New(kind, message)
}

// TokenKind identifies the lexical class of a Token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokString
	TokNumber
	TokTrue
	TokFalse
	TokNull
	TokLParen
	TokRParen
	TokLBrack
	TokRBrack
	TokDot
	TokAnd
	TokOr
	TokNot
	TokPr
	TokEq
	TokNe
	TokCo
	TokSw
	TokEw
	TokGt
	TokGe
	TokLt
	TokLe
)

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Kind TokenKind
	Text string // original source text (decoded for strings)
	Pos  int    // byte offset in the source where the token started
}

var keywords = map[string]TokenKind{
	"and":   TokAnd,
	"or":    TokOr,
	"not":   TokNot,
	"pr":    TokPr,
	"eq":    TokEq,
	"ne":    TokNe,
	"co":    TokCo,
	"sw":    TokSw,
	"ew":    TokEw,
	"gt":    TokGt,
	"ge":    TokGe,
	"lt":    TokLt,
	"le":    TokLe,
	"true":  TokTrue,
	"false": TokFalse,
	"null":  TokNull,
}

// Lexer tokenizes SCIM filter source text.
type Lexer struct {
	src string
	pos int
}

// NewLexer creates a Lexer over src.
func NewLexer(src string) *Lexer {
	return &Lexer{src: src}
}

func isIdentStart(r byte) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// isIdentPart matches the characters that may appear in an attribute path
// once lexing has started: letters, digits, underscore, hyphen, dot (for
// sub-attributes) and colon (for URI-qualified names and their URN bodies).
func isIdentPart(r byte) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9') || r == '-' || r == '.' || r == ':'
}

func isDigit(r byte) bool {
	return r >= '0' && r <= '9'
}

// Next returns the next token in the source, or a TokEOF token once
// exhausted. It returns InvalidFilter on an unterminated string or an
// unrecognized rune.
func (l *Lexer) Next() (Token, error) {
	l.skipSpace()

	if l.pos >= len(l.src) {
		return Token{Kind: TokEOF, Pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch c {
	case '(':
		l.pos++
		return Token{Kind: TokLParen, Text: "(", Pos: start}, nil
	case ')':
		l.pos++
		return Token{Kind: TokRParen, Text: ")", Pos: start}, nil
	case '[':
		l.pos++
		return Token{Kind: TokLBrack, Text: "[", Pos: start}, nil
	case ']':
		l.pos++
		return Token{Kind: TokRBrack, Text: "]", Pos: start}, nil
	case '"':
		return l.lexString()
	case '.':
		l.pos++
		return Token{Kind: TokDot, Text: ".", Pos: start}, nil
	}

	if c == '-' || isDigit(c) {
		return l.lexNumber()
	}

	if isIdentStart(c) {
		return l.lexIdentOrKeyword()
	}

	return Token{}, NewError(ErrInvalidFilter, fmt.Sprintf("unexpected character %q at position %d", c, start))
}

func (l *Lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *Lexer) lexIdentOrKeyword() (Token, error) {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	text := l.src[start:l.pos]

	// A bare keyword never contains '.' or ':' — those only appear in
	// attribute paths, which are never reserved words.
	if !strings.ContainsAny(text, ".:") {
		if kind, ok := keywords[strings.ToLower(text)]; ok {
			return Token{Kind: kind, Text: text, Pos: start}, nil
		}
	}
	return Token{Kind: TokIdent, Text: text, Pos: start}, nil
}

func (l *Lexer) lexNumber() (Token, error) {
	start := l.pos
	if l.src[l.pos] == '-' {
		l.pos++
	}
	if l.pos >= len(l.src) || !isDigit(l.src[l.pos]) {
		return Token{}, NewError(ErrInvalidFilter, fmt.Sprintf("invalid number at position %d", start))
	}
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		if l.pos >= len(l.src) || !isDigit(l.src[l.pos]) {
			return Token{}, NewError(ErrInvalidFilter, fmt.Sprintf("invalid number at position %d", start))
		}
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		save := l.pos
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		if l.pos >= len(l.src) || !isDigit(l.src[l.pos]) {
			l.pos = save // not a valid exponent, back off
		} else {
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
		}
	}
	text := l.src[start:l.pos]
	if _, err := strconv.ParseFloat(text, 64); err != nil {
		return Token{}, NewError(ErrInvalidFilter, fmt.Sprintf("invalid number %q at position %d", text, start))
	}
	return Token{Kind: TokNumber, Text: text, Pos: start}, nil
}

func (l *Lexer) lexString() (Token, error) {
	start := l.pos
	l.pos++ // opening quote
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return Token{}, NewError(ErrInvalidFilter, fmt.Sprintf("unterminated string starting at position %d", start))
		}
		c := l.src[l.pos]
		if c == '"' {
			l.pos++
			return Token{Kind: TokString, Text: b.String(), Pos: start}, nil
		}
		if c == '\\' {
			l.pos++
			if l.pos >= len(l.src) {
				return Token{}, NewError(ErrInvalidFilter, fmt.Sprintf("unterminated string starting at position %d", start))
			}
			esc := l.src[l.pos]
			switch esc {
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			case '/':
				b.WriteByte('/')
			case 'b':
				b.WriteByte('\b')
			case 'f':
				b.WriteByte('\f')
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'u':
				if l.pos+4 >= len(l.src) {
					return Token{}, NewError(ErrInvalidFilter, fmt.Sprintf("invalid unicode escape at position %d", l.pos))
				}
				hex := l.src[l.pos+1 : l.pos+5]
				code, err := strconv.ParseUint(hex, 16, 32)
				if err != nil {
					return Token{}, NewError(ErrInvalidFilter, fmt.Sprintf("invalid unicode escape %q at position %d", hex, l.pos))
				}
				b.WriteRune(rune(code))
				l.pos += 4
			default:
				return Token{}, NewError(ErrInvalidFilter, fmt.Sprintf("invalid escape sequence \\%c at position %d", esc, l.pos))
			}
			l.pos++
			continue
		}
		b.WriteByte(c)
		l.pos++
	}
}

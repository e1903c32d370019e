// Package scimerr defines the proxy's error taxonomy and its mapping to
// HTTP status codes and SCIM scimType values. It is grounded on the
// teacher's scimserverlite.SCIMTypedError: a plain error plus a Type()
// accessor that the HTTP layer switches on to pick a status code, except
// here the target is a SCIM Error envelope rather than a plain text body.
package scimerr

import "fmt"

// Kind is one of the taxonomy entries from the error handling design.
type Kind int

const (
	// InvalidFilter: the filter parser rejected the expression.
	InvalidFilter Kind = iota
	// FilterTooComplex: complexity counter exceeded the configured maximum.
	FilterTooComplex
	// InvalidPath: a PATCH path was unparseable.
	InvalidPath
	// NoTarget: a PATCH selector matched nothing where one was required.
	NoTarget
	// Mutability: a PATCH touched an immutable attribute (schemas, id, meta).
	Mutability
	// UpstreamError: the upstream returned a non-2xx status.
	UpstreamError
	// UpstreamUnavailable: a transport error or timeout talking upstream.
	UpstreamUnavailable
	// Internal: an unexpected failure inside the proxy itself.
	Internal
)

// HTTPStatus returns the HTTP status code the Coordinator should use when
// this kind of error reaches the edge, absent an upstream-supplied status.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidFilter, FilterTooComplex, InvalidPath, NoTarget, Mutability:
		return 400
	case UpstreamUnavailable:
		return 502
	case UpstreamError:
		return 502 // overridden by Error.UpstreamStatus when set
	case Internal:
		return 500
	default:
		return 500
	}
}

// SCIMType returns the scimType value for the Error envelope, or "" if
// this kind has none (UpstreamError forwards the upstream's own envelope
// verbatim and never synthesizes a scimType).
func (k Kind) SCIMType() string {
	switch k {
	case InvalidFilter:
		return "invalidFilter"
	case FilterTooComplex:
		return "tooMany"
	case InvalidPath:
		return "invalidPath"
	case NoTarget:
		return "noTarget"
	case Mutability:
		return "mutability"
	default:
		return ""
	}
}

// Error is the concrete error type carried through the proxy. It mirrors
// scimserverlite.scimError but additionally records upstream status/body
// so UpstreamError can be forwarded byte-for-byte.
type Error struct {
	kind           Kind
	message        string
	UpstreamStatus int
	UpstreamBody   []byte
}

func (e *Error) Error() string { return e.message }

// Type reports the Kind, mirroring scimserverlite.SCIMTypedError.Type().
func (e *Error) Type() Kind { return e.kind }

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Upstream wraps a non-2xx upstream response so its status and body can be
// forwarded to the client unchanged, per §4.9: "On non-2xx it surfaces the
// upstream status and body unchanged."
func Upstream(status int, body []byte) *Error {
	return &Error{
		kind:           UpstreamError,
		message:        fmt.Sprintf("upstream returned status %d", status),
		UpstreamStatus: status,
		UpstreamBody:   body,
	}
}

// As extracts an *Error from err, returning (nil, false) if err is not one.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

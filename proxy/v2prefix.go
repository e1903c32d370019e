package proxy

import (
	"net/http"
	"strings"
)

// StripV2Prefix accepts SCIM paths both bare ("/Users") and under the
// conventional "/v2" root ("/v2/Users") by rewriting the latter to the
// former before the Coordinator's mux ever sees it.
//
// Grounded on the teacher's putCompatibilityHandler (a request-rewriting
// middleware in the same style): clone the request, rewrite its URL, and
// hand it to the wrapped handler.
func StripV2Prefix(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rest, ok := cutV2Prefix(r.URL.Path); ok {
			r2 := r.Clone(r.Context())
			r2.URL.Path = rest
			if raw, ok := cutV2Prefix(r.URL.RawPath); ok {
				r2.URL.RawPath = raw
			} else {
				r2.URL.RawPath = ""
			}
			h.ServeHTTP(w, r2)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func cutV2Prefix(p string) (string, bool) {
	const prefix = "/v2"
	if p == prefix {
		return "/", true
	}
	if strings.HasPrefix(p, prefix+"/") {
		return p[len(prefix):], true
	}
	return "", false
}

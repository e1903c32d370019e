package proxy

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// cacheKey normalizes a request into the Response Cache's key shape
// (§3's Cache Entry: method, path, normalized query, relevant auth
// hash). Query parameters are sorted into canonical form so that
// `?count=10&startIndex=1` and `?startIndex=1&count=10` collide. auth
// is a caller-supplied opaque token (e.g. the Authorization header)
// folded into the key so responses scoped to one identity are never
// served to another.
func cacheKey(method, path string, query url.Values, auth string) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte(' ')
	b.WriteString(path)

	if len(query) > 0 {
		b.WriteByte('?')
		b.WriteString(canonicalQuery(query))
	}

	if auth != "" {
		b.WriteByte('#')
		b.WriteString(authHash(auth))
	}
	return b.String()
}

func canonicalQuery(query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		vals := append([]string{}, query[k]...)
		sort.Strings(vals)
		for j, v := range vals {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func authHash(auth string) string {
	sum := sha256.Sum256([]byte(auth))
	return hex.EncodeToString(sum[:])
}

// resourceTypePrefix returns the cache-key prefix that covers every
// cached entry for a resource type — only GET responses are ever
// cached, so this always matches "GET /Users", "GET /Users?...", and
// "GET /Users/{id}" alike. Used by write operations to invalidate both
// the collection listing and every individual resource under it
// (§4.8's write-invalidation rule).
func resourceTypePrefix(resourceType string) string {
	return "GET /" + strings.TrimPrefix(resourceType, "/")
}

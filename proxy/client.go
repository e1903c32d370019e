package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/abugrin/scim-proxy/scimerr"
)

// hopByHop are the headers RFC 7230 §6.1 says must not be forwarded by a
// proxy, since they describe the connection to the immediate peer rather
// than the resource itself.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// UpstreamClient talks to the SCIM server being proxied (§4.9): a pooled
// HTTP client, a per-request timeout, and header forwarding that strips
// only the hop-by-hop headers.
type UpstreamClient struct {
	baseURL *url.URL
	http    *http.Client
}

// NewUpstreamClient builds a client against baseURL with the given
// per-request timeout and a connection pool sized to maxConns, mirroring
// the teacher's preference for a shared *http.Client over a bare
// http.DefaultClient.
func NewUpstreamClient(baseURL string, timeout time.Duration, maxConns int) (*UpstreamClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	transport := &http.Transport{
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
		IdleConnTimeout:     90 * time.Second,
	}
	return &UpstreamClient{
		baseURL: u,
		http: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}, nil
}

// Response is an upstream reply: status, headers, and body already fully
// read into memory (cache entries need an immutable snapshot, not a live
// body reader).
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Do issues method against path (resolved relative to the client's base
// URL) with query and forwards header unchanged except for hop-by-hop
// headers. A non-2xx upstream status is not an error here — §4.9 says to
// surface it unchanged — but a transport failure or timeout is reported
// as scimerr.UpstreamUnavailable.
func (c *UpstreamClient) Do(ctx context.Context, method, path string, query url.Values, header http.Header, body io.Reader) (*Response, error) {
	target := *c.baseURL
	target.Path = joinPath(target.Path, path)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, scimerr.Newf(scimerr.Internal, "failed to build upstream request: %v", err)
	}
	forwardHeaders(req.Header, header)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, scimerr.Newf(scimerr.UpstreamUnavailable, "upstream request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, scimerr.Newf(scimerr.UpstreamUnavailable, "failed to read upstream response: %v", err)
	}

	return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

// AsError turns a non-2xx Response into a *scimerr.Error carrying the
// upstream status and body unchanged, or returns nil for a 2xx response.
func (r *Response) AsError() error {
	if r.Status >= 200 && r.Status < 300 {
		return nil
	}
	return scimerr.Upstream(r.Status, r.Body)
}

func forwardHeaders(dst, src http.Header) {
	for name, values := range src {
		if hopByHop[normalizeHeaderName(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func normalizeHeaderName(name string) string {
	return http.CanonicalHeaderKey(name)
}

func joinPath(base, suffix string) string {
	base = strings.TrimSuffix(base, "/")
	suffix = "/" + strings.TrimPrefix(suffix, "/")
	return base + suffix
}

package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestUpstreamClientForwardsHeadersMinusHopByHop(t *testing.T) {
	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.WriteHeader(200)
	}))
	defer srv.Close()

	client, err := NewUpstreamClient(srv.URL, time.Second, 10)
	if err != nil {
		t.Fatal(err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer token")
	header.Set("Connection", "keep-alive")
	header.Set("Trailer", "X-Foo")

	resp, err := client.Do(context.Background(), "GET", "/Users", nil, header, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != 200 {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	if seen.Get("Authorization") != "Bearer token" {
		t.Fatal("expected Authorization to be forwarded")
	}
	if seen.Get("Connection") != "" || seen.Get("Trailer") != "" {
		t.Fatal("expected hop-by-hop headers to be stripped")
	}
}

func TestUpstreamClientNon2xxIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
		w.Write([]byte(`{"detail":"not found"}`))
	}))
	defer srv.Close()

	client, err := NewUpstreamClient(srv.URL, time.Second, 10)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(context.Background(), "GET", "/Users/missing", nil, http.Header{}, nil)
	if err != nil {
		t.Fatalf("expected Do to succeed for a non-2xx response, got %v", err)
	}
	if resp.Status != 404 {
		t.Fatalf("expected status to be surfaced unchanged, got %d", resp.Status)
	}
	if string(resp.Body) != `{"detail":"not found"}` {
		t.Fatalf("expected body to be surfaced unchanged, got %q", resp.Body)
	}
	if resp.AsError() == nil {
		t.Fatal("expected AsError to report a non-2xx response")
	}
}

func TestUpstreamClientQueryEncoding(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(200)
	}))
	defer srv.Close()

	client, err := NewUpstreamClient(srv.URL, time.Second, 10)
	if err != nil {
		t.Fatal(err)
	}
	q := url.Values{"count": {"10"}, "startIndex": {"1"}}
	if _, err := client.Do(context.Background(), "GET", "/Users", q, http.Header{}, nil); err != nil {
		t.Fatal(err)
	}
	if gotQuery == "" {
		t.Fatal("expected the query string to reach the upstream request")
	}
}

func TestUpstreamClientTransportFailure(t *testing.T) {
	client, err := NewUpstreamClient("http://127.0.0.1:1", time.Millisecond*50, 10)
	if err != nil {
		t.Fatal(err)
	}
	_, err = client.Do(context.Background(), "GET", "/Users", nil, http.Header{}, nil)
	if err == nil {
		t.Fatal("expected an unreachable upstream to return an error")
	}
}

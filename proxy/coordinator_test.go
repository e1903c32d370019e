package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestCoordinator(t *testing.T, upstream *httptest.Server) *Coordinator {
	client, err := NewUpstreamClient(upstream.URL, time.Second, 10)
	if err != nil {
		t.Fatal(err)
	}
	cache := NewResponseCache(NewMemoryStore(), time.Minute, 0)
	pagination := NewPaginationAdapter(100, 2000, 20, 0)
	return NewCoordinator(client, cache, pagination, 50, false)
}

func TestCoordinatorHealth(t *testing.T) {
	c := newTestCoordinator(t, httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Fatalf("expected status ok, got %+v", body)
	}
}

func TestCoordinatorGetOneCaches(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/scim+json")
		w.Write([]byte(`{"id":"1","schemas":["urn:ietf:params:scim:schemas:core:2.0:User"]}`))
	}))
	defer upstream.Close()
	c := newTestCoordinator(t, upstream)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("GET", "/Users/1", nil)
		w := httptest.NewRecorder()
		c.ServeHTTP(w, req)
		if w.Code != 200 {
			t.Fatalf("expected 200, got %d", w.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("expected the second GET to be served from cache, got %d upstream calls", calls)
	}
}

func TestCoordinatorPostInvalidatesListCache(t *testing.T) {
	getCalls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			getCalls++
			w.Write([]byte(`{"schemas":["urn:ietf:params:scim:api:messages:2.0:ListResponse"],"totalResults":0,"Resources":[]}`))
		case "POST":
			w.WriteHeader(201)
			w.Write([]byte(`{"id":"2"}`))
		}
	}))
	defer upstream.Close()
	c := newTestCoordinator(t, upstream)

	list := func() {
		req := httptest.NewRequest("GET", "/Users", nil)
		w := httptest.NewRecorder()
		c.ServeHTTP(w, req)
		if w.Code != 200 {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	}
	list()
	list()
	if getCalls != 1 {
		t.Fatalf("expected the second list to be served from cache, got %d fetches", getCalls)
	}

	post := httptest.NewRequest("POST", "/Users", strings.NewReader(`{"userName":"x"}`))
	w := httptest.NewRecorder()
	c.ServeHTTP(w, post)
	if w.Code != 201 {
		t.Fatalf("expected 201, got %d", w.Code)
	}

	list()
	if getCalls != 2 {
		t.Fatalf("expected POST to invalidate the list cache, forcing a re-fetch, got %d fetches total", getCalls)
	}
}

func TestCoordinatorPatchReadModifyWrite(t *testing.T) {
	var lastPutBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			w.Write([]byte(`{"id":"1","schemas":["urn:ietf:params:scim:schemas:core:2.0:User"],"active":false}`))
		case "PUT":
			body := make([]byte, r.ContentLength)
			r.Body.Read(body)
			lastPutBody = string(body)
			w.Write(body)
		}
	}))
	defer upstream.Close()
	c := newTestCoordinator(t, upstream)

	patchBody := `{"Operations":[{"op":"replace","path":"active","value":true}]}`
	req := httptest.NewRequest("PATCH", "/Users/1", strings.NewReader(patchBody))
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(lastPutBody, `"active":true`) {
		t.Fatalf("expected the PUT body to carry the patched value, got %q", lastPutBody)
	}
}

func TestCoordinatorPatchRejectsImmutableAttribute(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"1","schemas":["urn:ietf:params:scim:schemas:core:2.0:User"]}`))
	}))
	defer upstream.Close()
	c := newTestCoordinator(t, upstream)

	patchBody := `{"Operations":[{"op":"replace","path":"id","value":"new"}]}`
	req := httptest.NewRequest("PATCH", "/Users/1", strings.NewReader(patchBody))
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)
	if w.Code != 400 {
		t.Fatalf("expected a Mutability violation to be rejected with 400, got %d", w.Code)
	}
}

func TestCoordinatorDeleteInvalidatesCache(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			w.Write([]byte(`{"id":"1"}`))
		case "DELETE":
			w.WriteHeader(204)
		}
	}))
	defer upstream.Close()
	c := newTestCoordinator(t, upstream)

	req := httptest.NewRequest("GET", "/Users/1", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)

	del := httptest.NewRequest("DELETE", "/Users/1", nil)
	w2 := httptest.NewRecorder()
	c.ServeHTTP(w2, del)
	if w2.Code != 204 {
		t.Fatalf("expected 204, got %d", w2.Code)
	}

	if _, ok := c.cache.Get(cacheKey("GET", "/Users/1", req.URL.Query(), "")); ok {
		t.Fatal("expected DELETE to invalidate the cached GET for that resource")
	}
}

// TestCoordinatorSingleFlightSurvivesLeaderCancellation locks in the fix
// for the case where the request that becomes the single-flight leader
// for a cache miss has its own context cancelled (the client
// disconnected) before the upstream fetch completes: every follower
// waiting on the same key must still receive the completed result, per
// the single-flight contract, rather than having the leader's
// cancellation abort the shared fetch out from under them.
func TestCoordinatorSingleFlightSurvivesLeaderCancellation(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"id":"1","schemas":["urn:ietf:params:scim:schemas:core:2.0:User"]}`))
	}))
	defer upstream.Close()
	c := newTestCoordinator(t, upstream)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	leaderCode, followerCode := 0, 0

	wg.Add(1)
	go func() {
		defer wg.Done()
		req := httptest.NewRequest("GET", "/Users/1", nil).WithContext(leaderCtx)
		w := httptest.NewRecorder()
		c.ServeHTTP(w, req)
		leaderCode = w.Code
	}()

	time.Sleep(10 * time.Millisecond) // let the leader become the single-flight owner

	wg.Add(1)
	go func() {
		defer wg.Done()
		req := httptest.NewRequest("GET", "/Users/1", nil)
		w := httptest.NewRecorder()
		c.ServeHTTP(w, req)
		followerCode = w.Code
	}()

	time.Sleep(10 * time.Millisecond) // let the follower join the in-flight call
	cancelLeader()
	close(release)
	wg.Wait()

	if followerCode != 200 {
		t.Fatalf("expected the follower to receive the completed result despite the leader's cancellation, got %d", followerCode)
	}
	_ = leaderCode // the leader's own response may or may not have been written by the time its client gave up; only the follower's outcome is under test
}

func TestCoordinatorUpstreamErrorForwardedUnchanged(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(409)
		w.Write([]byte(`{"schemas":["urn:ietf:params:scim:api:messages:2.0:Error"],"detail":"conflict"}`))
	}))
	defer upstream.Close()
	c := newTestCoordinator(t, upstream)

	req := httptest.NewRequest("GET", "/Users/1", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, req)
	if w.Code != 409 {
		t.Fatalf("expected upstream's 409 to be forwarded, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "conflict") {
		t.Fatalf("expected upstream error body to pass through, got %q", w.Body.String())
	}
}

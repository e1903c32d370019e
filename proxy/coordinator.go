package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/abugrin/scim-proxy/patch"
	"github.com/abugrin/scim-proxy/scimerr"
)

// resourceTypes are the collections the Coordinator serves, per §6's
// HTTP surface — /Users and /Groups, bare or under /v2 (StripV2Prefix
// handles the prefix upstream of this mux).
var resourceTypes = []string{"Users", "Groups"}

// Coordinator dispatches incoming SCIM requests per §4.10: list
// requests go through the Pagination Adapter, single-resource GETs are
// cached, and writes invalidate the cache for their resource type.
type Coordinator struct {
	client              *UpstreamClient
	cache               *ResponseCache
	pagination          *PaginationAdapter
	maxFilterComplexity int
	nativePatch         bool

	mux *http.ServeMux
}

// NewCoordinator builds the Coordinator's routing table.
func NewCoordinator(client *UpstreamClient, cache *ResponseCache, pagination *PaginationAdapter, maxFilterComplexity int, nativePatch bool) *Coordinator {
	c := &Coordinator{
		client:              client,
		cache:               cache,
		pagination:          pagination,
		maxFilterComplexity: maxFilterComplexity,
		nativePatch:         nativePatch,
		mux:                 http.NewServeMux(),
	}
	c.registerRoutes()
	return c
}

func (c *Coordinator) registerRoutes() {
	for _, rt := range resourceTypes {
		resourceType := rt
		c.mux.HandleFunc("/"+resourceType, func(w http.ResponseWriter, r *http.Request) {
			c.handleCollection(w, r, resourceType)
		})
		c.mux.HandleFunc("/"+resourceType+"/", func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimPrefix(r.URL.Path, "/"+resourceType+"/")
			c.handleResource(w, r, resourceType, id)
		})
	}
	c.mux.HandleFunc("/ServiceProviderConfig", c.handleServiceProviderConfig)
	c.mux.HandleFunc("/ResourceTypes", c.handleResourceTypes)
	c.mux.HandleFunc("/ResourceTypes/User", c.handleResourceTypeUser)
	c.mux.HandleFunc("/ResourceTypes/Group", c.handleResourceTypeGroup)
	c.mux.HandleFunc("/health", c.handleHealth)
}

func (c *Coordinator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mux.ServeHTTP(w, r)
}

func (c *Coordinator) handleCollection(w http.ResponseWriter, r *http.Request, resourceType string) {
	switch r.Method {
	case http.MethodGet:
		c.handleList(w, r, resourceType)
	case http.MethodPost:
		c.handleCreate(w, r, resourceType)
	default:
		WriteError(w, scimerr.New(scimerr.Internal, "method not allowed"), traceIDString(r))
	}
}

func (c *Coordinator) handleResource(w http.ResponseWriter, r *http.Request, resourceType, id string) {
	switch r.Method {
	case http.MethodGet:
		c.handleGetOne(w, r, resourceType, id)
	case http.MethodPut:
		c.handleReplace(w, r, resourceType, id)
	case http.MethodPatch:
		c.handlePatch(w, r, resourceType, id)
	case http.MethodDelete:
		c.handleDelete(w, r, resourceType, id)
	default:
		WriteError(w, scimerr.New(scimerr.Internal, "method not allowed"), traceIDString(r))
	}
}

// handleList serves GET /{ResourceType} through the Pagination Adapter,
// caching the assembled ListResponse keyed on the full request.
func (c *Coordinator) handleList(w http.ResponseWriter, r *http.Request, resourceType string) {
	req, err := ParseListRequest(r.URL.Query(), c.maxFilterComplexity)
	if err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}

	key := cacheKey("GET", "/"+resourceType, r.URL.Query(), r.Header.Get("Authorization"))
	entry, err := c.cache.GetOrFetch(key, func() (Entry, error) {
		// Detached from r.Context(): this closure may become the
		// single-flight leader for followers whose own requests outlive
		// this one, so it must not abort just because this caller's
		// request is cancelled. The upstream timeout still applies via
		// UpstreamClient's http.Client.Timeout.
		resp, err := c.pagination.List(context.Background(), req, c.upstreamPageFetcher(r, resourceType))
		if err != nil {
			return Entry{}, err
		}
		body, err := json.Marshal(resp)
		if err != nil {
			return Entry{}, err
		}
		return Entry{Status: http.StatusOK, Body: body, Headers: map[string][]string{"Content-Type": {"application/scim+json"}}}, nil
	})
	if err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}
	writeEntry(w, entry)
}

// upstreamPageFetcher adapts the UpstreamClient into the pageFetcher
// shape the Pagination Adapter expects.
func (c *Coordinator) upstreamPageFetcher(r *http.Request, resourceType string) pageFetcher {
	return func(ctx context.Context, startIndex, count int) (upstreamPage, error) {
		query := url.Values{}
		query.Set("startIndex", strconv.Itoa(startIndex))
		query.Set("count", strconv.Itoa(count))

		resp, err := c.client.Do(ctx, "GET", "/"+resourceType, query, r.Header, nil)
		if err != nil {
			return upstreamPage{}, err
		}
		if err := resp.AsError(); err != nil {
			return upstreamPage{}, err
		}

		var parsed struct {
			TotalResults int                      `json:"totalResults"`
			Resources    []map[string]interface{} `json:"Resources"`
		}
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return upstreamPage{}, scimerr.Newf(scimerr.UpstreamError, "malformed upstream list response: %v", err)
		}
		return upstreamPage{TotalResults: parsed.TotalResults, Resources: parsed.Resources}, nil
	}
}

// handleGetOne serves a cached, single-resource GET.
func (c *Coordinator) handleGetOne(w http.ResponseWriter, r *http.Request, resourceType, id string) {
	key := cacheKey("GET", "/"+resourceType+"/"+id, r.URL.Query(), r.Header.Get("Authorization"))
	entry, err := c.cache.GetOrFetch(key, func() (Entry, error) {
		// Detached from r.Context() for the same reason as handleList:
		// followers must still get the result if this leader disconnects.
		resp, err := c.client.Do(context.Background(), "GET", "/"+resourceType+"/"+id, r.URL.Query(), r.Header, nil)
		if err != nil {
			return Entry{}, err
		}
		if err := resp.AsError(); err != nil {
			return Entry{}, err
		}
		return Entry{Status: resp.Status, Body: resp.Body, Headers: map[string][]string{"Content-Type": {"application/scim+json"}}}, nil
	})
	if err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}
	writeEntry(w, entry)
}

func (c *Coordinator) handleCreate(w http.ResponseWriter, r *http.Request, resourceType string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, scimerr.Newf(scimerr.Internal, "failed to read request body: %v", err), traceIDString(r))
		return
	}
	resp, err := c.client.Do(r.Context(), "POST", "/"+resourceType, nil, r.Header, bytes.NewReader(body))
	if err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}
	c.cache.Invalidate(resourceTypePrefix(resourceType))
	if err := resp.AsError(); err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}
	writeUpstream(w, resp)
}

func (c *Coordinator) handleReplace(w http.ResponseWriter, r *http.Request, resourceType, id string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, scimerr.Newf(scimerr.Internal, "failed to read request body: %v", err), traceIDString(r))
		return
	}
	resp, err := c.client.Do(r.Context(), "PUT", "/"+resourceType+"/"+id, nil, r.Header, bytes.NewReader(body))
	if err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}
	c.cache.Invalidate(resourceTypePrefix(resourceType))
	if err := resp.AsError(); err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}
	writeUpstream(w, resp)
}

func (c *Coordinator) handleDelete(w http.ResponseWriter, r *http.Request, resourceType, id string) {
	resp, err := c.client.Do(r.Context(), "DELETE", "/"+resourceType+"/"+id, nil, r.Header, nil)
	if err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}
	c.cache.Invalidate(resourceTypePrefix(resourceType))
	if err := resp.AsError(); err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}
	writeUpstream(w, resp)
}

// handlePatch forwards the PATCH request natively when the upstream is
// configured to support it. Otherwise it runs the read-modify-write loop
// from §4.10: fetch the current resource bypassing the cache, apply the
// PATCH operations locally, then PUT the result.
func (c *Coordinator) handlePatch(w http.ResponseWriter, r *http.Request, resourceType, id string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteError(w, scimerr.Newf(scimerr.Internal, "failed to read request body: %v", err), traceIDString(r))
		return
	}

	if c.nativePatch {
		resp, err := c.client.Do(r.Context(), "PATCH", "/"+resourceType+"/"+id, nil, r.Header, bytes.NewReader(body))
		if err != nil {
			WriteError(w, err, traceIDString(r))
			return
		}
		c.cache.Invalidate(resourceTypePrefix(resourceType))
		if err := resp.AsError(); err != nil {
			WriteError(w, err, traceIDString(r))
			return
		}
		writeUpstream(w, resp)
		return
	}

	var req struct {
		Operations []patch.RawOperation `json:"Operations"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		WriteError(w, scimerr.Newf(scimerr.InvalidPath, "malformed PATCH request: %v", err), traceIDString(r))
		return
	}
	ops, err := patch.ParseOperations(req.Operations, c.maxFilterComplexity)
	if err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}
	if err := patch.ValidateOperations(ops, patch.ImmutablePathValidator()); err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}

	getResp, err := c.client.Do(r.Context(), "GET", "/"+resourceType+"/"+id, nil, r.Header, nil)
	if err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}
	if err := getResp.AsError(); err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}

	var resource map[string]interface{}
	if err := json.Unmarshal(getResp.Body, &resource); err != nil {
		WriteError(w, scimerr.Newf(scimerr.UpstreamError, "malformed upstream resource: %v", err), traceIDString(r))
		return
	}

	if err := patch.Apply(resource, ops); err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}

	updated, err := json.Marshal(resource)
	if err != nil {
		WriteError(w, scimerr.Newf(scimerr.Internal, "failed to marshal patched resource: %v", err), traceIDString(r))
		return
	}

	putResp, err := c.client.Do(r.Context(), "PUT", "/"+resourceType+"/"+id, nil, r.Header, bytes.NewReader(updated))
	if err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}
	c.cache.Invalidate(resourceTypePrefix(resourceType))
	if err := putResp.AsError(); err != nil {
		WriteError(w, err, traceIDString(r))
		return
	}
	writeUpstream(w, putResp)
}

func (c *Coordinator) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeEntry(w http.ResponseWriter, entry Entry) {
	for name, values := range entry.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(entry.Status)
	w.Write(entry.Body)
}

func writeUpstream(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/scim+json")
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

func traceIDString(r *http.Request) string {
	id := TraceID(r.Context())
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}


package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/abugrin/scim-proxy/filter"
	"github.com/abugrin/scim-proxy/scimerr"
	"github.com/abugrin/scim-proxy/util"
)

// listResponseSchema is the one schema URI every ListResponse carries.
const listResponseSchema = "urn:ietf:params:scim:api:messages:2.0:ListResponse"

// alwaysProjected attributes survive attributes/excludedAttributes
// projection unconditionally (§4.7's "always-returned id, schemas, meta").
var alwaysProjected = map[string]bool{"id": true, "schemas": true, "meta": true}

// ListRequest is the query a client sends against /Users or /Groups.
type ListRequest struct {
	Filter             filter.Node
	SortBy             string
	SortOrder          string // "ascending" (default) or "descending"
	StartIndex         int    // 1-based
	Count              int
	Attributes         []string
	ExcludedAttributes []string
}

// ListResponse is the SCIM envelope returned for a list request.
type ListResponse struct {
	Schemas      []string                 `json:"schemas"`
	TotalResults int                      `json:"totalResults"`
	StartIndex   int                      `json:"startIndex"`
	ItemsPerPage int                      `json:"itemsPerPage"`
	Resources    []map[string]interface{} `json:"Resources"`
}

// pageFetcher fetches one upstream page of a resource collection and
// returns its resources as untyped JSON objects, so PaginationAdapter
// never depends on the Upstream Client's HTTP transport concerns
// directly.
type pageFetcher func(ctx context.Context, startIndex, count int) (upstreamPage, error)

type upstreamPage struct {
	TotalResults int
	Resources    []map[string]interface{}
}

// PaginationAdapter implements §4.7: the unfiltered path forwards
// startIndex/count straight through, while the filtered path fetches
// upstream pages sequentially, accumulating matches, until it has
// enough, runs dry, or hits the configured fetch ceiling.
type PaginationAdapter struct {
	upstreamPageSize      int
	maxFilterFetchSize    int
	filterFetchMultiplier int
	limiter               *rate.Limiter
}

// NewPaginationAdapter builds an adapter. fetchRate <= 0 means no
// self-throttling (§4.7A) between sequential page fetches.
func NewPaginationAdapter(upstreamPageSize, maxFilterFetchSize, filterFetchMultiplier int, fetchRate float64) *PaginationAdapter {
	var limiter *rate.Limiter
	if fetchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(fetchRate), 1)
	}
	return &PaginationAdapter{
		upstreamPageSize:      upstreamPageSize,
		maxFilterFetchSize:    maxFilterFetchSize,
		filterFetchMultiplier: filterFetchMultiplier,
		limiter:               limiter,
	}
}

// List executes req against fetch, returning a correctly windowed,
// sorted, projected ListResponse.
func (a *PaginationAdapter) List(ctx context.Context, req ListRequest, fetch pageFetcher) (*ListResponse, error) {
	if req.Filter == nil {
		return a.listUnfiltered(ctx, req, fetch)
	}
	return a.listFiltered(ctx, req, fetch)
}

func (a *PaginationAdapter) listUnfiltered(ctx context.Context, req ListRequest, fetch pageFetcher) (*ListResponse, error) {
	page, err := fetch(ctx, req.StartIndex, req.Count)
	if err != nil {
		return nil, err
	}
	resources := projectAll(page.Resources, req.Attributes, req.ExcludedAttributes)
	return &ListResponse{
		Schemas:      []string{listResponseSchema},
		TotalResults: page.TotalResults,
		StartIndex:   req.StartIndex,
		ItemsPerPage: len(resources),
		Resources:    resources,
	}, nil
}

func (a *PaginationAdapter) listFiltered(ctx context.Context, req ListRequest, fetch pageFetcher) (*ListResponse, error) {
	needed := req.StartIndex - 1 + req.Count
	ceiling := a.maxFilterFetchSize
	if mult := req.Count * a.filterFetchMultiplier; mult > 0 && mult < ceiling {
		ceiling = mult
	}

	var matches []map[string]interface{}
	fetched := 0
	start := 1

	for len(matches) < needed && fetched < ceiling {
		if done, _ := util.IsDone(ctx); done {
			return nil, scimerr.New(scimerr.UpstreamUnavailable, "pagination cancelled")
		}
		if err := a.throttle(ctx); err != nil {
			return nil, err
		}

		pageSize := a.upstreamPageSize
		if remainingCeiling := ceiling - fetched; remainingCeiling < pageSize {
			pageSize = remainingCeiling
		}
		if pageSize <= 0 {
			break
		}

		page, err := fetch(ctx, start, pageSize)
		if err != nil {
			return nil, err
		}
		for _, resource := range page.Resources {
			if filter.Evaluate(req.Filter, resource) {
				matches = append(matches, resource)
			}
		}
		fetched += len(page.Resources)
		start += len(page.Resources)

		if len(page.Resources) == 0 || fetched >= page.TotalResults {
			break
		}
	}

	if req.SortBy != "" {
		sortResources(matches, req.SortBy, req.SortOrder)
	}

	windowed := windowResources(matches, req.StartIndex, req.Count)
	resources := projectAll(windowed, req.Attributes, req.ExcludedAttributes)

	// totalResults is exact once upstream is exhausted, otherwise a lower
	// bound equal to the matches found so far — both are just len(matches).
	return &ListResponse{
		Schemas:      []string{listResponseSchema},
		TotalResults: len(matches),
		StartIndex:   req.StartIndex,
		ItemsPerPage: len(resources),
		Resources:    resources,
	}, nil
}

func (a *PaginationAdapter) throttle(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return scimerr.Newf(scimerr.UpstreamUnavailable, "rate limit wait cancelled: %v", err)
	}
	return nil
}

func windowResources(matches []map[string]interface{}, startIndex, count int) []map[string]interface{} {
	from := startIndex - 1
	if from < 0 {
		from = 0
	}
	if from >= len(matches) {
		return nil
	}
	to := from + count
	if to > len(matches) {
		to = len(matches)
	}
	return matches[from:to]
}

func sortResources(resources []map[string]interface{}, sortBy, sortOrder string) {
	path := filter.ParseAttrPath(sortBy)
	descending := sortOrder == "descending"
	sort.SliceStable(resources, func(i, j int) bool {
		vi, oki := sortKey(resources[i], path)
		vj, okj := sortKey(resources[j], path)
		if !oki && !okj {
			return false
		}
		if !oki {
			return false // missing sorts last regardless of direction
		}
		if !okj {
			return true
		}
		less := filter.CompareForSort(vi, vj)
		if descending {
			return less > 0
		}
		return less < 0
	})
}

func sortKey(resource map[string]interface{}, path filter.AttrPath) (interface{}, bool) {
	values := filter.ResolvePath(resource, path)
	if len(values) == 0 {
		return nil, false
	}
	return values[0].Data, true
}

func projectAll(resources []map[string]interface{}, attributes, excluded []string) []map[string]interface{} {
	if len(attributes) == 0 && len(excluded) == 0 {
		return resources
	}
	out := make([]map[string]interface{}, len(resources))
	for i, r := range resources {
		out[i] = project(r, attributes, excluded)
	}
	return out
}

func project(resource map[string]interface{}, attributes, excluded []string) map[string]interface{} {
	out := make(map[string]interface{}, len(resource))
	if len(attributes) > 0 {
		keep := map[string]bool{}
		for _, a := range attributes {
			keep[topLevelSegment(a)] = true
		}
		for k, v := range resource {
			if alwaysProjected[lowerKey(k)] || keep[lowerKey(k)] {
				out[k] = v
			}
		}
		return out
	}
	drop := map[string]bool{}
	for _, a := range excluded {
		drop[topLevelSegment(a)] = true
	}
	for k, v := range resource {
		if alwaysProjected[lowerKey(k)] || !drop[lowerKey(k)] {
			out[k] = v
		}
	}
	return out
}

func topLevelSegment(attr string) string {
	for i, c := range attr {
		if c == '.' {
			return lowerKey(attr[:i])
		}
	}
	return lowerKey(attr)
}

func lowerKey(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

// ParseListRequest builds a ListRequest from an HTTP query, parsing the
// filter expression if present.
func ParseListRequest(query url.Values, maxComplexity int) (ListRequest, error) {
	req := ListRequest{
		StartIndex: 1,
		Count:      0,
		SortOrder:  "ascending",
	}
	if v := query.Get("startIndex"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return ListRequest{}, scimerr.New(scimerr.InvalidFilter, "invalid startIndex")
		}
		req.StartIndex = n
	}
	if v := query.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return ListRequest{}, scimerr.New(scimerr.InvalidFilter, "invalid count")
		}
		req.Count = n
	}
	if v := query.Get("sortBy"); v != "" {
		req.SortBy = v
	}
	if v := query.Get("sortOrder"); v != "" {
		req.SortOrder = v
	}
	if v := query.Get("attributes"); v != "" {
		req.Attributes = splitCommaList(v)
	}
	if v := query.Get("excludedAttributes"); v != "" {
		req.ExcludedAttributes = splitCommaList(v)
	}
	if v := query.Get("filter"); v != "" {
		node, err := filter.ParseFilter(v, maxComplexity)
		if err != nil {
			return ListRequest{}, err
		}
		req.Filter = node
	}
	return req, nil
}

func splitCommaList(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// WriteListResponse marshals resp as the HTTP response body with the
// application/scim+json content type §6 requires on success.
func WriteListResponse(w http.ResponseWriter, resp *ListResponse) error {
	w.Header().Set("Content-Type", "application/scim+json")
	return json.NewEncoder(w).Encode(resp)
}

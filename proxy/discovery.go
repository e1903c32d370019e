package proxy

import (
	"encoding/json"
	"net/http"
)

// Static discovery documents (§4.10, §6): the proxy advertises filter,
// PATCH, and pagination support regardless of what the upstream itself
// advertises, since the proxy implements those capabilities in front
// of any upstream.

func (c *Coordinator) handleServiceProviderConfig(w http.ResponseWriter, r *http.Request) {
	writeDiscoveryDoc(w, map[string]interface{}{
		"schemas": []string{"urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"},
		"patch":   map[string]bool{"supported": true},
		"filter": map[string]interface{}{
			"supported":  true,
			"maxResults": c.maxFilterFetchSizeOrDefault(),
		},
		"bulk": map[string]interface{}{
			"supported":      false,
			"maxOperations":  0,
			"maxPayloadSize": 0,
		},
		"sort":                  map[string]bool{"supported": true},
		"changePassword":        map[string]bool{"supported": false},
		"etag":                  map[string]bool{"supported": false},
		"authenticationSchemes": []interface{}{},
	})
}

func (c *Coordinator) maxFilterFetchSizeOrDefault() int {
	if c.pagination == nil {
		return 0
	}
	return c.pagination.maxFilterFetchSize
}

func (c *Coordinator) handleResourceTypes(w http.ResponseWriter, r *http.Request) {
	writeDiscoveryDoc(w, []interface{}{
		userResourceType(),
		groupResourceType(),
	})
}

func (c *Coordinator) handleResourceTypeUser(w http.ResponseWriter, r *http.Request) {
	writeDiscoveryDoc(w, userResourceType())
}

func (c *Coordinator) handleResourceTypeGroup(w http.ResponseWriter, r *http.Request) {
	writeDiscoveryDoc(w, groupResourceType())
}

func userResourceType() map[string]interface{} {
	return map[string]interface{}{
		"schemas":     []string{"urn:ietf:params:scim:schemas:core:2.0:ResourceType"},
		"id":          "User",
		"name":        "User",
		"endpoint":    "/Users",
		"schema":      "urn:ietf:params:scim:schemas:core:2.0:User",
		"description": "User Account",
	}
}

func groupResourceType() map[string]interface{} {
	return map[string]interface{}{
		"schemas":     []string{"urn:ietf:params:scim:schemas:core:2.0:ResourceType"},
		"id":          "Group",
		"name":        "Group",
		"endpoint":    "/Groups",
		"schema":      "urn:ietf:params:scim:schemas:core:2.0:Group",
		"description": "Group",
	}
}

func writeDiscoveryDoc(w http.ResponseWriter, doc interface{}) {
	w.Header().Set("Content-Type", "application/scim+json")
	json.NewEncoder(w).Encode(doc)
}

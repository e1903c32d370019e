package proxy

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/abugrin/scim-proxy/scimerr"
)

// scimErrorSchema is the single schema URI every SCIM Error envelope
// carries (§6).
const scimErrorSchema = "urn:ietf:params:scim:api:messages:2.0:Error"

// scimErrorBody is the wire shape of a SCIM Error response (§6):
// {"schemas":[...],"status":"<code>","scimType":"<kind>","detail":"<message>"}.
type scimErrorBody struct {
	Schemas  []string `json:"schemas"`
	Status   string   `json:"status"`
	ScimType string   `json:"scimType,omitempty"`
	Detail   string   `json:"detail"`
}

// WriteError writes err to w. An error wrapping an upstream response
// (scimerr.Upstream) is forwarded with the upstream's own status and
// body unchanged via ForwardUpstreamError; any other error becomes a
// SCIM Error envelope whose status and scimType come from the error's
// Kind (Internal for an error that is not a *scimerr.Error). traceID,
// if non-empty, is appended to the envelope's detail so a client report
// can be correlated with the access log line.
func WriteError(w http.ResponseWriter, err error, traceID string) {
	scimErr, ok := scimerr.As(err)
	if !ok {
		scimErr = scimerr.New(scimerr.Internal, err.Error())
	}

	if scimErr.Type() == scimerr.UpstreamError && scimErr.UpstreamStatus != 0 {
		ForwardUpstreamError(w, scimErr)
		return
	}

	status := scimErr.Type().HTTPStatus()
	detail := scimErr.Error()
	if traceID != "" {
		detail = detail + " (trace " + traceID + ")"
	}

	body := scimErrorBody{
		Schemas:  []string{scimErrorSchema},
		Status:   strconv.Itoa(status),
		ScimType: scimErr.Type().SCIMType(),
		Detail:   detail,
	}

	w.Header().Set("Content-Type", "application/scim+json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// ForwardUpstreamError writes the upstream's own response body and
// status unchanged, per §4.9: upstream SCIM error envelopes pass
// through rather than being resynthesized.
func ForwardUpstreamError(w http.ResponseWriter, scimErr *scimerr.Error) {
	w.Header().Set("Content-Type", "application/scim+json")
	w.WriteHeader(scimErr.UpstreamStatus)
	w.Write(scimErr.UpstreamBody)
}


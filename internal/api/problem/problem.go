package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	contentType = "application/problem+json"
	baseTypeURL = "https://errors.payment-orchestrator.dev/"
	traceHeader = "X-Trace-ID"
)

// Details represents RFC 7807 Problem Details.
type Details struct {
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Status        int            `json:"status"`
	Detail        string         `json:"detail"`
	Instance      string         `json:"instance"`
	RequestID     string         `json:"request_id"`
	InvalidParams []InvalidParam `json:"invalid_params,omitempty"`
}

// InvalidParam names one rejected request field.
type InvalidParam struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Type expands a slug such as "escrow/hold-failed" into a problem type URI.
// Absolute URIs and about:blank pass through.
func Type(slug string) string {
	if slug == "" || slug == "about:blank" || strings.HasPrefix(slug, "http") {
		return slug
	}
	return baseTypeURL + slug
}

// Write sends an RFC 7807 response.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	WriteDetails(w, r, Details{Status: status, Type: problemType, Title: title, Detail: detail})
}

// WriteDetails fills the defaults, instance and request id, then sends d.
func WriteDetails(w http.ResponseWriter, r *http.Request, d Details) {
	if d.Title == "" {
		d.Title = http.StatusText(d.Status)
	}
	if d.Type == "" {
		d.Type = "about:blank"
	}
	// the trace middleware has already validated or replaced the caller's id
	d.RequestID = w.Header().Get(traceHeader)
	if r != nil {
		d.Instance = r.URL.Path
		if d.RequestID == "" {
			d.RequestID = r.Header.Get(traceHeader)
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}

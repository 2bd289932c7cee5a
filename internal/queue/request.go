package queue

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Method is the HTTP verb of a queued request.
type Method string

const (
	MethodGet    Method = "GET"
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// ParseMethod normalizes a method string, accepting any letter case.
func ParseMethod(value string) (Method, bool) {
	switch Method(strings.ToUpper(strings.TrimSpace(value))) {
	case MethodGet:
		return MethodGet, true
	case MethodPost:
		return MethodPost, true
	case MethodPut:
		return MethodPut, true
	case MethodPatch:
		return MethodPatch, true
	case MethodDelete:
		return MethodDelete, true
	}
	return "", false
}

// Priority determines a request's position in drain order.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority normalizes a priority string. An empty value maps to normal.
func ParsePriority(value string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(value))) {
	case "", PriorityNormal:
		return PriorityNormal, true
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityLow:
		return PriorityLow, true
	}
	return "", false
}

// rank orders tiers: lower drains first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// Request is one pending mutating operation. Callers only ever see copies.
type Request struct {
	ID         string            `json:"id"`
	Resource   string            `json:"resource"`
	Method     Method            `json:"method"`
	Payload    []byte            `json:"payload,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	RetryCount int               `json:"retry_count"`
	Priority   Priority          `json:"priority"`
}

// Clone returns a deep copy of the request.
func (r Request) Clone() Request {
	out := r
	if r.Payload != nil {
		out.Payload = append([]byte(nil), r.Payload...)
	}
	if r.Headers != nil {
		out.Headers = maps.Clone(r.Headers)
	}
	return out
}

// NewRequest is the caller-supplied part of a Request; the engine assigns the rest.
type NewRequest struct {
	Resource string
	Method   Method
	Payload  []byte
	Headers  map[string]string
	// Priority defaults to normal when empty.
	Priority Priority
}

func (n NewRequest) validate() (Method, Priority, error) {
	if strings.TrimSpace(n.Resource) == "" {
		return "", "", fmt.Errorf("%w: resource is required", ErrInvalidRequest)
	}
	method, ok := ParseMethod(string(n.Method))
	if !ok {
		return "", "", fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, n.Method)
	}
	priority, ok := ParsePriority(string(n.Priority))
	if !ok {
		return "", "", fmt.Errorf("%w: unsupported priority %q", ErrInvalidRequest, n.Priority)
	}
	return method, priority, nil
}

func cloneRequests(items []Request) []Request {
	out := make([]Request, len(items))
	for i, item := range items {
		out[i] = item.Clone()
	}
	return out
}

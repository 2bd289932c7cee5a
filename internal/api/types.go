package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// QueueItem describes a queued request in a transport-friendly format.
type QueueItem struct {
	ID            string            `json:"id"`
	Resource      string            `json:"resource"`
	Method        string            `json:"method"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	PayloadBase64 string            `json:"payloadBase64,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	EnqueuedAt    string            `json:"enqueuedAt,omitempty"`
	RetryCount    int               `json:"retryCount"`
	Priority      string            `json:"priority"`
}

// EnqueueRequest is the caller-supplied description of a request to queue.
type EnqueueRequest struct {
	Resource      string            `json:"resource"`
	Method        string            `json:"method"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	PayloadBase64 string            `json:"payloadBase64,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Priority      string            `json:"priority,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool   `json:"running"`
	PID          int    `json:"pid"`
	Online       bool   `json:"online"`
	NetworkMode  string `json:"networkMode"`
	QueueSize    int    `json:"queueSize"`
	Draining     bool   `json:"draining"`
	MaxRetries   int    `json:"maxRetries"`
	Backend      string `json:"backend"`
	StorePath    string `json:"storePath,omitempty"`
	LockFilePath string `json:"lockFilePath"`
	APIBind      string `json:"apiBind,omitempty"`
}

// DrainSummary reports the outcome of one drain call.
type DrainSummary struct {
	Ran            bool   `json:"ran"`
	Skipped        string `json:"skipped,omitempty"`
	Attempted      int    `json:"attempted"`
	Delivered      int    `json:"delivered"`
	Failed         int    `json:"failed"`
	Evicted        int    `json:"evicted"`
	DurationMillis int64  `json:"durationMs"`
}

// QueueListResponse wraps a collection of queue items for API responses.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// DispatchResponse reports whether a dispatched request was queued. When
// Queued is false the caller should perform the request itself.
type DispatchResponse struct {
	Queued bool       `json:"queued"`
	Item   *QueueItem `json:"item,omitempty"`
}

// RemoveResponse reports whether an id was queued.
type RemoveResponse struct {
	Removed bool `json:"removed"`
}

// ClearResponse reports how many requests were dropped.
type ClearResponse struct {
	Removed int `json:"removed"`
}

// NetworkResponse reports the monitor state after a manual change.
type NetworkResponse struct {
	Online  bool `json:"online"`
	Changed bool `json:"changed"`
}

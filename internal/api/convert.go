package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"

	"tether/internal/queue"
)

// FromRequest converts a queued request to its API representation.
func FromRequest(req queue.Request) QueueItem {
	dto := QueueItem{
		ID:         req.ID,
		Resource:   req.Resource,
		Method:     string(req.Method),
		Headers:    maps.Clone(req.Headers),
		RetryCount: req.RetryCount,
		Priority:   string(req.Priority),
	}
	if len(req.Payload) > 0 {
		if json.Valid(req.Payload) {
			dto.Payload = json.RawMessage(append([]byte(nil), req.Payload...))
		} else {
			dto.PayloadBase64 = base64.StdEncoding.EncodeToString(req.Payload)
		}
	}
	if !req.EnqueuedAt.IsZero() {
		dto.EnqueuedAt = req.EnqueuedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromRequests converts a queue snapshot, preserving drain order.
func FromRequests(requests []queue.Request) []QueueItem {
	items := make([]QueueItem, 0, len(requests))
	for _, req := range requests {
		items = append(items, FromRequest(req))
	}
	return items
}

// FromDrainResult converts an engine drain result.
func FromDrainResult(result queue.DrainResult) DrainSummary {
	return DrainSummary{
		Ran:            result.Ran(),
		Skipped:        string(result.Skipped),
		Attempted:      result.Attempted,
		Delivered:      result.Delivered,
		Failed:         result.Failed,
		Evicted:        result.Evicted,
		DurationMillis: result.Duration.Milliseconds(),
	}
}

// ToNewRequest converts caller input into engine input. Method and priority
// are validated by the engine; only the payload encoding is checked here.
func (r EnqueueRequest) ToNewRequest() (queue.NewRequest, error) {
	out := queue.NewRequest{
		Resource: r.Resource,
		Method:   queue.Method(r.Method),
		Headers:  maps.Clone(r.Headers),
		Priority: queue.Priority(r.Priority),
	}
	if method, ok := queue.ParseMethod(r.Method); ok {
		out.Method = method
	}
	switch {
	case len(r.Payload) > 0 && r.PayloadBase64 != "":
		return queue.NewRequest{}, fmt.Errorf("%w: payload and payloadBase64 are mutually exclusive", queue.ErrInvalidRequest)
	case len(r.Payload) > 0:
		if string(r.Payload) != "null" {
			out.Payload = append([]byte(nil), r.Payload...)
		}
	case r.PayloadBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(r.PayloadBase64)
		if err != nil {
			return queue.NewRequest{}, fmt.Errorf("%w: payloadBase64: %v", queue.ErrInvalidRequest, err)
		}
		out.Payload = decoded
	}
	return out, nil
}

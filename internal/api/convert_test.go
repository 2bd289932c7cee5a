package api

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"tether/internal/queue"
)

func TestFromRequestPassesJSONPayloadThrough(t *testing.T) {
	req := queue.Request{
		ID:         "req-1",
		Resource:   "/orders",
		Method:     queue.MethodPost,
		Payload:    []byte(`{"sku":"A1"}`),
		Headers:    map[string]string{"X-Client": "pos-3"},
		EnqueuedAt: time.Date(2026, 4, 1, 12, 0, 0, 123000000, time.UTC),
		RetryCount: 2,
		Priority:   queue.PriorityHigh,
	}
	got := FromRequest(req)
	want := QueueItem{
		ID:         "req-1",
		Resource:   "/orders",
		Method:     "POST",
		Payload:    json.RawMessage(`{"sku":"A1"}`),
		Headers:    map[string]string{"X-Client": "pos-3"},
		EnqueuedAt: "2026-04-01T12:00:00.123Z",
		RetryCount: 2,
		Priority:   "high",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("FromRequest mismatch (-want +got):\n%s", diff)
	}
}

func TestFromRequestEncodesBinaryPayload(t *testing.T) {
	got := FromRequest(queue.Request{ID: "req-2", Payload: []byte{0xff, 0x00, 0x01}})
	if got.Payload != nil {
		t.Fatalf("expected no raw payload for binary data, got %s", got.Payload)
	}
	if got.PayloadBase64 != "/wAB" {
		t.Fatalf("unexpected base64 payload %q", got.PayloadBase64)
	}
}

func TestEnqueueRequestRoundTripsPayloadEncodings(t *testing.T) {
	raw := EnqueueRequest{Resource: "/orders", Method: "post", Payload: json.RawMessage(`{"sku":"A1"}`)}
	converted, err := raw.ToNewRequest()
	if err != nil {
		t.Fatalf("ToNewRequest failed: %v", err)
	}
	if converted.Method != queue.MethodPost || string(converted.Payload) != `{"sku":"A1"}` {
		t.Fatalf("unexpected conversion %+v", converted)
	}

	binary := EnqueueRequest{Resource: "/blob", Method: "PUT", PayloadBase64: "/wAB"}
	converted, err = binary.ToNewRequest()
	if err != nil {
		t.Fatalf("ToNewRequest failed: %v", err)
	}
	if diff := cmp.Diff([]byte{0xff, 0x00, 0x01}, converted.Payload); diff != "" {
		t.Fatalf("decoded payload mismatch (-want +got):\n%s", diff)
	}
}

func TestEnqueueRequestRejectsAmbiguousPayload(t *testing.T) {
	cases := map[string]EnqueueRequest{
		"both encodings": {Resource: "/x", Method: "POST", Payload: json.RawMessage(`1`), PayloadBase64: "AQ=="},
		"bad base64":     {Resource: "/x", Method: "POST", PayloadBase64: "%%%"},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := input.ToNewRequest(); !errors.Is(err, queue.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestFromDrainResult(t *testing.T) {
	skipped := FromDrainResult(queue.DrainResult{Skipped: queue.SkipOffline})
	if skipped.Ran || skipped.Skipped != "offline" {
		t.Fatalf("unexpected skipped summary %+v", skipped)
	}
	ran := FromDrainResult(queue.DrainResult{Attempted: 3, Delivered: 2, Failed: 1, Duration: 1500 * time.Millisecond})
	if !ran.Ran || ran.DurationMillis != 1500 || ran.Delivered != 2 {
		t.Fatalf("unexpected drain summary %+v", ran)
	}
}

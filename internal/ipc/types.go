package ipc

import "tether/internal/api"

// QueueItem mirrors the HTTP API queue DTO for IPC callers.
type QueueItem = api.QueueItem

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon and queue status.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// StopRequest asks the daemon process to shut down.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// QueueListRequest lists the queue in drain order.
type QueueListRequest struct{}

// QueueListResponse contains queue entries.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueShowRequest fetches a single queued request by id.
type QueueShowRequest struct {
	ID string `json:"id"`
}

// QueueShowResponse wraps a single queue item.
type QueueShowResponse struct {
	Item QueueItem `json:"item"`
}

// QueueAddRequest queues a request unconditionally.
type QueueAddRequest struct {
	Request api.EnqueueRequest `json:"request"`
}

// QueueAddResponse returns the stored request.
type QueueAddResponse struct {
	Item QueueItem `json:"item"`
}

// QueueDispatchRequest queues a request only while offline.
type QueueDispatchRequest struct {
	Request api.EnqueueRequest `json:"request"`
}

// QueueDispatchResponse reports whether the request was queued.
type QueueDispatchResponse = api.DispatchResponse

// QueueRemoveRequest drops queued requests by id.
type QueueRemoveRequest struct {
	IDs []string `json:"ids"`
}

// QueueRemoveResponse lists which ids were removed and which were not queued.
type QueueRemoveResponse struct {
	Removed []string `json:"removed"`
	Missing []string `json:"missing"`
}

// QueueClearRequest removes every queued request.
type QueueClearRequest struct{}

// QueueClearResponse reports how many requests were dropped.
type QueueClearResponse = api.ClearResponse

// QueueDrainRequest runs a drain pass and waits for it.
type QueueDrainRequest struct{}

// QueueDrainResponse summarizes the drain call.
type QueueDrainResponse struct {
	Summary api.DrainSummary `json:"summary"`
}

// NetworkSetRequest toggles a manual network monitor.
type NetworkSetRequest struct {
	Online bool `json:"online"`
}

// NetworkSetResponse reports the monitor state after the change.
type NetworkSetResponse = api.NetworkResponse

// TestNotificationRequest asks the daemon to send a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether the notification was sent.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

package queueaccess

import (
	"context"
	"errors"
	"fmt"

	"tether/internal/api"
	"tether/internal/ipc"
	"tether/internal/queue"
)

// ErrDaemonRequired is returned by operations that need a running daemon.
var ErrDaemonRequired = errors.New("operation requires a running daemon")

// RemoveResult lists which ids were removed and which were not queued.
type RemoveResult struct {
	Removed []string
	Missing []string
}

// Access provides queue operations regardless of IPC or direct store backing.
type Access interface {
	List(ctx context.Context) ([]api.QueueItem, error)
	Show(ctx context.Context, id string) (api.QueueItem, error)
	Add(ctx context.Context, req api.EnqueueRequest) (api.QueueItem, error)
	Remove(ctx context.Context, ids []string) (RemoveResult, error)
	Clear(ctx context.Context) (int, error)
	Drain(ctx context.Context) (api.DrainSummary, error)
	// Live reports whether operations reach a running daemon.
	Live() bool
}

// NewIPCAccess returns an Access backed by daemon IPC.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) Live() bool { return true }

func (a *ipcAccess) List(context.Context) ([]api.QueueItem, error) {
	resp, err := a.client.QueueList()
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (a *ipcAccess) Show(_ context.Context, id string) (api.QueueItem, error) {
	resp, err := a.client.QueueShow(id)
	if err != nil {
		return api.QueueItem{}, err
	}
	return resp.Item, nil
}

func (a *ipcAccess) Add(_ context.Context, req api.EnqueueRequest) (api.QueueItem, error) {
	resp, err := a.client.QueueAdd(ipc.QueueAddRequest{Request: req})
	if err != nil {
		return api.QueueItem{}, err
	}
	return resp.Item, nil
}

func (a *ipcAccess) Remove(_ context.Context, ids []string) (RemoveResult, error) {
	resp, err := a.client.QueueRemove(ids)
	if err != nil {
		return RemoveResult{}, err
	}
	return RemoveResult{Removed: resp.Removed, Missing: resp.Missing}, nil
}

func (a *ipcAccess) Clear(context.Context) (int, error) {
	resp, err := a.client.QueueClear()
	if err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (a *ipcAccess) Drain(context.Context) (api.DrainSummary, error) {
	resp, err := a.client.QueueDrain()
	if err != nil {
		return api.DrainSummary{}, err
	}
	return resp.Summary, nil
}

// NewEngineAccess returns an Access backed by a local engine over the
// persisted queue. The engine is offline, so nothing is delivered; Drain
// reports ErrDaemonRequired.
func NewEngineAccess(engine *queue.Engine) Access {
	return &engineAccess{engine: engine}
}

type engineAccess struct {
	engine *queue.Engine
}

func (a *engineAccess) Live() bool { return false }

func (a *engineAccess) List(context.Context) ([]api.QueueItem, error) {
	return api.FromRequests(a.engine.Snapshot()), nil
}

func (a *engineAccess) Show(_ context.Context, id string) (api.QueueItem, error) {
	req, ok := a.engine.Get(id)
	if !ok {
		return api.QueueItem{}, fmt.Errorf("request not found: %s", id)
	}
	return api.FromRequest(req), nil
}

func (a *engineAccess) Add(ctx context.Context, req api.EnqueueRequest) (api.QueueItem, error) {
	input, err := req.ToNewRequest()
	if err != nil {
		return api.QueueItem{}, err
	}
	stored, err := a.engine.Enqueue(ctx, input)
	if err != nil {
		return api.QueueItem{}, err
	}
	return api.FromRequest(stored), nil
}

func (a *engineAccess) Remove(ctx context.Context, ids []string) (RemoveResult, error) {
	result := RemoveResult{Removed: []string{}, Missing: []string{}}
	for _, id := range ids {
		if a.engine.Remove(ctx, id) {
			result.Removed = append(result.Removed, id)
		} else {
			result.Missing = append(result.Missing, id)
		}
	}
	return result, nil
}

func (a *engineAccess) Clear(ctx context.Context) (int, error) {
	return a.engine.Clear(ctx), nil
}

func (a *engineAccess) Drain(context.Context) (api.DrainSummary, error) {
	return api.DrainSummary{}, ErrDaemonRequired
}

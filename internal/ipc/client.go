package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func call[Req, Resp any](c *Client, method string, req Req) (*Resp, error) {
	var resp Resp
	if err := c.client.Call(serviceName+"."+method, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusRequest, StatusResponse](c, "Status", StatusRequest{})
}

// Stop asks the daemon process to shut down.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopRequest, StopResponse](c, "Stop", StopRequest{})
}

// QueueList returns queued requests in drain order.
func (c *Client) QueueList() (*QueueListResponse, error) {
	return call[QueueListRequest, QueueListResponse](c, "QueueList", QueueListRequest{})
}

// QueueShow returns a single queued request.
func (c *Client) QueueShow(id string) (*QueueShowResponse, error) {
	return call[QueueShowRequest, QueueShowResponse](c, "QueueShow", QueueShowRequest{ID: id})
}

// QueueAdd queues a request.
func (c *Client) QueueAdd(req QueueAddRequest) (*QueueAddResponse, error) {
	return call[QueueAddRequest, QueueAddResponse](c, "QueueAdd", req)
}

// QueueDispatch queues a request only when the daemon reports offline.
func (c *Client) QueueDispatch(req QueueDispatchRequest) (*QueueDispatchResponse, error) {
	return call[QueueDispatchRequest, QueueDispatchResponse](c, "QueueDispatch", req)
}

// QueueRemove drops queued requests by id.
func (c *Client) QueueRemove(ids []string) (*QueueRemoveResponse, error) {
	return call[QueueRemoveRequest, QueueRemoveResponse](c, "QueueRemove", QueueRemoveRequest{IDs: ids})
}

// QueueClear removes all queued requests.
func (c *Client) QueueClear() (*QueueClearResponse, error) {
	return call[QueueClearRequest, QueueClearResponse](c, "QueueClear", QueueClearRequest{})
}

// QueueDrain runs a drain pass and waits for its summary.
func (c *Client) QueueDrain() (*QueueDrainResponse, error) {
	return call[QueueDrainRequest, QueueDrainResponse](c, "QueueDrain", QueueDrainRequest{})
}

// NetworkSet toggles a manual network monitor.
func (c *Client) NetworkSet(online bool) (*NetworkSetResponse, error) {
	return call[NetworkSetRequest, NetworkSetResponse](c, "NetworkSet", NetworkSetRequest{Online: online})
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	return call[TestNotificationRequest, TestNotificationResponse](c, "TestNotification", TestNotificationRequest{})
}

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
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Datamill.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Datamill.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Datamill.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Trigger enqueues a dataset file for processing.
func (c *Client) Trigger(path string, force bool) (*TriggerResponse, error) {
	var resp TriggerResponse
	req := TriggerRequest{Path: path, Force: force}
	if err := c.client.Call("Datamill.Trigger", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunList returns runs optionally filtered by statuses.
func (c *Client) RunList(statuses []string) (*RunListResponse, error) {
	var resp RunListResponse
	req := RunListRequest{Statuses: statuses}
	if err := c.client.Call("Datamill.RunList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunDescribe returns details for a single run.
func (c *Client) RunDescribe(id int64) (*RunDescribeResponse, error) {
	var resp RunDescribeResponse
	req := RunDescribeRequest{ID: id}
	if err := c.client.Call("Datamill.RunDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunStop cancels a running or pending run.
func (c *Client) RunStop(id int64) (*RunStopResponse, error) {
	var resp RunStopResponse
	req := RunStopRequest{ID: id}
	if err := c.client.Call("Datamill.RunStop", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RetryFailed creates fresh runs for failed entries.
func (c *Client) RetryFailed(ids []int64) (*RetryFailedResponse, error) {
	var resp RetryFailedResponse
	req := RetryFailedRequest{IDs: ids}
	if err := c.client.Call("Datamill.RetryFailed", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClear removes all runs.
func (c *Client) QueueClear() (*QueueClearResponse, error) {
	var resp QueueClearResponse
	if err := c.client.Call("Datamill.QueueClear", QueueClearRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClearCompleted removes only completed runs.
func (c *Client) QueueClearCompleted() (*QueueClearCompletedResponse, error) {
	var resp QueueClearCompletedResponse
	if err := c.client.Call("Datamill.QueueClearCompleted", QueueClearCompletedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClearFailed removes failed runs.
func (c *Client) QueueClearFailed() (*QueueClearFailedResponse, error) {
	var resp QueueClearFailedResponse
	if err := c.client.Call("Datamill.QueueClearFailed", QueueClearFailedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueHealth returns run queue diagnostics.
func (c *Client) QueueHealth() (*QueueHealthResponse, error) {
	var resp QueueHealthResponse
	if err := c.client.Call("Datamill.QueueHealth", QueueHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	if err := c.client.Call("Datamill.DatabaseHealth", DatabaseHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Datamill.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

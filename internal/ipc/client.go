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

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(serviceName+"."+method, req, resp)
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Records lists records, optionally filtered by status.
func (c *Client) Records(statuses []string) (*RecordsResponse, error) {
	var resp RecordsResponse
	if err := c.call("Records", RecordsRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Show fetches one entry.
func (c *Client) Show(hash string) (*ShowResponse, error) {
	var resp ShowResponse
	if err := c.call("Show", ShowRequest{Hash: hash}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Errors fetches the newest error log rows.
func (c *Client) Errors(limit int) (*ErrorsResponse, error) {
	var resp ErrorsResponse
	if err := c.call("Errors", ErrorsRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Invalidate forgets a record.
func (c *Client) Invalidate(hash string) (*InvalidateResponse, error) {
	var resp InvalidateResponse
	if err := c.call("Invalidate", InvalidateRequest{Hash: hash}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Scan requests an early scan.
func (c *Client) Scan(reason string) (*ScanResponse, error) {
	var resp ScanResponse
	if err := c.call("Scan", ScanRequest{Reason: reason}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification sends a test notification.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

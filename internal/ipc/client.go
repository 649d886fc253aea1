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
	if err := c.client.Call("Loom.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop processing.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Loom.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Loom.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkSubmit enqueues a new work item.
func (c *Client) WorkSubmit(req WorkSubmitRequest) (*WorkSubmitResponse, error) {
	var resp WorkSubmitResponse
	if err := c.client.Call("Loom.WorkSubmit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkDescribe returns the derived view of a single work item.
func (c *Client) WorkDescribe(req WorkDescribeRequest) (*WorkDescribeResponse, error) {
	var resp WorkDescribeResponse
	if err := c.client.Call("Loom.WorkDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkList returns derived views filtered by the request.
func (c *Client) WorkList(req WorkListRequest) (*WorkListResponse, error) {
	var resp WorkListResponse
	if err := c.client.Call("Loom.WorkList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkRetry requeues a failed work item.
func (c *Client) WorkRetry(req WorkRetryRequest) (*WorkRetryResponse, error) {
	var resp WorkRetryResponse
	if err := c.client.Call("Loom.WorkRetry", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WorkCancel flags a work item for cooperative cancellation.
func (c *Client) WorkCancel(req WorkCancelRequest) (*WorkCancelResponse, error) {
	var resp WorkCancelResponse
	if err := c.client.Call("Loom.WorkCancel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueHealth returns queue diagnostics.
func (c *Client) QueueHealth() (*QueueHealthResponse, error) {
	var resp QueueHealthResponse
	if err := c.client.Call("Loom.QueueHealth", QueueHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DatabaseHealth retrieves detailed database diagnostics.
func (c *Client) DatabaseHealth() (*DatabaseHealthResponse, error) {
	var resp DatabaseHealthResponse
	if err := c.client.Call("Loom.DatabaseHealth", DatabaseHealthRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProposalSubmit submits a proposal for validation.
func (c *Client) ProposalSubmit(req ProposalSubmitRequest) (*ProposalSubmitResponse, error) {
	var resp ProposalSubmitResponse
	if err := c.client.Call("Loom.ProposalSubmit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProposalDescribe fetches a proposal with its operations.
func (c *Client) ProposalDescribe(req ProposalDescribeRequest) (*ProposalDescribeResponse, error) {
	var resp ProposalDescribeResponse
	if err := c.client.Call("Loom.ProposalDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ProposalReview applies a reviewer decision.
func (c *Client) ProposalReview(req ProposalReviewRequest) (*ProposalReviewResponse, error) {
	var resp ProposalReviewResponse
	if err := c.client.Call("Loom.ProposalReview", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Loom.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"ffqueue/internal/api"
	"ffqueue/internal/queuesync"
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

func call[T any](c *Client, method string, args any) (*T, error) {
	var resp T
	if err := c.client.Call("FFQueue."+method, args, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Start requests the daemon to start processing.
func (c *Client) Start() (*StartResponse, error) {
	return call[StartResponse](c, "Start", StartRequest{})
}

// Stop requests the daemon to pause its work and exit.
func (c *Client) Stop() (*StopResponse, error) {
	return call[StopResponse](c, "Stop", StopRequest{})
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	return call[StatusResponse](c, "Status", StatusRequest{})
}

// Enqueue adds a job.
func (c *Client) Enqueue(req api.EnqueueRequest) (*api.JobResponse, error) {
	return call[api.JobResponse](c, "Enqueue", req)
}

// Job returns the full record of one job.
func (c *Client) Job(id string) (*api.JobDetail, error) {
	return call[api.JobDetail](c, "Job", JobRequest{ID: id})
}

// State returns the lite snapshot, optionally filtered by status.
func (c *Client) State(statuses []string) (*queuesync.Snapshot, error) {
	return call[queuesync.Snapshot](c, "State", StateRequest{Statuses: statuses})
}

// Changes returns the delta after from, or a snapshot when from is outside
// the daemon's history. A positive wait blocks until something changes.
func (c *Client) Changes(from uint64, wait time.Duration) (*api.ChangesResponse, error) {
	return call[api.ChangesResponse](c, "Changes", ChangesRequest{From: from, WaitMillis: int(wait / time.Millisecond)})
}

// Action applies one transition (wait, resume, restart, cancel, delete).
func (c *Client) Action(action, id string) (*api.ActionResponse, error) {
	return call[api.ActionResponse](c, "Action", ActionRequest{Action: action, ID: id})
}

// Bulk applies one transition to several jobs.
func (c *Client) Bulk(action string, ids []string) (*api.BulkResponse, error) {
	return call[api.BulkResponse](c, "Bulk", BulkRequest{Action: action, IDs: ids})
}

// Reorder assigns queue order to queued jobs.
func (c *Client) Reorder(ids []string) (*api.ActionResponse, error) {
	return call[api.ActionResponse](c, "Reorder", api.ReorderRequest{IDs: ids})
}

// StartupHint returns the pending startup prompt.
func (c *Client) StartupHint() (*api.StartupHintResponse, error) {
	return call[api.StartupHintResponse](c, "StartupHint", StartupRequest{})
}

// DismissStartupHint records that the prompt was handled.
func (c *Client) DismissStartupHint() (*api.ActionResponse, error) {
	return call[api.ActionResponse](c, "DismissStartupHint", StartupRequest{})
}

// ResumeStartupQueue resumes every auto-paused job.
func (c *Client) ResumeStartupQueue() (*api.ResumeQueueResponse, error) {
	return call[api.ResumeQueueResponse](c, "ResumeStartupQueue", StartupRequest{})
}

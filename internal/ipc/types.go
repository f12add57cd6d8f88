package ipc

import (
	"ffqueue/internal/api"
)

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest asks the daemon to pause its work and exit.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
	// PausedJobs is how many in-flight encodes were paused on the way out.
	PausedJobs int `json:"pausedJobs"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the daemon status.
type StatusResponse = api.DaemonStatus

// JobRequest names one job.
type JobRequest struct {
	ID string `json:"id"`
}

// StateRequest filters the snapshot by status; empty means every job.
type StateRequest struct {
	Statuses []string `json:"statuses"`
}

// ChangesRequest asks for the changes after From. A positive WaitMillis
// blocks until something changes or the wait elapses.
type ChangesRequest struct {
	From       uint64 `json:"from"`
	WaitMillis int    `json:"waitMillis"`
}

// ActionRequest applies one transition to one job.
type ActionRequest struct {
	Action string `json:"action"`
	ID     string `json:"id"`
}

// BulkRequest applies one transition to several jobs.
type BulkRequest struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
}

// StartupRequest is the empty argument of the startup hint calls.
type StartupRequest struct{}

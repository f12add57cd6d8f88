package api

import (
	"ffqueue/internal/deps"
	"ffqueue/internal/ledger"
	"ffqueue/internal/queue"
	"ffqueue/internal/queuesync"
	"ffqueue/internal/recovery"
	"ffqueue/internal/workflow"
)

// EnqueueRequest describes a job to add to the queue.
type EnqueueRequest struct {
	InputPath  string `json:"inputPath"`
	PresetID   string `json:"presetId"`
	OutputPath string `json:"outputPath,omitempty"`
	Type       string `json:"type,omitempty"`
	Source     string `json:"source,omitempty"`
}

// JobResponse wraps one job in lite form.
type JobResponse struct {
	Job queuesync.JobLite `json:"job"`
}

// JobDetail is the full record of one job.
type JobDetail struct {
	queuesync.JobLite
	LogHead []string    `json:"logHead,omitempty"`
	LogTail string      `json:"logTail,omitempty"`
	Runs    []queue.Run `json:"runs,omitempty"`
	// Segments lists the stored partial outputs, oldest first.
	Segments []string `json:"segments,omitempty"`
}

// ActionResponse reports whether a single-job transition was accepted.
type ActionResponse struct {
	ID string `json:"id"`
	OK bool   `json:"ok"`
}

// BulkRequest names the targets of a bulk transition.
type BulkRequest struct {
	IDs []string `json:"ids"`
}

// BulkResponse reports per-job acceptance of a bulk transition. OK is true
// only when every target accepted it.
type BulkResponse struct {
	OK       bool     `json:"ok"`
	Accepted []string `json:"accepted"`
	Rejected []string `json:"rejected"`
}

// ReorderRequest lists queued job ids in their desired order.
type ReorderRequest struct {
	IDs []string `json:"ids"`
}

// ChangesResponse carries either a delta or, when the requested base is
// outside the history window, a full snapshot.
type ChangesResponse struct {
	Delta    *queuesync.Delta    `json:"delta,omitempty"`
	Snapshot *queuesync.Snapshot `json:"snapshot,omitempty"`
}

// StartupHintResponse carries the pending startup prompt, if any.
type StartupHintResponse struct {
	Hint *recovery.Hint `json:"hint"`
}

// ResumeQueueResponse reports how many auto-paused jobs were resumed.
type ResumeQueueResponse struct {
	Resumed int `json:"resumed"`
}

// DaemonStatus aggregates daemon runtime information.
type DaemonStatus struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	Session      string          `json:"session,omitempty"`
	Revision     uint64          `json:"snapshotRevision"`
	Counts       map[string]int  `json:"counts"`
	Workflow     workflow.Status `json:"workflow"`
	QueueDBPath  string          `json:"queueDbPath"`
	LockFilePath string          `json:"lockFilePath"`
	Dependencies []deps.Status   `json:"dependencies,omitempty"`
}

func fromBulk(r ledger.BulkResult) BulkResponse {
	return BulkResponse{OK: r.OK(), Accepted: r.Accepted, Rejected: r.Rejected}
}

// FromJob builds the detail view of a job.
func FromJob(job *queue.Job) JobDetail {
	return JobDetail{
		JobLite:  queuesync.ToLite(job),
		LogHead:  append([]string(nil), job.LogHead...),
		LogTail:  job.LogTail,
		Runs:     append([]queue.Run(nil), job.Runs...),
		Segments: job.Wait.SegmentPaths(),
	}
}

// StatusCounts renders per-status counts with every status present.
func StatusCounts(counts map[queue.Status]int) map[string]int {
	out := make(map[string]int, len(queue.AllStatuses))
	for _, s := range queue.AllStatuses {
		out[string(s)] = counts[s]
	}
	return out
}

// Package api defines the wire-format types shared by the HTTP and IPC
// layers and the QueueService facade both of them call.
//
// # Key Types
//
// QueueService: every boundary operation on the queue (enqueue, the per-job
// and bulk transitions, reorder, state and delta reads, startup hint
// handling) expressed over the ledger, the synchronizer, and the startup
// hint tracker.
//
// JobDetail: a full job record including logs and run history, for
// inspection; list views use queuesync.JobLite.
//
// DaemonStatus: daemon running state, session, revision, per-status counts,
// and scheduler slots.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Transitions that are not legal for a job
// report ok=false rather than an error; errors are reserved for malformed
// requests (services.ErrValidation) and unknown jobs (services.ErrNotFound).
package api

// Package queue defines the transcode job model and persists it in SQLite.
//
// Job carries the execution status, scheduling order, timing, progress
// telemetry, diagnostics, and the WaitMetadata captured each time an active
// encode is paused. Status transitions are expressed as a closed table in
// Transition; callers must consult it before mutating a job. The per-job
// segment list (the partial outputs produced by successive encode attempts)
// lives on WaitMetadata and is interpreted through ResumeState, which is also
// where the concat plan for a resumed job is derived.
//
// The Store keeps one row per job with the full record (including
// WaitMetadata) so the crash recovery loader can rebuild in-flight work after
// an unclean exit. Schema changes bump schemaVersion in schema.go.
package queue

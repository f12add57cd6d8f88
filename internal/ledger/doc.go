// Package ledger owns the in-memory queue: the ordered set of jobs, their
// scheduling order, and the monotonic snapshot revision.
//
// Every job mutation goes through the Ledger under a single mutex, so
// transitions for one job are linearizable and each published change bumps
// the revision exactly once. User-facing operations (Enqueue, Wait, Resume,
// Restart, Cancel, Delete, Reorder and their bulk variants) report illegal
// transitions as false rather than as errors. Worker-facing operations
// (ClaimNext, Progress, ConfirmPaused, Complete, Fail) are keyed by a
// RunToken so reports from a run that was cancelled or restarted are ignored.
//
// Side effects that must not run under the lock, such as stop signals to
// the worker and best-effort file cleanup, are collected during a mutation
// and applied after it commits.
package ledger

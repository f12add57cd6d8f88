// Package workflow runs queued jobs through the encoder.
//
// The Manager claims jobs from the ledger while concurrency slots are free,
// launches one encoder run per claim, and feeds progress, log lines, and
// the run's outcome back to the ledger. It is the ledger's Signaler: a wait
// request makes the run flush its partial output and exit, after which the
// segment is confirmed as a resume point; a cancel or restart aborts the
// run. Completed runs of resumed jobs are joined with their earlier
// segments before the job is marked completed.
//
// Slots are either one shared pool or separate CPU and hardware pools,
// chosen by the job's preset.
package workflow

// Package queuesync publishes the ledger to observers as full lite
// snapshots and incremental field-level deltas.
//
// The Synchronizer is installed as the ledger's journal. It mirrors the
// ledger in lite form and keeps, for each of the last N revisions, the lite
// value every touched job had before that revision. Delta(from) diffs those
// recorded "before" values against the current mirror, so applying a delta
// to the snapshot taken at from reproduces the current snapshot exactly.
// Revisions outside the retained window yield nil: the observer must resync
// from a full snapshot.
//
// Mirror is the observer-side counterpart that enforces base-revision
// checks.
package queuesync

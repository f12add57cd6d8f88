// Package daemon coordinates the long-running ffqueue process.
//
// It wires configuration, queue storage, the ledger, the synchronizer, and
// the workflow manager into a single lifecycle with flock-based locking to
// prevent multiple instances. Startup runs crash recovery and computes the
// startup hint before dispatch begins; shutdown pauses in-flight encodes and
// records a clean-stop marker for the next start.
//
// The daemon also serves the HTTP API and Prometheus metrics. Keep queue
// semantics in the ledger and workflow packages: this package focuses on
// startup, shutdown, and exposing the boundary.
package daemon

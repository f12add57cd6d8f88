// Package services defines shared utilities consumed by the ledger, the
// worker loop, and the daemon surfaces.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs and correlation identifiers for
//     logging and tracing.
//   - Structured error markers plus the Wrap helper so transports can map
//     failures to consistent responses.
package services

// Package ipc exposes the daemon over JSON-RPC on a Unix domain socket and
// ships the matching client used by the CLI.
//
// Every queue boundary operation of the HTTP API is available here as well;
// both transports call the same api.QueueService so their semantics cannot
// drift. Reuse the request/response types when adding endpoints to keep the
// protocol stable.
package ipc

// Package main hosts the ffqueue CLI.
//
// Commands either run the daemon in the foreground (`ffqueue daemon`) or
// talk to a running daemon over its unix socket. Queue inspection falls
// back to reading the queue database directly when the daemon is offline.
package main

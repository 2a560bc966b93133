// Package daemon coordinates the long-running datamill process.
//
// It wires configuration, run storage, the workflow manager, the drop
// directory watcher, and the HTTP API into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon exposes run
// maintenance helpers used by the IPC and HTTP layers and marks in-flight
// runs as failed on shutdown so operators can retry them.
//
// Keep orchestration logic here: individual pipeline steps should live in
// their respective packages while the daemon focuses on startup, shutdown,
// and high level coordination.
package daemon

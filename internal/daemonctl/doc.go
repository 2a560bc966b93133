// Package daemonctl orchestrates daemon lifecycle operations for the CLI:
// launching the daemon process, waiting for IPC availability, coordinated
// stop/terminate, and building status snapshots with offline fallbacks.
package daemonctl

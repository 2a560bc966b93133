// Package workflow orchestrates pipeline runs: a single processing goroutine
// selects the oldest actionable run, drives it through convert, clean, train,
// and publish with bounded retries, and persists every transition before
// announcing it.
//
// The manager is the only writer of run state. Stage handlers execute the
// work; the manager owns ordering, retry policy, cancellation, heartbeats,
// and failure handling.
package workflow

// Package queue persists pipeline runs, their stage records, and attempt
// history in SQLite. The store is intentionally mechanical: ordering, retry,
// and transition policy belong to the workflow manager.
package queue

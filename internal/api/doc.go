// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates internal queue models into transport-friendly DTOs
// so external consumers never couple to internal types.
//
// DTOs use camelCase JSON tags. Internal enums (queue.Status,
// queue.StageStatus) are exposed as lowercase strings, and every run also
// carries its coarse status (pending, running, succeeded, failed). Timestamps
// use RFC3339 with milliseconds.
package api

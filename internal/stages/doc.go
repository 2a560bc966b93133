// Package stages implements the four pipeline stage handlers (convert, clean,
// train, publish) over a shared tool-execution core.
package stages

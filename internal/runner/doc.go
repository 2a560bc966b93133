// Package runner executes external stage tools as supervised subprocesses:
// argv templates with placeholder expansion, per-invocation timeouts, process
// group cleanup, and bounded output capture.
package runner

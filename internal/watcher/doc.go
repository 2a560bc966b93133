// Package watcher detects dataset files dropped into the watch directory and
// enqueues pipeline runs for them once the files stop changing.
package watcher

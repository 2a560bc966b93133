// Package notifications delivers operator push notifications for pipeline
// lifecycle events via ntfy. When no topic is configured every call is a
// silent noop.
package notifications

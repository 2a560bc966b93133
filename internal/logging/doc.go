// Package logging provides slog construction with console and JSON handlers,
// standardized field keys, and context-derived attributes.
package logging

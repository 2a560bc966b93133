// Package config loads, normalizes, and validates the TOML configuration that
// drives the datamill daemon and CLI.
package config

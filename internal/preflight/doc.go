// Package preflight provides readiness checks for the filesystem paths and
// external stage tools the pipeline depends on.
//
// These checks run in two contexts:
//   - The daemon runs them at startup so a misconfigured install fails loudly
//     instead of queueing runs that can never execute.
//   - The CLI status command uses them to display tool availability.
package preflight

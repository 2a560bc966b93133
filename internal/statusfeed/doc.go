// Package statusfeed broadcasts pipeline status transitions to in-process
// subscribers. The HTTP SSE endpoint and notification bridge consume it.
package statusfeed

// Package notifier delivers notification text to the configured chat.
//
// Every message gets exactly one delivery attempt, gated by a token bucket
// and bounded by a per-send timeout. Failures are logged and reported to the
// caller as a boolean; Send never returns an error and never panics on a
// transport failure.
//
// # History
//
// The service keeps a small in-memory history of delivered and failed
// messages for the status endpoint.
package notifier

// Package async provides safe fire-and-forget execution for background work.
//
// SafeGo runs a task in its own goroutine with a timeout-bounded context,
// recovers panics, and logs failures through the structured logger. It is
// used for work that must not delay or fail the request that triggered it:
// asynchronous audit writes and session cache refills.
package async

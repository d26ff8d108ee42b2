// Package sealed provides bounded compute scopes whose tracked in-memory
// state is cleared on exit, success or failure.
//
// A SealedContext moves CREATED -> ENTERED -> EXITED; EXITED is terminal
// and repeat exits are no-ops. Exit is the single cleanup path: it runs
// cleanup callbacks in reverse registration order, zeroes every tracked
// buffer, and, when attestation is enabled, issues a MEMORY_ZERO
// destruction certificate recording the execution's duration and any
// captured error.
//
// Zeroing covers buffers the context owns through TrackBytes. It cannot
// reach copies the runtime or the caller may have made elsewhere; secrets
// that must never escape should live only in tracked buffers for the
// duration of the run.
package sealed

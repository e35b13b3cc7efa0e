// Package cacheerr enumerates the sentinel error kinds shared across the
// proxy's cache, pool and session layers, so callers can branch on
// behavior with errors.Is instead of string matching.
package cacheerr

import "errors"

var (
	// ErrAllocFailure means construction of a cache entry or buffer failed
	// (e.g. out of memory). The caller must log and return, never abort
	// the process mid-request.
	ErrAllocFailure = errors.New("cacheproxy: allocation failure")

	// ErrInvalidArgument means a nil cache, entry or empty fingerprint was
	// passed to an operation that requires one.
	ErrInvalidArgument = errors.New("cacheproxy: invalid argument")

	// ErrNotFound is the benign sentinel returned by Cache.Delete when the
	// fingerprint is absent.
	ErrNotFound = errors.New("cacheproxy: not found")

	// ErrUpstreamFailure wraps a socket or parse error encountered while
	// fetching from the origin.
	ErrUpstreamFailure = errors.New("cacheproxy: upstream failure")

	// ErrClientDisconnect means the downstream socket closed mid-stream.
	ErrClientDisconnect = errors.New("cacheproxy: client disconnected")

	// ErrShutdown is returned by Pool.Submit once shutdown has been
	// requested; the task is dropped silently by the caller after logging.
	ErrShutdown = errors.New("cacheproxy: submitted after shutdown")

	// ErrAlreadyFinalized is returned by Buffer.Append once the buffer has
	// reached a terminal state (complete or error).
	ErrAlreadyFinalized = errors.New("cacheproxy: buffer already finalized")
)

package gateway

import "errors"

var (
	// ErrTooManyConnections means the global connection limit was hit on
	// the admission path, before any session existed.
	ErrTooManyConnections = errors.New("too many connections")

	// ErrAuthenticationFailed means a credential presented at connect
	// time did not match.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrRateLimited means a connection exceeded its message rate.
	ErrRateLimited = errors.New("message rate limit exceeded")
)

package core

import "errors"

var (
	// ErrNetwork indicates a transport-level failure; the poll may be retried.
	ErrNetwork = errors.New("network failure")
	// ErrTimeout indicates the request exceeded its deadline; retryable.
	ErrTimeout = errors.New("request timed out")
	// ErrMalformedResponse indicates the response body could not be interpreted.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrAuthRejected indicates the server refused the request signature or nonce.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrUnauthorized indicates an account operation was attempted without credentials.
	ErrUnauthorized = errors.New("credentials required")
	// ErrIncompleteRecord indicates a parsed record was missing required fields.
	ErrIncompleteRecord = errors.New("incomplete record")
)

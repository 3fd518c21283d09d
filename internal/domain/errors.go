package domain

import "errors"

// Error taxonomy (sentinels), wrapped with "op=<x>: %w" at each boundary.
var (
	// ErrValidation covers malformed intake input (spec.md §7).
	ErrValidation = errors.New("validation error")
	// ErrNotFound signals a missing row (e.g. claim on an empty queue).
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a row that changed status between read and write.
	ErrConflict = errors.New("conflict")

	// ErrBackendUsageLimit is returned by the adapter when the backend
	// reports the request exceeded its token/usage budget. Not retried.
	ErrBackendUsageLimit = errors.New("backend usage limit exceeded")
	// ErrBackendMisbehaviour is returned when the backend responds but the
	// response fails structural validation (e.g. unparseable JSON).
	ErrBackendMisbehaviour = errors.New("backend misbehaviour")
	// ErrBackendTransient is returned for retryable network/5xx failures.
	ErrBackendTransient = errors.New("backend transient error")

	// ErrResourceTimeout names the resource-timeout error kind and maps to
	// 503 at the HTTP boundary. Arbiter.Acquire does not return it: a missed
	// deadline is reported as the TimedOut result.
	ErrResourceTimeout = errors.New("resource acquisition timed out")

	// ErrStore wraps database failures of Store.InsertRequest and
	// Store.Complete.
	ErrStore = errors.New("store error")
	// ErrSideEffect wraps a non-fatal failure in the side-effect chain.
	ErrSideEffect = errors.New("side effect error")

	// ErrUnsupportedRequestType is returned by DecodeInputData, and so by
	// Store.ClaimOne, for a request_type discriminator it does not recognize.
	ErrUnsupportedRequestType = errors.New("unsupported request type")
)

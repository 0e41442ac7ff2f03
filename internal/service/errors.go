package service

import "errors"

// Error taxonomy surfaced to the transport layer. Handlers map these onto
// HTTP statuses; everything else is an internal failure.
var (
	// ErrUnauthorized means the caller does not own the resource.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means an unknown model, chat or document was named.
	ErrNotFound = errors.New("not found")

	// ErrBadRequest means the request body failed validation.
	ErrBadRequest = errors.New("bad request")
)

package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest      = errors.New("bad request")
	ErrUnauthenticated = errors.New("missing X-User-Id header")
	ErrStreaming       = errors.New("streaming unsupported")
)

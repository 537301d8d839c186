package sqlstore

import "errors"

// Sentinel errors for opening a store.
var (
	ErrUnknownDriver = errors.New("unknown sql driver")
	ErrMissingDSN    = errors.New("dsn is required")
)

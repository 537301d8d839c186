package service

import "errors"

var (
	// ErrBackpressure is returned when a toggle command cannot be queued.
	ErrBackpressure = errors.New("toggle queue is full")

	// ErrNotStarted is returned by operations called before Start.
	ErrNotStarted = errors.New("service not started")
)

// ErrCoordinatorClosed is returned by Open after Close.
var ErrCoordinatorClosed = errors.New("coordinator closed")

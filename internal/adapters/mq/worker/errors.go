package worker

import "errors"

// ErrPoolClosed is delivered to submitters whose command was still queued
// when the pool shut down.
var ErrPoolClosed = errors.New("worker pool closed")

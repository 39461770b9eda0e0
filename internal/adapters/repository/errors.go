package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrMissingTenant     = errors.New("institution id is required")
	ErrUnsupportedDriver = errors.New("unsupported store driver")
	ErrClosed            = errors.New("store is closed")
)

package simulate

import "errors"

// Sentinel errors.
var (
	ErrInvalidConfig = errors.New("invalid simulation config")
	ErrUnhealthy     = errors.New("service is not healthy")
	ErrRejected      = errors.New("submission rejected")
	ErrMismatch      = errors.New("published score does not match local consensus")
)

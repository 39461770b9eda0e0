package live

import "errors"

// Sentinel kinds for live delivery errors.
var (
	ErrHubBusy   = errors.New("live hub broadcast buffer is full")
	ErrHubClosed = errors.New("live hub is stopped")
)

package scoring

import "errors"

// ErrUnknownMethod is returned when a scoring method name is not recognized.
var ErrUnknownMethod = errors.New("unknown scoring method")

package levels

import "errors"

// ErrInvalidLevel is returned when a level configuration fails validation.
var ErrInvalidLevel = errors.New("invalid level configuration")

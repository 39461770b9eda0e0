package aggregate

import "errors"

var (
	// ErrCrossTenant signals a mark from another institution reached a
	// tenant-scoped aggregation.
	ErrCrossTenant = errors.New("mark belongs to another institution")
	// ErrForeignMark signals a mark from another group was passed to Build.
	ErrForeignMark = errors.New("mark belongs to another score group")
)

package service

import "errors"

var (
	// ErrNotStarted is returned by operations called before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrInvalidCaller is returned when the caller context lacks a tenant or
	// carries an unknown role.
	ErrInvalidCaller = errors.New("invalid caller")
	// ErrForbidden is returned when the caller's role does not allow the
	// operation.
	ErrForbidden = errors.New("forbidden")
)

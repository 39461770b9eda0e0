package amqp

import "errors"

var (
	// ErrNotConnected is returned by Publish while the broker link is down.
	ErrNotConnected = errors.New("amqp: not connected")
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("amqp: publisher closed")
)

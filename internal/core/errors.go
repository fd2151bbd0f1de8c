package core

import "errors"

// Command-send failures. They are logged and never change the session state.
var (
	ErrNotConnected = errors.New("not connected")
	ErrRateLimited  = errors.New("rate limited")
	ErrQueueFull    = errors.New("outbound queue full")
)

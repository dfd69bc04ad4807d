package comm

import "errors"

// ErrClosed is returned by every operation on a channel after its Close,
// including a second Close.
var ErrClosed = errors.New("comm: channel closed")

// ErrNoMessages is returned by non-blocking receive paths when the channel
// is open but nothing is pending.
var ErrNoMessages = errors.New("comm: no messages waiting")

// ErrWrongDirection is returned when Send is called on a recv endpoint or
// Recv on a send endpoint.
var ErrWrongDirection = errors.New("comm: operation does not match channel direction")

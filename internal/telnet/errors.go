package telnet

import "errors"

var (
	// ErrInvalidAddress is returned when host:port cannot be parsed or resolved.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrConnectFailed is returned when the TCP connection cannot be established.
	ErrConnectFailed = errors.New("connection failed")
	// ErrIOSetupFailed is returned when the socket cannot be configured for
	// non-blocking use.
	ErrIOSetupFailed = errors.New("socket setup failed")
	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("not connected")
	// ErrConnectionLost reports a hard read or write failure. PollOnce
	// returns it once; the connection is gone afterwards.
	ErrConnectionLost = errors.New("connection lost")
	// ErrWouldBlock is returned by a Socket that cannot make progress now.
	ErrWouldBlock = errors.New("operation would block")
)

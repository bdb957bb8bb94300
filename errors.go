package main

import "errors"

// Error categories for failures that cross component boundaries. Parse-level
// problems (bad lines, bad datagrams) are dropped where they occur and never
// surface as errors; everything here is reportable to the state layer.
var (
	// ErrProtocol covers malformed lines, unexpected frame prefixes and
	// packet-size overflows. Non-fatal; the offending line or datagram is
	// discarded.
	ErrProtocol = errors.New("protocol error")

	// ErrResponse is a command response with a failure result code.
	ErrResponse = errors.New("command failed")

	// ErrTransport is a socket, TLS or send failure. Fatal to the session.
	ErrTransport = errors.New("transport error")

	// ErrTimeout is a connect or token-acquisition timeout.
	ErrTimeout = errors.New("timeout")

	// ErrStream is a UDP bind or stream setup failure. The control session
	// survives; audio does not start.
	ErrStream = errors.New("stream error")

	// ErrAuth is a broker registration rejection or an expired token.
	ErrAuth = errors.New("authentication error")

	// ErrResource is an Opus or audio device initialization failure.
	// Non-fatal; WAN audio degrades or is absent.
	ErrResource = errors.New("resource unavailable")

	// ErrNotConnected is returned when a command requires an established
	// control session.
	ErrNotConnected = errors.New("not connected")
)

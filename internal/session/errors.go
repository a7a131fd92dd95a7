package session

import "errors"

var (
	// ErrNoDeviceFound is returned by Connect when no port was specified and
	// auto-discovery found no matching hardware.
	ErrNoDeviceFound = errors.New("no matching device found")

	// ErrNotConnected is returned when an operation requires an open
	// transport and the session has none.
	ErrNotConnected = errors.New("not connected")
)

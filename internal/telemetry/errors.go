package telemetry

import "errors"

// ErrInvalidLength is returned by DecodePacket when the input is not exactly
// PacketSize bytes. Frames are never silently truncated or padded.
var ErrInvalidLength = errors.New("invalid packet length")

// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, wrapped with fmt.Errorf("...: %w") by the packages that return them.
var (
	// Interface resolution errors
	ErrInterfaceNotFound = errors.New("netprobe: interface not found")
	ErrNoHardwareAddr    = errors.New("netprobe: interface has no hardware address")

	// Socket errors
	ErrSocket              = errors.New("netprobe: socket error")
	ErrUnsupportedPlatform = errors.New("netprobe: raw packet sockets are not supported on this platform")

	// Component lifecycle errors
	ErrNotReady       = errors.New("netprobe: component not ready")
	ErrCaptureRunning = errors.New("netprobe: capture loop still running")

	// Packet decoding errors
	ErrMalformedFrame = errors.New("netprobe: malformed frame")

	// Handler errors
	ErrNotFound      = errors.New("netprobe: not found")
	ErrInvalidPolicy = errors.New("netprobe: invalid policy")
)

package core

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"testing"
)

// Test zero values of core structs
func TestStructZeroValues(t *testing.T) {
	var ifi Interface
	if ifi.HasIP() {
		t.Errorf("expected no IP, got %v", ifi.IP)
	}
	if ifi.MAC != nil {
		t.Errorf("expected MAC=nil, got %v", ifi.MAC)
	}
	if ifi.MACString() != "" {
		t.Errorf("expected empty MAC string, got %q", ifi.MACString())
	}
}

func TestInterface(t *testing.T) {
	ifi := Interface{
		Name:  "eth0",
		Index: 2,
		MAC:   net.HardwareAddr{0xAA, 0xBB, 0xCC, 0x00, 0x11, 0x22},
		IP:    netip.MustParseAddr("192.168.1.10"),
	}
	if got := ifi.MACString(); got != "aa:bb:cc:00:11:22" {
		t.Errorf("expected lower-case MAC, got %q", got)
	}
	if !ifi.HasIP() {
		t.Error("expected HasIP to be true")
	}
}

// Test sentinel errors
func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrInterfaceNotFound, "netprobe: interface not found"},
			{ErrNoHardwareAddr, "netprobe: interface has no hardware address"},
			{ErrSocket, "netprobe: socket error"},
			{ErrNotReady, "netprobe: component not ready"},
			{ErrCaptureRunning, "netprobe: capture loop still running"},
			{ErrMalformedFrame, "netprobe: malformed frame"},
			{ErrNotFound, "netprobe: not found"},
			{ErrInvalidPolicy, "netprobe: invalid policy"},
		}

		for _, tt := range tests {
			if tt.err.Error() != tt.message {
				t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
			}
		}
	})

	t.Run("ErrorWrapping", func(t *testing.T) {
		// handlers wrap two sentinels at once
		wrapped := fmt.Errorf("%w: ARP handler: %w", ErrNotReady, ErrInterfaceNotFound)
		if !errors.Is(wrapped, ErrNotReady) || !errors.Is(wrapped, ErrInterfaceNotFound) {
			t.Error("errors.Is failed for wrapped error")
		}
		if errors.Is(wrapped, ErrSocket) {
			t.Error("unexpected match for ErrSocket")
		}
	})
}

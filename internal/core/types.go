// Package core defines core types with zero external dependencies.
package core

import (
	"net"
	"net/netip"
	"strings"
)

// Interface is the identity of a local network interface, resolved once and
// immutable afterwards.
type Interface struct {
	Name  string
	Index int
	MAC   net.HardwareAddr
	IP    netip.Addr // Zero value when the interface has no IPv4 address
}

// MACString returns the lower-cased hardware address.
func (i Interface) MACString() string {
	return strings.ToLower(i.MAC.String())
}

// HasIP reports whether an IPv4 address is bound to the interface.
func (i Interface) HasIP() bool {
	return i.IP.IsValid()
}

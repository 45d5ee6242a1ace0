// Package iface resolves the identity of a local network interface.
package iface

import (
	"fmt"
	"net"
	"net/netip"

	"firestige.xyz/netprobe/internal/core"
)

// Resolve looks up name and returns its index, hardware address and first
// IPv4 address. The IPv4 address is left zero when none is bound.
func Resolve(name string) (core.Interface, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return core.Interface{}, fmt.Errorf("%w: %s: %v", core.ErrInterfaceNotFound, name, err)
	}
	return fromNet(ifi)
}

func fromNet(ifi *net.Interface) (core.Interface, error) {
	if len(ifi.HardwareAddr) != 6 {
		return core.Interface{}, fmt.Errorf("%w: %s", core.ErrNoHardwareAddr, ifi.Name)
	}

	out := core.Interface{
		Name:  ifi.Name,
		Index: ifi.Index,
		MAC:   ifi.HardwareAddr,
	}

	addrs, err := ifi.Addrs()
	if err != nil {
		// An interface without a readable address list still has an identity.
		return out, nil
	}
	out.IP = firstIPv4(addrs)
	return out, nil
}

func firstIPv4(addrs []net.Addr) netip.Addr {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		if ip4 := ip.To4(); ip4 != nil {
			addr, _ := netip.AddrFromSlice(ip4)
			return addr
		}
	}
	return netip.Addr{}
}

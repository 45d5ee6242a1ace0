package iface

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"firestige.xyz/netprobe/internal/core"
)

func TestResolve_Missing(t *testing.T) {
	_, err := Resolve("netprobe-does-not-exist0")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInterfaceNotFound))
}

func TestResolve_NoHardwareAddr(t *testing.T) {
	lo := loopback(t)
	_, err := Resolve(lo.Name)
	assert.True(t, errors.Is(err, core.ErrNoHardwareAddr))
}

func TestFromNet_NoHardwareAddr(t *testing.T) {
	_, err := fromNet(&net.Interface{Name: "tun0"})
	assert.True(t, errors.Is(err, core.ErrNoHardwareAddr))
}

func TestFirstIPv4(t *testing.T) {
	addrs := []net.Addr{
		&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
		&net.IPNet{IP: net.ParseIP("10.0.0.2"), Mask: net.CIDRMask(24, 32)},
		&net.IPNet{IP: net.ParseIP("10.0.0.3"), Mask: net.CIDRMask(24, 32)},
	}
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), firstIPv4(addrs))

	assert.False(t, firstIPv4(nil).IsValid())
	assert.False(t, firstIPv4(addrs[:1]).IsValid())
}

func loopback(t *testing.T) net.Interface {
	t.Helper()
	ifaces, err := net.Interfaces()
	if err != nil {
		t.Skipf("cannot list interfaces: %v", err)
	}
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagLoopback != 0 {
			return ifi
		}
	}
	t.Skip("no loopback interface")
	return net.Interface{}
}

//go:build linux

package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"firestige.xyz/netprobe/internal/core"
)

type packetConn struct {
	fd int
}

// Listen opens an AF_PACKET socket receiving every protocol on ifname. A
// positive timeout bounds each ReadFrame. With filter set, a kernel BPF
// program restricts delivery to ARP and DHCP client traffic.
func Listen(ifname string, timeout time.Duration, filter bool) (Conn, error) {
	ifi, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s", core.ErrSocket, core.ErrInterfaceNotFound, ifname)
	}

	proto := htons(unix.ETH_P_ALL)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, int(proto))
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %v", core.ErrSocket, err)
	}
	c := &packetConn{fd: fd}

	if filter {
		if err := c.attachFilter(); err != nil {
			c.Close()
			return nil, err
		}
	}

	if timeout > 0 {
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: SO_RCVTIMEO: %v", core.ErrSocket, err)
		}
	}

	sa := &unix.SockaddrLinklayer{Protocol: proto, Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: bind %s: %v", core.ErrSocket, ifname, err)
	}
	return c, nil
}

func (c *packetConn) attachFilter() error {
	prog, err := assembleFilter()
	if err != nil {
		return fmt.Errorf("%w: assemble filter: %v", core.ErrSocket, err)
	}
	filters := make([]unix.SockFilter, len(prog))
	for i, ins := range prog {
		filters[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := unix.SockFprog{Len: uint16(len(filters)), Filter: &filters[0]}
	if err := unix.SetsockoptSockFprog(c.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &fprog); err != nil {
		return fmt.Errorf("%w: attach filter: %v", core.ErrSocket, err)
	}
	return nil
}

func (c *packetConn) ReadFrame(b []byte) (int, FrameKind, error) {
	n, from, err := unix.Recvfrom(c.fd, b, 0)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
			return 0, 0, ErrReadTimeout
		}
		return 0, 0, fmt.Errorf("%w: recvfrom: %v", core.ErrSocket, err)
	}
	kind := FrameHost
	if ll, ok := from.(*unix.SockaddrLinklayer); ok {
		kind = FrameKind(ll.Pkttype)
	}
	return n, kind, nil
}

func (c *packetConn) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

// htons converts to network byte order.
func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}

package capture

import (
	"errors"
	"fmt"
)

// ErrReadTimeout is returned by Conn.ReadFrame when no frame arrived within
// the read timeout.
var ErrReadTimeout = errors.New("netprobe: read timeout")

// FrameKind is the kernel's classification of a received frame.
type FrameKind uint8

// Values follow the Linux PACKET_* constants.
const (
	FrameHost      FrameKind = 0
	FrameBroadcast FrameKind = 1
	FrameMulticast FrameKind = 2
	FrameOtherHost FrameKind = 3
	FrameOutgoing  FrameKind = 4
)

func (k FrameKind) String() string {
	switch k {
	case FrameHost:
		return "host"
	case FrameBroadcast:
		return "broadcast"
	case FrameMulticast:
		return "multicast"
	case FrameOtherHost:
		return "otherhost"
	case FrameOutgoing:
		return "outgoing"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Conn is a link-layer listening socket.
type Conn interface {
	ReadFrame(b []byte) (n int, kind FrameKind, err error)
	Close() error
}

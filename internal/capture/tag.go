package capture

import "fmt"

// Tag names a protocol layer a receiver can register for.
type Tag int

const (
	TagEthernet Tag = iota
	TagARP
	TagIPv4
	TagUDP
	TagDHCP
)

func (t Tag) String() string {
	switch t {
	case TagEthernet:
		return "ethernet"
	case TagARP:
		return "arp"
	case TagIPv4:
		return "ipv4"
	case TagUDP:
		return "udp"
	case TagDHCP:
		return "dhcp"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

package capture

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/netprobe/internal/core"
)

// Packet is one decoded frame. Layers that were not present are nil.
type Packet struct {
	data []byte
	tags []Tag

	eth  *layers.Ethernet
	arp  *layers.ARP
	ip4  *layers.IPv4
	udp  *layers.UDP
	dhcp *layers.DHCPv4
}

// Decode parses an Ethernet frame down to ARP or IPv4/UDP/DHCP. The data is
// copied, so the caller may reuse its buffer. Layers outside that set end
// decoding without an error.
func Decode(data []byte) (*Packet, error) {
	p := &Packet{data: append([]byte(nil), data...)}

	var (
		eth   layers.Ethernet
		dot1q layers.Dot1Q
		arp   layers.ARP
		ip4   layers.IPv4
		udp   layers.UDP
		dhcp  layers.DHCPv4
	)
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &dot1q, &arp, &ip4, &udp, &dhcp)
	parser.IgnoreUnsupported = true

	decoded := make([]gopacket.LayerType, 0, 5)
	if err := parser.DecodeLayers(p.data, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedFrame, err)
	}
	if parser.Truncated {
		return nil, fmt.Errorf("%w: truncated", core.ErrMalformedFrame)
	}

	for _, lt := range decoded {
		switch lt {
		case layers.LayerTypeEthernet:
			p.eth = &eth
			p.tags = append(p.tags, TagEthernet)
		case layers.LayerTypeARP:
			p.arp = &arp
			p.tags = append(p.tags, TagARP)
		case layers.LayerTypeIPv4:
			p.ip4 = &ip4
			p.tags = append(p.tags, TagIPv4)
		case layers.LayerTypeUDP:
			p.udp = &udp
			p.tags = append(p.tags, TagUDP)
		case layers.LayerTypeDHCPv4:
			p.dhcp = &dhcp
			p.tags = append(p.tags, TagDHCP)
		}
	}
	if p.eth == nil {
		return nil, fmt.Errorf("%w: no ethernet header", core.ErrMalformedFrame)
	}
	return p, nil
}

func (p *Packet) Data() []byte { return p.data }

// Tags lists the layers present, outermost first.
func (p *Packet) Tags() []Tag { return p.tags }

func (p *Packet) Has(tag Tag) bool {
	for _, t := range p.tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (p *Packet) Ethernet() *layers.Ethernet { return p.eth }
func (p *Packet) ARP() *layers.ARP           { return p.arp }
func (p *Packet) IPv4() *layers.IPv4         { return p.ip4 }
func (p *Packet) UDP() *layers.UDP           { return p.udp }
func (p *Packet) DHCP() *layers.DHCPv4       { return p.dhcp }

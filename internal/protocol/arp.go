package protocol

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/mdlayher/ethernet"

	"firestige.xyz/netprobe/internal/capture"
	"firestige.xyz/netprobe/internal/core"
	"firestige.xyz/netprobe/internal/violation"
)

const protocolARP = "ARP"

// ARP resolves addresses under test and checks each reply against the
// known IP to MAC table.
type ARP struct {
	*Base

	mu    sync.Mutex
	known map[netip.Addr]string
}

// NewARP builds an ARP handler and subscribes it to reg. known maps IPv4
// addresses to the MAC expected to answer for them.
func NewARP(reg Registrar, ifname string, known map[string]string, opts ...Option) (*ARP, error) {
	table, err := parseKnown(known)
	if err != nil {
		return nil, err
	}
	base, err := newBase(protocolARP, capture.TagARP, ethernet.EtherTypeARP, ifname, opts)
	if err != nil {
		return nil, err
	}
	h := &ARP{Base: base, known: table}
	h.attach(reg, h)
	return h, nil
}

func parseKnown(known map[string]string) (map[netip.Addr]string, error) {
	table := make(map[netip.Addr]string, len(known))
	for ipStr, macStr := range known {
		ip, err := netip.ParseAddr(strings.TrimSpace(ipStr))
		if err != nil || !ip.Is4() {
			return nil, fmt.Errorf("%w: resolver address %q", core.ErrInvalidPolicy, ipStr)
		}
		mac, err := net.ParseMAC(strings.TrimSpace(macStr))
		if err != nil || len(mac) != 6 {
			return nil, fmt.Errorf("%w: resolver MAC %q for %s", core.ErrInvalidPolicy, macStr, ip)
		}
		table[ip] = strings.ToLower(mac.String())
	}
	return table, nil
}

// CreatePacket builds a broadcast who-has request for target. Without an
// interface address the sender protocol address is 0.0.0.0.
func (h *ARP) CreatePacket(target netip.Addr) ([]byte, error) {
	if !target.Is4() {
		return nil, fmt.Errorf("%w: ARP target %s is not IPv4", core.ErrInvalidPolicy, target)
	}
	sender := netip.IPv4Unspecified()
	if h.iface.HasIP() {
		sender = h.iface.IP
	}

	eth := &layers.Ethernet{
		SrcMAC:       h.iface.MAC,
		DstMAC:       ethernet.Broadcast,
		EthernetType: layers.EthernetTypeARP,
	}
	req := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   h.iface.MAC,
		SourceProtAddress: sender.AsSlice(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    target.AsSlice(),
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, req); err != nil {
		return nil, fmt.Errorf("serialize ARP request: %w", err)
	}
	return buf.Bytes(), nil
}

// HandlePacket validates ARP replies. Other opcodes are ignored and produce
// no result.
func (h *ARP) HandlePacket(p *capture.Packet) error {
	arp := p.ARP()
	if arp == nil {
		return nil
	}
	if arp.Operation != layers.ARPReply {
		h.logger.Debugf("ARP opcode %d not handled", arp.Operation)
		return nil
	}

	ip, ok := netip.AddrFromSlice(arp.SourceProtAddress)
	if !ok || len(arp.SourceHwAddress) != 6 || len(arp.DstHwAddress) != 6 {
		return fmt.Errorf("%w: ARP reply address sizes", core.ErrMalformedFrame)
	}
	ip = ip.Unmap()
	mac := strings.ToLower(net.HardwareAddr(arp.SourceHwAddress).String())
	dst := strings.ToLower(net.HardwareAddr(arp.DstHwAddress).String())

	var list violation.List
	// A broadcast reply lands here too.
	if dst != h.iface.MACString() {
		list = append(list, violation.NewInvalidMAC(h.name, dst))
	}

	h.logger.Debugf("got MAC %s for IP %s", mac, ip)
	if !h.checkMAC(ip, mac) {
		list = append(list, violation.NewInvalidARP(h.name, ip, mac))
	}

	h.emit(list)
	return nil
}

func (h *ARP) checkMAC(ip netip.Addr, mac string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if want, ok := h.known[ip]; ok {
		if want != mac {
			h.logger.Debugf("got bad MAC %s for IP %s, expecting %s", mac, ip, want)
			return false
		}
		return true
	}
	if h.Learning() {
		h.logger.Debugf("learned MAC %s for IP %s", mac, ip)
		h.known[ip] = mac
	} else {
		h.logger.Debugf("unknown ARP %s: %s, ignoring", mac, ip)
	}
	return true
}

// KnownAddresses returns a copy of the IP to MAC table, including learned entries.
func (h *ARP) KnownAddresses() map[netip.Addr]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[netip.Addr]string, len(h.known))
	for ip, mac := range h.known {
		out[ip] = mac
	}
	return out
}

package protocol

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/mdlayher/ethernet"

	"firestige.xyz/netprobe/internal/capture"
	"firestige.xyz/netprobe/internal/core"
	"firestige.xyz/netprobe/internal/violation"
)

const (
	protocolDHCP = "DHCP"

	dhcpServerPort = 67
	dhcpClientPort = 68

	DefaultClientName = "dhcp-tester"

	noXid = -1
)

// requestedParams is the parameter request list sent with every DISCOVER.
var requestedParams = []byte{
	byte(layers.DHCPOptSubnetMask),
	byte(layers.DHCPOptInterfaceMTU),
	byte(layers.DHCPOptRouter),
	byte(layers.DHCPOptDNS),
	byte(layers.DHCPOptTimeServer),
	byte(layers.DHCPOptStaticRoute),
}

// Policy lists what DHCP servers may offer. An empty list accepts anything
// unless the handler is learning.
type Policy struct {
	Passive    bool
	Servers    []string // server MAC addresses
	Ranges     []string // CIDR blocks the offered address must fall in
	Gateways   []string
	DNSServers []string
	ClientName string
}

type optionValidator func(value []byte, list *violation.List)

// DHCP sends a DISCOVER and validates the OFFERs that answer it.
type DHCP struct {
	*Base

	passive    bool
	clientName string
	xid        atomic.Int64
	validators map[layers.DHCPOpt]optionValidator

	// guarded by mu, written only from HandlePacket
	mu       sync.Mutex
	servers  []string
	ranges   []netip.Prefix
	gateways []netip.Addr
	dns      []netip.Addr
	offered  netip.Addr
}

// NewDHCP builds a DHCP handler for policy and subscribes it to reg.
func NewDHCP(reg Registrar, ifname string, policy Policy, opts ...Option) (*DHCP, error) {
	h := &DHCP{
		passive:    policy.Passive,
		clientName: policy.ClientName,
	}
	if h.clientName == "" {
		h.clientName = DefaultClientName
	}
	if err := h.parsePolicy(policy); err != nil {
		return nil, err
	}

	base, err := newBase(protocolDHCP, capture.TagDHCP, ethernet.EtherTypeIPv4, ifname, opts)
	if err != nil {
		return nil, err
	}
	h.Base = base
	h.xid.Store(noXid)
	h.validators = map[layers.DHCPOpt]optionValidator{
		layers.DHCPOptServerID:     h.handleServerID,
		layers.DHCPOptRouter:       h.handleRouter,
		layers.DHCPOptDNS:          h.handleDNS,
		layers.DHCPOptSubnetMask:   h.handleSubnetMask,
		layers.DHCPOptInterfaceMTU: h.handleMTU,
		layers.DHCPOptStaticRoute:  h.handleStaticRoute,
	}
	h.attach(reg, h)
	return h, nil
}

func (h *DHCP) parsePolicy(p Policy) error {
	for _, s := range p.Servers {
		mac, err := net.ParseMAC(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%w: server MAC %q", core.ErrInvalidPolicy, s)
		}
		h.servers = append(h.servers, strings.ToLower(mac.String()))
	}
	for _, s := range p.Ranges {
		prefix, err := parseRange(s)
		if err != nil {
			return fmt.Errorf("%w: DHCP range %q", core.ErrInvalidPolicy, s)
		}
		h.ranges = append(h.ranges, prefix)
	}
	var err error
	if h.gateways, err = parseAddrs("gateway", p.Gateways); err != nil {
		return err
	}
	if h.dns, err = parseAddrs("DNS server", p.DNSServers); err != nil {
		return err
	}
	return nil
}

// parseRange accepts CIDR notation or a bare address, taken as a /32.
func parseRange(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "/") {
		addr, err := netip.ParseAddr(s)
		if err != nil || !addr.Is4() {
			return netip.Prefix{}, fmt.Errorf("not an IPv4 address: %s", s)
		}
		return netip.PrefixFrom(addr, 32), nil
	}
	prefix, err := netip.ParsePrefix(s)
	if err != nil || !prefix.Addr().Is4() {
		return netip.Prefix{}, fmt.Errorf("not an IPv4 network: %s", s)
	}
	return prefix.Masked(), nil
}

func parseAddrs(what string, in []string) ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(in))
	for _, s := range in {
		addr, err := netip.ParseAddr(strings.TrimSpace(s))
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("%w: %s %q", core.ErrInvalidPolicy, what, s)
		}
		out = append(out, addr)
	}
	return out, nil
}

// CreatePacket builds a broadcast DHCPDISCOVER with a fresh random xid.
// The handler starts expecting that xid once the frame goes through SendPacket.
func (h *DHCP) CreatePacket() ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       h.iface.MAC,
		DstMAC:       ethernet.Broadcast,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TOS:      0x10, // low delay
		TTL:      16,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4zero,
		DstIP:    net.IPv4bcast,
	}
	udp := &layers.UDP{
		SrcPort: dhcpClientPort,
		DstPort: dhcpServerPort,
	}
	udp.SetNetworkLayerForChecksum(ip)

	discover := &layers.DHCPv4{
		Operation:    layers.DHCPOpRequest,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  6,
		Xid:          rand.Uint32(),
		ClientIP:     net.IPv4zero,
		YourClientIP: net.IPv4zero,
		NextServerIP: net.IPv4zero,
		RelayAgentIP: net.IPv4zero,
		ClientHWAddr: h.iface.MAC,
		Options: layers.DHCPOptions{
			layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(layers.DHCPMsgTypeDiscover)}),
			layers.NewDHCPOption(layers.DHCPOptHostname, []byte(h.clientName)),
			layers.NewDHCPOption(layers.DHCPOptParamsRequest, requestedParams),
		},
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, discover); err != nil {
		return nil, fmt.Errorf("serialize DHCP discover: %w", err)
	}
	return buf.Bytes(), nil
}

// SendPacket records the xid carried by frame, then sends it.
func (h *DHCP) SendPacket(frame []byte) error {
	if p, err := capture.Decode(frame); err == nil && p.DHCP() != nil {
		h.xid.Store(int64(p.DHCP().Xid))
		h.logger.Debugf("expecting xid %d", p.DHCP().Xid)
	}
	return h.Base.SendPacket(frame)
}

// HandlePacket validates DHCPOFFERs. Replies to other transactions and other
// message types are ignored and produce no result.
func (h *DHCP) HandlePacket(p *capture.Packet) error {
	msg := p.DHCP()
	if msg == nil {
		return nil
	}
	h.logger.Debugf("xid: %d", msg.Xid)

	if !h.passive {
		want := h.xid.Load()
		if want == noXid || uint32(want) != msg.Xid {
			h.logger.Debugf("invalid xid (got %d, expecting %d), ignoring", msg.Xid, want)
			return nil
		}
	}

	if mt, ok := messageType(msg); !ok || mt != layers.DHCPMsgTypeOffer {
		h.logger.Debugf("DHCP message type %s not handled", mt)
		return nil
	}

	list := h.validateOffer(p.Ethernet(), msg)
	h.emit(list)
	return nil
}

func (h *DHCP) validateOffer(eth *layers.Ethernet, msg *layers.DHCPv4) violation.List {
	h.mu.Lock()
	defer h.mu.Unlock()

	var list violation.List
	learn := h.Learning()

	server := strings.ToLower(eth.SrcMAC.String())
	h.logger.Debugf("source MAC is %s, dest MAC is %s", server, eth.DstMAC)
	if !checkMember(h, "server MAC", &h.servers, server, learn) {
		list = append(list, violation.NewInvalidServerMAC(h.name, server))
	}

	h.offered, _ = netip.AddrFromSlice(msg.YourClientIP.To4())
	h.logger.Debugf("got IP address %s", h.offered)
	if !h.checkAddress(h.offered, learn) && !learn {
		list = append(list, violation.NewInvalidIPAddress(h.name, h.offered))
	}

	for _, opt := range msg.Options {
		if validate, ok := h.validators[opt.Type]; ok {
			validate(opt.Data, &list)
		} else {
			h.logger.Debugf("no handler for DHCP option %s", opt.Type)
		}
	}
	return list
}

func messageType(msg *layers.DHCPv4) (layers.DHCPMsgType, bool) {
	for _, opt := range msg.Options {
		if opt.Type == layers.DHCPOptMessageType && len(opt.Data) == 1 {
			return layers.DHCPMsgType(opt.Data[0]), true
		}
	}
	return layers.DHCPMsgTypeUnspecified, false
}

// checkMember succeeds when item is listed, when learning (item is then
// appended) or when the list is empty.
func checkMember[T comparable](h *DHCP, what string, list *[]T, item T, learn bool) bool {
	for _, cur := range *list {
		if cur == item {
			return true
		}
	}
	if learn {
		h.logger.Debugf("learned %s: %v", what, item)
		*list = append(*list, item)
		return true
	}
	return len(*list) == 0
}

func (h *DHCP) checkAddress(addr netip.Addr, learn bool) bool {
	if len(h.ranges) == 0 && !learn {
		return true
	}
	for _, r := range h.ranges {
		if r.Contains(addr) {
			return true
		}
	}
	// the range itself is learned from the subnet mask option
	return false
}

func (h *DHCP) handleServerID(value []byte, _ *violation.List) {
	addr, ok := addrAt(value, 0)
	if !ok || len(value) != 4 {
		h.logger.Warnf("server identifier option has length %d, skipping", len(value))
		return
	}
	h.logger.Debugf("server identifier: %s", addr)
}

func (h *DHCP) handleRouter(value []byte, list *violation.List) {
	if len(value) == 0 || len(value)%4 != 0 {
		h.logger.Warnf("router option has length %d, skipping", len(value))
		return
	}
	for off := 0; off < len(value); off += 4 {
		gw, _ := addrAt(value, off)
		h.logger.Debugf("gateway address: %s", gw)
		if !checkMember(h, "gateway", &h.gateways, gw, h.Learning()) {
			*list = append(*list, violation.NewInvalidGatewayIPAddress(h.name, gw))
		}
	}
}

func (h *DHCP) handleDNS(value []byte, list *violation.List) {
	if len(value) == 0 || len(value)%4 != 0 {
		h.logger.Warnf("DNS option has length %d, skipping", len(value))
		return
	}
	for off := 0; off < len(value); off += 4 {
		server, _ := addrAt(value, off)
		h.logger.Debugf("DNS server: %s", server)
		if !checkMember(h, "DNS", &h.dns, server, h.Learning()) {
			*list = append(*list, violation.NewInvalidDNSServer(h.name, server))
		}
	}
}

func (h *DHCP) handleSubnetMask(value []byte, list *violation.List) {
	if len(value) != 4 {
		h.logger.Warnf("subnet mask option has length %d, skipping", len(value))
		return
	}
	ones, bits := net.IPMask(value).Size()
	if bits == 0 {
		h.logger.Warnf("subnet mask %s is not contiguous, skipping", net.IP(value))
		return
	}
	network := netip.PrefixFrom(h.offered, ones).Masked()
	h.logger.Debugf("subnet mask: %s, network %s", net.IP(value), network)
	if !checkMember(h, "network", &h.ranges, network, h.Learning()) {
		*list = append(*list, violation.NewInvalidNetwork(h.name, network))
	}
}

func (h *DHCP) handleMTU(value []byte, _ *violation.List) {
	if len(value) != 2 {
		h.logger.Warnf("MTU option has length %d, skipping", len(value))
		return
	}
	h.logger.Debugf("MTU: %d", binary.BigEndian.Uint16(value))
}

func (h *DHCP) handleStaticRoute(value []byte, list *violation.List) {
	if len(value) == 0 || len(value)%8 != 0 {
		h.logger.Warnf("static route option has length %d, skipping", len(value))
		return
	}
	for off := 0; off < len(value); off += 8 {
		dest, _ := addrAt(value, off)
		gw, _ := addrAt(value, off+4)
		h.logger.Debugf("static route: %s through %s", dest, gw)
		if !checkMember(h, "gateway", &h.gateways, gw, h.Learning()) {
			*list = append(*list, violation.NewInvalidRoute(h.name, dest, gw))
		}
	}
}

func addrAt(b []byte, off int) (netip.Addr, bool) {
	if len(b) < off+4 {
		return netip.Addr{}, false
	}
	return netip.AddrFrom4([4]byte(b[off : off+4])), true
}

// Policy returns the current allow-lists, including learned values.
func (h *DHCP) Policy() Policy {
	h.mu.Lock()
	defer h.mu.Unlock()

	p := Policy{
		Passive:    h.passive,
		ClientName: h.clientName,
		Servers:    append([]string(nil), h.servers...),
	}
	for _, r := range h.ranges {
		p.Ranges = append(p.Ranges, r.String())
	}
	for _, gw := range h.gateways {
		p.Gateways = append(p.Gateways, gw.String())
	}
	for _, d := range h.dns {
		p.DNSServers = append(p.DNSServers, d.String())
	}
	return p
}

// Offered returns the address of the last validated offer.
func (h *DHCP) Offered() netip.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.offered
}

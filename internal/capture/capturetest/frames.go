package capturetest

import (
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ARPFrame builds an Ethernet/ARP frame. The Ethernet destination equals the
// ARP target hardware address.
func ARPFrame(op uint16, srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP netip.Addr) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   srcMAC,
		SourceProtAddress: srcIP.AsSlice(),
		DstHwAddress:      dstMAC,
		DstProtAddress:    dstIP.AsSlice(),
	}
	return serialize(eth, arp)
}

// DHCP describes a server reply.
type DHCP struct {
	ServerMAC net.HardwareAddr
	ClientMAC net.HardwareAddr
	ServerIP  netip.Addr
	YourIP    netip.Addr
	Xid       uint32
	MsgType   layers.DHCPMsgType
	Options   []layers.DHCPOption
}

// DHCPFrame builds an Ethernet/IPv4/UDP/DHCP reply from server port 67 to
// client port 68. The message type option is prepended to d.Options.
func DHCPFrame(d DHCP) []byte {
	opts := layers.DHCPOptions{layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(d.MsgType)})}
	opts = append(opts, d.Options...)

	dhcp := &layers.DHCPv4{
		Operation:    layers.DHCPOpReply,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  6,
		Xid:          d.Xid,
		ClientIP:     net.IPv4zero,
		YourClientIP: d.YourIP.AsSlice(),
		NextServerIP: net.IPv4zero,
		RelayAgentIP: net.IPv4zero,
		ClientHWAddr: d.ClientMAC,
		Options:      opts,
	}
	return UDPFrame(d.ServerMAC, d.ClientMAC, d.ServerIP, d.YourIP, 67, 68, dhcp)
}

// UDPFrame builds an Ethernet/IPv4/UDP frame around payload.
func UDPFrame(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP netip.Addr, srcPort, dstPort uint16, payload gopacket.SerializableLayer) []byte {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP.AsSlice(),
		DstIP:    dstIP.AsSlice(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(srcPort),
		DstPort: layers.UDPPort(dstPort),
	}
	udp.SetNetworkLayerForChecksum(ip)
	return serialize(eth, ip, udp, payload)
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

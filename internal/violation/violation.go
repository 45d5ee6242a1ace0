// Package violation holds the validation findings produced by protocol handlers.
//
// Findings are plain data. They are collected into a List during one receive
// callback and handed to the result callbacks; they are never returned as errors.
package violation

import (
	"fmt"
	"net/netip"
	"strings"
)

// Kind identifies a validation failure.
type Kind int

const (
	InvalidMAC Kind = iota
	InvalidServerMAC
	InvalidIPAddress
	InvalidServerIPAddress
	InvalidGatewayIPAddress
	InvalidDNSServer
	InvalidRoute
	InvalidNetwork
	InvalidARP
)

var kindNames = map[Kind]string{
	InvalidMAC:              "Invalid MAC address",
	InvalidServerMAC:        "Invalid Server MAC address",
	InvalidIPAddress:        "Invalid IP Address",
	InvalidServerIPAddress:  "Invalid Server IP Address",
	InvalidGatewayIPAddress: "Invalid Gateway IP Address",
	InvalidDNSServer:        "Invalid DNS Server",
	InvalidRoute:            "Invalid Route",
	InvalidNetwork:          "Invalid Server IP Network",
	InvalidARP:              "Invalid ARP response",
}

// kindParents records which kind each specialization refines.
var kindParents = map[Kind]Kind{
	InvalidServerMAC:        InvalidMAC,
	InvalidServerIPAddress:  InvalidIPAddress,
	InvalidGatewayIPAddress: InvalidIPAddress,
	InvalidDNSServer:        InvalidIPAddress,
	InvalidRoute:            InvalidGatewayIPAddress,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Label is a short, lower-case identifier used for metric labels.
func (k Kind) Label() string {
	switch k {
	case InvalidMAC:
		return "invalid_mac"
	case InvalidServerMAC:
		return "invalid_server_mac"
	case InvalidIPAddress:
		return "invalid_ip_address"
	case InvalidServerIPAddress:
		return "invalid_server_ip_address"
	case InvalidGatewayIPAddress:
		return "invalid_gateway_ip_address"
	case InvalidDNSServer:
		return "invalid_dns_server"
	case InvalidRoute:
		return "invalid_route"
	case InvalidNetwork:
		return "invalid_network"
	case InvalidARP:
		return "invalid_arp"
	default:
		return "unknown"
	}
}

// Parent returns the kind k specializes; ok is false for root kinds.
func (k Kind) Parent() (parent Kind, ok bool) {
	parent, ok = kindParents[k]
	return parent, ok
}

// Is reports whether k equals target or specializes it, directly or transitively.
func (k Kind) Is(target Kind) bool {
	for cur, ok := k, true; ok; cur, ok = cur.Parent() {
		if cur == target {
			return true
		}
	}
	return false
}

// Violation is one finding. Only the fields relevant to Kind are set.
type Violation struct {
	Kind     Kind
	Protocol string
	MAC      string
	IP       netip.Addr // offending address, or the gateway of a route
	Dest     netip.Addr // route destination
	Network  netip.Prefix
}

func NewInvalidMAC(protocol, mac string) Violation {
	return Violation{Kind: InvalidMAC, Protocol: protocol, MAC: mac}
}

func NewInvalidServerMAC(protocol, mac string) Violation {
	return Violation{Kind: InvalidServerMAC, Protocol: protocol, MAC: mac}
}

func NewInvalidIPAddress(protocol string, ip netip.Addr) Violation {
	return Violation{Kind: InvalidIPAddress, Protocol: protocol, IP: ip}
}

func NewInvalidServerIPAddress(protocol string, ip netip.Addr) Violation {
	return Violation{Kind: InvalidServerIPAddress, Protocol: protocol, IP: ip}
}

func NewInvalidGatewayIPAddress(protocol string, ip netip.Addr) Violation {
	return Violation{Kind: InvalidGatewayIPAddress, Protocol: protocol, IP: ip}
}

func NewInvalidDNSServer(protocol string, ip netip.Addr) Violation {
	return Violation{Kind: InvalidDNSServer, Protocol: protocol, IP: ip}
}

func NewInvalidRoute(protocol string, dest, gateway netip.Addr) Violation {
	return Violation{Kind: InvalidRoute, Protocol: protocol, Dest: dest, IP: gateway}
}

func NewInvalidNetwork(protocol string, network netip.Prefix) Violation {
	return Violation{Kind: InvalidNetwork, Protocol: protocol, Network: network}
}

func NewInvalidARP(protocol string, ip netip.Addr, mac string) Violation {
	return Violation{Kind: InvalidARP, Protocol: protocol, IP: ip, MAC: mac}
}

// String renders "<Protocol>: <Kind>: <values>".
func (v Violation) String() string {
	return fmt.Sprintf("%s: %s: %s", v.Protocol, v.Kind, v.values())
}

func (v Violation) values() string {
	switch v.Kind {
	case InvalidMAC, InvalidServerMAC:
		return v.MAC
	case InvalidRoute:
		return fmt.Sprintf("%s through %s", v.Dest, v.IP)
	case InvalidNetwork:
		return v.Network.String()
	case InvalidARP:
		return fmt.Sprintf("%s -> %s", v.IP, v.MAC)
	default:
		return v.IP.String()
	}
}

// List is the result of handling one reply.
type List []Violation

func (l List) Strings() []string {
	out := make([]string, len(l))
	for i, v := range l {
		out[i] = v.String()
	}
	return out
}

// String joins the rendered findings with newlines.
func (l List) String() string {
	return strings.Join(l.Strings(), "\n")
}

// Count returns how many findings are of kind k or specialize it.
func (l List) Count(k Kind) int {
	n := 0
	for _, v := range l {
		if v.Kind.Is(k) {
			n++
		}
	}
	return n
}

package runner

import (
	"sort"

	"firestige.xyz/netprobe/internal/config"
	"firestige.xyz/netprobe/internal/protocol"
	"firestige.xyz/netprobe/internal/violation"
)

// Exit codes of a check, compatible with monitoring plugin conventions.
const (
	ExitOK         = 0
	ExitViolations = 1
	ExitUnreadable = 3
)

const successLine = "All tests succeeded"

// Result is the outcome of one protocol check.
type Result struct {
	Protocol   string
	Err        error // set when the check could not run
	Replies    int   // validated replies
	Violations violation.List
}

func (r Result) fail(err error) Result {
	r.Err = err
	return r
}

// Failed reports whether the check did not run or found violations.
func (r Result) Failed() bool {
	return r.Err != nil || len(r.Violations) > 0
}

type Report struct {
	Results []Result
}

// Violations returns the findings of every protocol in run order.
func (r Report) Violations() violation.List {
	var out violation.List
	for _, res := range r.Results {
		out = append(out, res.Violations...)
	}
	return out
}

func (r Report) Failed() bool {
	for _, res := range r.Results {
		if res.Failed() {
			return true
		}
	}
	return false
}

func (r Report) ExitCode() int {
	if r.Failed() {
		return ExitViolations
	}
	return ExitOK
}

// Lines renders the report for humans: a line per check that could not run
// and per violation, or the success line when nothing failed.
func (r Report) Lines() []string {
	if !r.Failed() {
		return []string{successLine}
	}
	var lines []string
	for _, res := range r.Results {
		if res.Err != nil {
			lines = append(lines, res.Err.Error())
		}
		lines = append(lines, res.Violations.Strings()...)
	}
	return lines
}

// Baseline is what a learn run observed, in configuration shape.
type Baseline struct {
	ARP  *config.ARPConfig
	DHCP *config.DHCPConfig
}

func arpBaseline(cfg config.ARPConfig, h *protocol.ARP) *config.ARPConfig {
	known := h.KnownAddresses()
	out := &config.ARPConfig{
		Interface: cfg.Interface,
		Passive:   cfg.Passive,
		Resolvers: make(map[string]string, len(known)),
	}
	for ip, mac := range known {
		out.Resolvers[ip.String()] = mac
	}
	return out
}

func dhcpBaseline(cfg config.DHCPConfig, h *protocol.DHCP) *config.DHCPConfig {
	p := h.Policy()
	out := &config.DHCPConfig{
		Interface:  cfg.Interface,
		Passive:    p.Passive,
		Servers:    p.Servers,
		Ranges:     p.Ranges,
		Gateways:   p.Gateways,
		DNSServers: p.DNSServers,
		ClientName: cfg.ClientName,
	}
	sort.Strings(out.Servers)
	return out
}

// Package runner runs one check per protocol: it opens a dispatcher, wires a
// handler to it, sends the probes and collects every finding until the wait
// window ends.
package runner

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"firestige.xyz/netprobe/internal/capture"
	"firestige.xyz/netprobe/internal/config"
	"firestige.xyz/netprobe/internal/core"
	"firestige.xyz/netprobe/internal/log"
	"firestige.xyz/netprobe/internal/metrics"
	"firestige.xyz/netprobe/internal/protocol"
	"firestige.xyz/netprobe/internal/violation"
)

const (
	ProtocolDHCP = "DHCP"
	ProtocolARP  = "ARP"
)

// Protocols lists the checks in the order they run.
var Protocols = []string{ProtocolDHCP, ProtocolARP}

type (
	// ConnFactory opens the listening socket for a protocol.
	ConnFactory func(protocol, ifname string) (capture.Conn, error)
	// TransmitterFactory opens the transmit socket for a protocol.
	TransmitterFactory func(protocol, ifname string) (protocol.Transmitter, error)
	// InterfaceResolver replaces interface lookup.
	InterfaceResolver func(ifname string) (core.Interface, error)
)

type Option func(*options)

type options struct {
	logger   log.Logger
	metrics  *metrics.Metrics
	only     []string
	conns    ConnFactory
	txs      TransmitterFactory
	resolver InterfaceResolver
}

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithOnly limits the run to the named protocols, case-insensitively.
func WithOnly(protocols ...string) Option {
	return func(o *options) {
		for _, p := range protocols {
			if p = strings.TrimSpace(p); p != "" {
				o.only = append(o.only, strings.ToUpper(p))
			}
		}
	}
}

func WithConnFactory(f ConnFactory) Option {
	return func(o *options) { o.conns = f }
}

func WithTransmitterFactory(f TransmitterFactory) Option {
	return func(o *options) { o.txs = f }
}

func WithInterfaceResolver(f InterfaceResolver) Option {
	return func(o *options) { o.resolver = f }
}

func newOptions(opts []Option) options {
	o := options{logger: log.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.Component("runner")
	return o
}

func (o options) enabled(protocol string) bool {
	if len(o.only) == 0 {
		return true
	}
	for _, p := range o.only {
		if p == protocol {
			return true
		}
	}
	return false
}

// Run checks every enabled protocol, DHCP first.
func Run(ctx context.Context, cfg *config.Config, opts ...Option) Report {
	o := newOptions(opts)
	var report Report
	for _, name := range Protocols {
		if !o.enabled(name) {
			continue
		}
		res := o.check(ctx, cfg, name, nil)
		o.metrics.SetCheckStatus(name, res.Failed())
		report.Results = append(report.Results, res)
	}
	return report
}

// Learn runs one round per protocol with learn mode on, then rounds
// verification rounds against what was learned. The baseline holds the
// learned allow-lists of every protocol that could run.
func Learn(ctx context.Context, cfg *config.Config, rounds int, opts ...Option) (Baseline, Report) {
	o := newOptions(opts)
	var (
		baseline Baseline
		report   Report
	)
	for _, name := range Protocols {
		if !o.enabled(name) {
			continue
		}
		res := o.check(ctx, cfg, name, &learnPlan{
			rounds: rounds,
			learned: func(h handler) {
				switch h := h.(type) {
				case *protocol.ARP:
					baseline.ARP = arpBaseline(cfg.ARP, h)
				case *protocol.DHCP:
					baseline.DHCP = dhcpBaseline(cfg.DHCP, h)
				}
			},
		})
		o.metrics.SetCheckStatus(name, res.Failed())
		report.Results = append(report.Results, res)
	}
	return baseline, report
}

// handler is what a check needs from the protocol handlers.
type handler interface {
	Name() string
	Ready() bool
	Err() error
	SetLearn(bool)
	RegisterCallback(protocol.ResultFunc) protocol.CallbackID
	UnregisterCallback(protocol.CallbackID) error
	SendPacket([]byte) error
	Close() error
}

// learnPlan turns a check into a learn round followed by verification rounds.
type learnPlan struct {
	rounds  int
	learned func(handler) // called once the learn round is over
}

// check runs name once, or as plan says when plan is not nil.
func (o options) check(ctx context.Context, cfg *config.Config, name string, plan *learnPlan) Result {
	res := Result{Protocol: name}
	ifname := interfaceFor(cfg, name)
	logger := o.logger.WithField("protocol", name).WithField("interface", ifname)

	dopts := []capture.Option{
		capture.WithReadTimeout(cfg.Capture.ReadTimeout),
		capture.WithFilter(cfg.Capture.Filter),
		capture.WithLogger(o.logger),
		capture.WithMetrics(o.metrics),
	}
	if o.conns != nil {
		conn, err := o.conns(name, ifname)
		if err != nil {
			logger.WithError(err).Error("listening socket not opened")
			return res.fail(fmt.Errorf("%s reader is not ready", name))
		}
		dopts = append(dopts, capture.WithConn(conn))
	}
	d := capture.NewDispatcher(ifname, dopts...)
	defer d.Close()
	if !d.Ready() {
		return res.fail(fmt.Errorf("%s reader is not ready", name))
	}

	h, probes, err := o.build(cfg, name, ifname, d)
	if err != nil {
		logger.WithError(err).Error("handler not built")
		return res.fail(fmt.Errorf("%s handler is not ready: %w", name, err))
	}
	defer h.Close()
	if !h.Ready() {
		return res.fail(fmt.Errorf("%s sender is not ready: %w", name, h.Err()))
	}

	var c collector
	id := h.RegisterCallback(c.add)
	defer h.UnregisterCallback(id)

	if err := d.Start(ctx); err != nil {
		return res.fail(fmt.Errorf("%s reader is not ready: %w", name, err))
	}
	defer d.Stop()

	if plan != nil {
		h.SetLearn(true)
		if err := o.round(ctx, cfg, logger, h, probes); err != nil {
			return res.fail(err)
		}
		h.SetLearn(false)
		plan.learned(h)
		// learn round findings are what got learned, not failures
		c.reset()
		for i := 0; i < plan.rounds; i++ {
			if err := o.round(ctx, cfg, logger, h, probes); err != nil {
				return res.fail(err)
			}
		}
	} else if err := o.round(ctx, cfg, logger, h, probes); err != nil {
		return res.fail(err)
	}

	res.Replies, res.Violations = c.results()
	logger.Infof("%d replies, %d violations", res.Replies, len(res.Violations))
	return res
}

// round sends every probe and waits for replies.
func (o options) round(ctx context.Context, cfg *config.Config, logger log.Logger, h handler, probes func() ([][]byte, error)) error {
	frames, err := probes()
	if err != nil {
		return fmt.Errorf("%s request: %w", h.Name(), err)
	}
	for _, frame := range frames {
		if err := h.SendPacket(frame); err != nil {
			return fmt.Errorf("%s request: %w", h.Name(), err)
		}
	}
	logger.Debugf("sent %d requests, waiting %s", len(frames), cfg.Capture.Wait)

	t := time.NewTimer(cfg.Capture.Wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return nil
}

func (o options) build(cfg *config.Config, name, ifname string, reg protocol.Registrar) (handler, func() ([][]byte, error), error) {
	popts := []protocol.Option{
		protocol.WithLogger(o.logger),
		protocol.WithMetrics(o.metrics),
	}
	if o.resolver != nil {
		ifi, err := o.resolver(ifname)
		if err != nil {
			return nil, nil, err
		}
		popts = append(popts, protocol.WithInterface(ifi))
	}
	if o.txs != nil {
		tx, err := o.txs(name, ifname)
		if err != nil {
			return nil, nil, err
		}
		popts = append(popts, protocol.WithTransmitter(tx))
	}

	switch name {
	case ProtocolARP:
		h, err := protocol.NewARP(reg, ifname, cfg.ARP.Resolvers, popts...)
		if err != nil {
			return nil, nil, err
		}
		return h, arpProbes(h, cfg.ARP), nil
	case ProtocolDHCP:
		h, err := protocol.NewDHCP(reg, ifname, dhcpPolicy(cfg.DHCP), popts...)
		if err != nil {
			return nil, nil, err
		}
		return h, func() ([][]byte, error) {
			frame, err := h.CreatePacket()
			if err != nil {
				return nil, err
			}
			return [][]byte{frame}, nil
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown protocol %q", name)
}

// arpProbes asks for every configured resolver, in address order. A passive
// ARP check only listens.
func arpProbes(h *protocol.ARP, cfg config.ARPConfig) func() ([][]byte, error) {
	return func() ([][]byte, error) {
		if cfg.Passive {
			return nil, nil
		}
		targets := make([]netip.Addr, 0, len(cfg.Resolvers))
		for ip := range cfg.Resolvers {
			addr, err := netip.ParseAddr(strings.TrimSpace(ip))
			if err != nil {
				return nil, fmt.Errorf("%w: resolver address %q", core.ErrInvalidPolicy, ip)
			}
			targets = append(targets, addr)
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i].Less(targets[j]) })

		frames := make([][]byte, 0, len(targets))
		for _, target := range targets {
			frame, err := h.CreatePacket(target)
			if err != nil {
				return nil, err
			}
			frames = append(frames, frame)
		}
		return frames, nil
	}
}

func dhcpPolicy(cfg config.DHCPConfig) protocol.Policy {
	return protocol.Policy{
		Passive:    cfg.Passive,
		Servers:    cfg.Servers,
		Ranges:     cfg.Ranges,
		Gateways:   cfg.Gateways,
		DNSServers: cfg.DNSServers,
		ClientName: cfg.ClientName,
	}
}

func interfaceFor(cfg *config.Config, name string) string {
	if name == ProtocolARP {
		return cfg.ARP.Interface
	}
	return cfg.DHCP.Interface
}

// collector accumulates every list a handler emits. Callbacks run on the
// capture goroutine while the caller reads the totals.
type collector struct {
	mu      sync.Mutex
	replies int
	list    violation.List
}

func (c *collector) add(l violation.List) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies++
	c.list = append(c.list, l...)
}

func (c *collector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = 0
	c.list = nil
}

func (c *collector) results() (int, violation.List) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replies, append(violation.List(nil), c.list...)
}

// Package protocol implements the ARP and DHCP handlers: each sends one kind
// of request and validates the replies the capture dispatcher hands it.
package protocol

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/mdlayher/ethernet"
	"github.com/mdlayher/raw"
	"golang.org/x/net/bpf"

	"firestige.xyz/netprobe/internal/capture"
	"firestige.xyz/netprobe/internal/core"
	"firestige.xyz/netprobe/internal/iface"
	"firestige.xyz/netprobe/internal/log"
	"firestige.xyz/netprobe/internal/metrics"
	"firestige.xyz/netprobe/internal/violation"
)

// Registrar is where handlers subscribe to decoded frames.
// *capture.Dispatcher satisfies it.
type Registrar interface {
	RegisterHandler(tag capture.Tag, r capture.Receiver)
	UnregisterHandler(tag capture.Tag, r capture.Receiver)
}

// Transmitter writes complete Ethernet frames.
type Transmitter interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
	Close() error
}

// ResultFunc receives the findings for one validated reply. An empty list
// means the reply conformed.
type ResultFunc func(violation.List)

// CallbackID identifies a registered ResultFunc.
type CallbackID uint64

type Option func(*options)

type options struct {
	logger  log.Logger
	tx      Transmitter
	iface   *core.Interface
	metrics *metrics.Metrics
}

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTransmitter replaces the raw packet socket used by SendPacket.
func WithTransmitter(tx Transmitter) Option {
	return func(o *options) { o.tx = tx }
}

// WithInterface skips interface resolution.
func WithInterface(ifi core.Interface) Option {
	return func(o *options) { o.iface = &ifi }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

type callback struct {
	id CallbackID
	fn ResultFunc
}

// Base carries the state shared by every handler.
type Base struct {
	name    string
	tag     capture.Tag
	reg     Registrar
	self    capture.Receiver
	iface   core.Interface
	logger  log.Logger
	metrics *metrics.Metrics

	learn atomic.Bool

	mu        sync.Mutex
	callbacks []callback
	nextID    CallbackID
	tx        Transmitter
	txErr     error
	closed    bool
}

func newBase(name string, tag capture.Tag, etherType ethernet.EtherType, ifname string, opts []Option) (*Base, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Discard()
	}

	b := &Base{
		name:    name,
		tag:     tag,
		logger:  o.logger.Component("protocol").WithField("protocol", name),
		metrics: o.metrics,
	}

	if o.iface != nil {
		b.iface = *o.iface
	} else {
		ifi, err := iface.Resolve(ifname)
		if err != nil {
			return nil, fmt.Errorf("%w: %s handler: %w", core.ErrNotReady, name, err)
		}
		b.iface = ifi
	}

	b.tx = o.tx
	if b.tx == nil {
		b.tx, b.txErr = listenRaw(b.iface.Name, etherType)
		if b.txErr != nil {
			b.logger.WithError(b.txErr).Error("transmit socket not bound")
		}
	}
	return b, nil
}

func listenRaw(ifname string, etherType ethernet.EtherType) (Transmitter, error) {
	ifi, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %s", core.ErrSocket, core.ErrInterfaceNotFound, ifname)
	}
	conn, err := raw.ListenPacket(ifi, uint16(etherType), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: transmit socket on %s: %v", core.ErrSocket, ifname, err)
	}
	// nothing reads this socket, so the kernel must not queue frames on it
	prog, err := bpf.Assemble(dropAll())
	if err == nil {
		err = conn.SetBPF(prog)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: transmit socket filter on %s: %v", core.ErrSocket, ifname, err)
	}
	return conn, nil
}

// dropAll rejects every frame.
func dropAll() []bpf.Instruction {
	return []bpf.Instruction{bpf.RetConstant{Val: 0}}
}

// attach subscribes r, the concrete handler, to its protocol tag.
func (b *Base) attach(reg Registrar, r capture.Receiver) {
	b.reg = reg
	b.self = r
	reg.RegisterHandler(b.tag, r)
}

// Name returns the protocol name used in findings.
func (b *Base) Name() string { return b.name }

func (b *Base) Interface() core.Interface { return b.iface }

// SetLearn switches between checking against and extending the policy.
func (b *Base) SetLearn(learn bool) {
	b.learn.Store(learn)
	b.logger.Debugf("learn mode %t", learn)
}

func (b *Base) Learning() bool { return b.learn.Load() }

// Ready reports whether the transmit socket is bound.
func (b *Base) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tx != nil && !b.closed
}

// Err returns the reason the transmit socket could not be bound.
func (b *Base) Err() error { return b.txErr }

func (b *Base) RegisterCallback(fn ResultFunc) CallbackID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.callbacks = append(b.callbacks, callback{id: b.nextID, fn: fn})
	return b.nextID
}

// UnregisterCallback removes the callback registered as id.
func (b *Base) UnregisterCallback(id CallbackID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cb := range b.callbacks {
		if cb.id == id {
			b.callbacks = append(b.callbacks[:i:i], b.callbacks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s result callback %d", core.ErrNotFound, b.name, id)
}

// SendPacket broadcasts frame once. There is no retry.
func (b *Base) SendPacket(frame []byte) error {
	b.mu.Lock()
	tx, closed := b.tx, b.closed
	b.mu.Unlock()

	if tx == nil || closed {
		return fmt.Errorf("%w: %s transmit socket unavailable", core.ErrSocket, b.name)
	}
	if _, err := tx.WriteTo(frame, &raw.Addr{HardwareAddr: ethernet.Broadcast}); err != nil {
		return fmt.Errorf("%w: %s send: %v", core.ErrSocket, b.name, err)
	}
	b.logger.Debugf("sent %d byte request", len(frame))
	return nil
}

// Close unsubscribes from the dispatcher and releases the transmit socket.
func (b *Base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	if b.reg != nil {
		b.reg.UnregisterHandler(b.tag, b.self)
	}
	if b.tx != nil {
		if err := b.tx.Close(); err != nil {
			return fmt.Errorf("%w: %s close: %v", core.ErrSocket, b.name, err)
		}
	}
	return nil
}

// emit hands list to every result callback. A panicking callback is logged
// and does not keep the others from running.
func (b *Base) emit(list violation.List) {
	b.mu.Lock()
	cbs := make([]callback, len(b.callbacks))
	copy(cbs, b.callbacks)
	b.mu.Unlock()

	b.metrics.ReplyValidated(b.name, list)
	for _, cb := range cbs {
		b.call(cb, list)
	}
}

func (b *Base) call(cb callback, list violation.List) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Errorf("result callback %d panic: %v", cb.id, rec)
		}
	}()
	cb.fn(list)
}

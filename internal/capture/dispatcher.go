// Package capture reads frames from a raw link-layer socket and hands them to
// protocol receivers.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/netprobe/internal/core"
	"firestige.xyz/netprobe/internal/log"
	"firestige.xyz/netprobe/internal/metrics"
)

const (
	maxFrameSize       = 65535
	defaultReadTimeout = time.Second
)

// Receiver consumes decoded frames. Receivers are compared by identity, so
// implementations should use pointer receivers.
type Receiver interface {
	HandlePacket(p *Packet) error
}

type Option func(*Dispatcher)

// WithReadTimeout bounds each socket read and therefore how quickly Stop
// is observed.
func WithReadTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.readTimeout = d
		}
	}
}

func WithLogger(l log.Logger) Option {
	return func(ds *Dispatcher) {
		if l != nil {
			ds.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(ds *Dispatcher) { ds.metrics = m }
}

// WithConn uses c instead of opening a socket.
func WithConn(c Conn) Option {
	return func(ds *Dispatcher) { ds.conn = c }
}

// WithFilter toggles the kernel BPF filter. Enabled by default.
func WithFilter(enabled bool) Option {
	return func(ds *Dispatcher) { ds.filter = enabled }
}

// Dispatcher owns one listening socket and a table of receivers per Tag.
// One goroutine reads frames and calls the receivers serially.
type Dispatcher struct {
	ifname      string
	readTimeout time.Duration
	filter      bool
	logger      log.Logger
	metrics     *metrics.Metrics

	conn Conn
	err  error

	mu        sync.RWMutex
	receivers map[Tag][]Receiver

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewDispatcher binds a listening socket to ifname. It never fails; when the
// socket cannot be opened Ready reports false and Err holds the cause.
func NewDispatcher(ifname string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		ifname:      ifname,
		readTimeout: defaultReadTimeout,
		filter:      true,
		logger:      log.Discard(),
		receivers:   make(map[Tag][]Receiver),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Component("capture").WithField("interface", ifname)

	if d.conn == nil {
		conn, err := Listen(ifname, d.readTimeout, d.filter)
		if err != nil {
			d.err = err
			d.logger.WithError(err).Error("listening socket not bound")
			return d
		}
		d.conn = conn
	}
	d.logger.Debug("listening socket bound")
	return d
}

func (d *Dispatcher) Interface() string { return d.ifname }

func (d *Dispatcher) Ready() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.conn != nil && !d.closed
}

// Err returns the socket error that made the dispatcher not ready.
func (d *Dispatcher) Err() error { return d.err }

// RegisterHandler adds r for tag. Registering the same receiver twice has no effect.
func (d *Dispatcher) RegisterHandler(tag Tag, r Receiver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cur := range d.receivers[tag] {
		if cur == r {
			return
		}
	}
	d.receivers[tag] = append(d.receivers[tag], r)
}

// UnregisterHandler removes r for tag. Removing an absent receiver is a no-op.
func (d *Dispatcher) UnregisterHandler(tag Tag, r Receiver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.receivers[tag]
	for i, cur := range list {
		if cur == r {
			next := make([]Receiver, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(d.receivers, tag)
			} else {
				d.receivers[tag] = next
			}
			return
		}
	}
}

func (d *Dispatcher) snapshot(tag Tag) []Receiver {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.receivers[tag]
}

// Start runs the capture loop until Stop is called or ctx is done.
// Starting a running dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.conn == nil || d.closed {
		cause := d.err
		if d.closed {
			cause = errors.New("socket closed")
		}
		return fmt.Errorf("%w: capture on %s: %v", core.ErrNotReady, d.ifname, cause)
	}
	if d.running() {
		return nil
	}
	d.reset()

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.loop(loopCtx, d.done)

	d.logger.Info("capture started")
	return nil
}

// Stop cancels the capture loop and waits for it to exit. It is safe to call
// repeatedly, and Start may be called again afterwards.
func (d *Dispatcher) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.done == nil {
		return
	}
	d.cancel()
	<-d.done
	d.reset()
	d.logger.Info("capture stopped")
}

// Close releases the listening socket. The loop must be stopped first.
func (d *Dispatcher) Close() error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.running() {
		return core.ErrCaptureRunning
	}
	d.reset()
	if d.closed || d.conn == nil {
		d.closed = true
		return nil
	}
	d.closed = true
	if err := d.conn.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", core.ErrSocket, err)
	}
	return nil
}

// running reports whether the loop goroutine is alive. Callers hold runMu.
func (d *Dispatcher) running() bool {
	if d.done == nil {
		return false
	}
	select {
	case <-d.done:
		return false
	default:
		return true
	}
}

// reset clears the state of a loop that already exited. Callers hold runMu.
func (d *Dispatcher) reset() {
	if d.cancel != nil {
		d.cancel()
	}
	d.cancel = nil
	d.done = nil
}

func (d *Dispatcher) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	buf := make([]byte, maxFrameSize)
	for ctx.Err() == nil {
		n, kind, err := d.conn.ReadFrame(buf)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) {
				continue
			}
			if ctx.Err() == nil {
				d.logger.WithError(err).Error("capture read failed, loop exiting")
			}
			return
		}
		d.handleFrame(buf[:n], kind)
	}
}

func (d *Dispatcher) handleFrame(data []byte, kind FrameKind) {
	d.metrics.FrameReceived(d.ifname)

	switch kind {
	case FrameOutgoing:
		d.metrics.FrameSkipped(d.ifname, "outgoing")
		return
	case FrameHost:
	default:
		d.metrics.FrameSkipped(d.ifname, "not_host")
		return
	}

	p, err := Decode(data)
	if err != nil {
		d.metrics.FrameSkipped(d.ifname, "malformed")
		d.logger.WithError(err).Debugf("dropping %d byte frame", len(data))
		return
	}

	for _, tag := range p.Tags() {
		for _, r := range d.snapshot(tag) {
			d.deliver(tag, r, p)
		}
	}
}

func (d *Dispatcher) deliver(tag Tag, r Receiver, p *Packet) {
	d.metrics.Dispatched(tag.String())
	defer func() {
		if rec := recover(); rec != nil {
			d.metrics.ReceiverFailed(tag.String())
			d.logger.WithField("protocol", tag.String()).Errorf("receiver panic: %v", rec)
		}
	}()
	if err := r.HandlePacket(p); err != nil {
		d.metrics.ReceiverFailed(tag.String())
		d.logger.WithField("protocol", tag.String()).WithError(err).Error("receiver failed")
	}
}

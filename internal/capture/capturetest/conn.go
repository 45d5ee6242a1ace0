// Package capturetest provides an in-memory capture.Conn for tests.
package capturetest

import (
	"net"
	"sync"
	"time"

	"firestige.xyz/netprobe/internal/capture"
)

type frame struct {
	data []byte
	kind capture.FrameKind
}

// Conn delivers injected frames to ReadFrame. When nothing is queued a read
// waits for the poll interval and returns capture.ErrReadTimeout.
type Conn struct {
	frames chan frame
	poll   time.Duration
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	readErr error
}

func NewConn() *Conn {
	return &Conn{
		frames: make(chan frame, 64),
		poll:   5 * time.Millisecond,
		closed: make(chan struct{}),
	}
}

// Inject queues a frame delivered with the given kernel packet type.
func (c *Conn) Inject(data []byte, kind capture.FrameKind) {
	c.frames <- frame{data: append([]byte(nil), data...), kind: kind}
}

// InjectHost queues a frame addressed to the local host.
func (c *Conn) InjectHost(data []byte) {
	c.Inject(data, capture.FrameHost)
}

// FailWith makes every following read return err.
func (c *Conn) FailWith(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
}

// Pending returns the number of frames not read yet.
func (c *Conn) Pending() int { return len(c.frames) }

func (c *Conn) ReadFrame(b []byte) (int, capture.FrameKind, error) {
	c.mu.Lock()
	err := c.readErr
	c.mu.Unlock()
	if err != nil {
		return 0, 0, err
	}

	select {
	case <-c.closed:
		return 0, 0, net.ErrClosed
	case f := <-c.frames:
		return copy(b, f.data), f.kind, nil
	case <-time.After(c.poll):
		return 0, 0, capture.ErrReadTimeout
	}
}

func (c *Conn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

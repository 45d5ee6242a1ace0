package capture_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netprobe/internal/capture"
	"firestige.xyz/netprobe/internal/capture/capturetest"
	"firestige.xyz/netprobe/internal/core"
	"firestige.xyz/netprobe/internal/log"
	"firestige.xyz/netprobe/internal/metrics"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type recorder struct {
	mu      sync.Mutex
	packets []*capture.Packet
	err     error
	panic   bool
}

func (r *recorder) HandlePacket(p *capture.Packet) error {
	r.mu.Lock()
	r.packets = append(r.packets, p)
	err, doPanic := r.err, r.panic
	r.mu.Unlock()
	if doPanic {
		panic("receiver exploded")
	}
	return err
}

func (r *recorder) last() *capture.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.packets) == 0 {
		return nil
	}
	return r.packets[len(r.packets)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

func newDispatcher(t *testing.T, opts ...capture.Option) (*capture.Dispatcher, *capturetest.Conn, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	conn := capturetest.NewConn()
	opts = append([]capture.Option{capture.WithConn(conn), capture.WithLogger(log.FromLogrus(logger))}, opts...)
	d := capture.NewDispatcher("test0", opts...)
	require.True(t, d.Ready())
	t.Cleanup(func() {
		d.Stop()
		d.Close()
	})
	return d, conn, hook
}

func hasEntry(hook *test.Hook, level logrus.Level, substr string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestDispatcher_DispatchByTag(t *testing.T) {
	d, conn, _ := newDispatcher(t)
	arpR, dhcpR, ethR := &recorder{}, &recorder{}, &recorder{}
	d.RegisterHandler(capture.TagARP, arpR)
	d.RegisterHandler(capture.TagDHCP, dhcpR)
	d.RegisterHandler(capture.TagEthernet, ethR)

	require.NoError(t, d.Start(context.Background()))
	conn.InjectHost(arpReply())
	conn.InjectHost(dhcpOffer(7))

	assert.Eventually(t, func() bool {
		return ethR.count() == 2 && arpR.count() == 1 && dhcpR.count() == 1
	}, waitFor, tick)
	require.NotNil(t, dhcpR.last())
	assert.Equal(t, uint32(7), dhcpR.last().DHCP().Xid)
	assert.True(t, arpR.last().Has(capture.TagARP))
}

func TestDispatcher_OnlyHostFrames(t *testing.T) {
	d, conn, _ := newDispatcher(t)
	r := &recorder{}
	d.RegisterHandler(capture.TagARP, r)
	require.NoError(t, d.Start(context.Background()))

	conn.Inject(arpReply(), capture.FrameOutgoing)
	conn.Inject(arpReply(), capture.FrameBroadcast)
	conn.Inject(arpReply(), capture.FrameOtherHost)
	conn.InjectHost(arpReply())

	assert.Eventually(t, func() bool { return r.count() == 1 && conn.Pending() == 0 }, waitFor, tick)
	d.Stop()
	assert.Equal(t, 1, r.count())
}

func TestDispatcher_RegisterIdempotent(t *testing.T) {
	d, conn, _ := newDispatcher(t)
	r := &recorder{}
	d.RegisterHandler(capture.TagARP, r)
	d.RegisterHandler(capture.TagARP, r)
	require.NoError(t, d.Start(context.Background()))

	conn.InjectHost(arpReply())
	assert.Eventually(t, func() bool { return conn.Pending() == 0 && r.count() > 0 }, waitFor, tick)
	d.Stop()
	assert.Equal(t, 1, r.count())
}

func TestDispatcher_Unregister(t *testing.T) {
	d, conn, _ := newDispatcher(t)
	removed, sentinel := &recorder{}, &recorder{}
	d.RegisterHandler(capture.TagARP, removed)
	d.RegisterHandler(capture.TagARP, sentinel)
	d.UnregisterHandler(capture.TagARP, removed)
	// absent receivers are ignored
	d.UnregisterHandler(capture.TagARP, removed)
	d.UnregisterHandler(capture.TagDHCP, sentinel)

	require.NoError(t, d.Start(context.Background()))
	conn.InjectHost(arpReply())

	assert.Eventually(t, func() bool { return sentinel.count() == 1 }, waitFor, tick)
	assert.Equal(t, 0, removed.count())
}

func TestDispatcher_ReceiverPanicIsolated(t *testing.T) {
	m := metrics.New()
	d, conn, hook := newDispatcher(t, capture.WithMetrics(m))
	bad, failing, good := &recorder{panic: true}, &recorder{err: errors.New("boom")}, &recorder{}
	d.RegisterHandler(capture.TagARP, bad)
	d.RegisterHandler(capture.TagARP, failing)
	d.RegisterHandler(capture.TagARP, good)
	require.NoError(t, d.Start(context.Background()))

	conn.InjectHost(arpReply())
	conn.InjectHost(arpReply())

	assert.Eventually(t, func() bool { return good.count() == 2 }, waitFor, tick)
	assert.Equal(t, 2, bad.count())
	assert.Equal(t, 2, failing.count())
	assert.True(t, hasEntry(hook, logrus.ErrorLevel, "receiver panic: receiver exploded"))
	assert.True(t, hasEntry(hook, logrus.ErrorLevel, "receiver failed"))

	expected := `
# HELP netprobe_receiver_failures_total Total number of receiver errors and panics
# TYPE netprobe_receiver_failures_total counter
netprobe_receiver_failures_total{protocol="arp"} 4
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "netprobe_receiver_failures_total"))
}

func TestDispatcher_MalformedFrameLogged(t *testing.T) {
	m := metrics.New()
	d, conn, hook := newDispatcher(t, capture.WithMetrics(m))
	r := &recorder{}
	d.RegisterHandler(capture.TagEthernet, r)
	require.NoError(t, d.Start(context.Background()))

	conn.InjectHost([]byte{0x01, 0x02, 0x03})
	conn.Inject(arpReply(), capture.FrameOutgoing)
	conn.InjectHost(arpReply())

	assert.Eventually(t, func() bool { return r.count() == 1 }, waitFor, tick)
	assert.True(t, hasEntry(hook, logrus.DebugLevel, "dropping 3 byte frame"))

	expected := `
# HELP netprobe_frames_skipped_total Total number of frames not dispatched to any receiver
# TYPE netprobe_frames_skipped_total counter
netprobe_frames_skipped_total{interface="test0",reason="malformed"} 1
netprobe_frames_skipped_total{interface="test0",reason="outgoing"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "netprobe_frames_skipped_total"))
}

func TestDispatcher_StopRestart(t *testing.T) {
	d, conn, _ := newDispatcher(t)
	r := &recorder{}
	d.RegisterHandler(capture.TagARP, r)

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Start(context.Background()))
	d.Stop()
	d.Stop()

	conn.InjectHost(arpReply())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, r.count())

	require.NoError(t, d.Start(context.Background()))
	assert.Eventually(t, func() bool { return r.count() == 1 }, waitFor, tick)
}

func TestDispatcher_Close(t *testing.T) {
	d, conn, _ := newDispatcher(t)
	require.NoError(t, d.Start(context.Background()))

	assert.ErrorIs(t, d.Close(), core.ErrCaptureRunning)
	assert.False(t, conn.Closed())

	d.Stop()
	assert.NoError(t, d.Close())
	assert.True(t, conn.Closed())
	assert.NoError(t, d.Close())
	assert.False(t, d.Ready())
	assert.ErrorIs(t, d.Start(context.Background()), core.ErrNotReady)
}

func TestDispatcher_ContextCancel(t *testing.T) {
	d, _, _ := newDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))

	cancel()
	assert.Eventually(t, func() bool { return d.Close() == nil }, waitFor, tick)
}

func TestDispatcher_ReadErrorEndsLoop(t *testing.T) {
	d, conn, hook := newDispatcher(t)
	require.NoError(t, d.Start(context.Background()))

	conn.FailWith(errors.New("device went away"))
	assert.Eventually(t, func() bool { return d.Close() == nil }, waitFor, tick)
	assert.True(t, hasEntry(hook, logrus.ErrorLevel, "capture read failed"))
}

func TestDispatcher_NotReady(t *testing.T) {
	d := capture.NewDispatcher("netprobe-missing0")

	assert.False(t, d.Ready())
	assert.ErrorIs(t, d.Err(), core.ErrSocket)
	assert.ErrorIs(t, d.Start(context.Background()), core.ErrNotReady)
	assert.NotPanics(t, d.Stop)
	assert.NoError(t, d.Close())
	assert.Equal(t, "netprobe-missing0", d.Interface())
}

package netstack

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/timerq"
)

func TestTCPHandshakeAndTransfer(t *testing.T) {
	a, b, _, _, stop := pairStacks(t)
	defer stop()

	ipB := [4]byte{10, 0, 0, 2}

	listener, err := b.Sockets.Create(AF_INET, SOCK_STREAM, 0)
	require.NoError(t, err)
	defer listener.Close()
	require.NoError(t, listener.Bind(Addr{IP: ipB, Port: 9001}))
	require.NoError(t, listener.Listen(TCPDefaultBacklog))

	ctx, cancel := withTimeout(t, assertEventuallyTimeout*4)
	defer cancel()

	accepted := make(chan *Socket, 1)
	go func() {
		conn, err := listener.Accept(ctx)
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := a.Sockets.Create(AF_INET, SOCK_STREAM, 0)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Connect(ctx, Addr{IP: ipB, Port: 9001}))

	server := <-accepted
	defer server.Close()

	assert.Equal(t, float64(1), testutil.ToFloat64(b.Metrics.TCPEstablished))

	payload := []byte("ping")
	n, err := client.Send(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, 16)
	n, err = server.Recv(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
}

func TestListenBacklogOverflowDropsSYN(t *testing.T) {
	a, b, _, _, stop := pairStacks(t)
	defer stop()

	ipB := [4]byte{10, 0, 0, 2}

	listener, err := b.Sockets.Create(AF_INET, SOCK_STREAM, 0)
	require.NoError(t, err)
	defer listener.Close()
	require.NoError(t, listener.Bind(Addr{IP: ipB, Port: 9002}))
	require.NoError(t, listener.Listen(1))

	before := testutil.ToFloat64(b.Metrics.TCPBacklogDrops)

	ctx, cancel := withTimeout(t, assertEventuallyTimeout*2)
	defer cancel()

	// Fill the one-deep backlog with a connection that completes its
	// handshake but is never accepted (no Accept, so it never drains), then
	// attempt a second connect from a distinct
	// client port; its SYN must be dropped silently rather than answered
	// or RST.
	c1, err := a.Sockets.Create(AF_INET, SOCK_STREAM, 0)
	require.NoError(t, err)
	defer c1.Close()
	require.NoError(t, c1.Connect(ctx, Addr{IP: ipB, Port: 9002}))

	c2, err := a.Sockets.Create(AF_INET, SOCK_STREAM, 0)
	require.NoError(t, err)
	defer c2.Close()

	shortCtx, shortCancel := withTimeout(t, 60*assertEventuallyTick)
	defer shortCancel()
	err = c2.Connect(shortCtx, Addr{IP: ipB, Port: 9002})
	assert.Error(t, err, "second connect should not complete while the backlog is full")

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(b.Metrics.TCPBacklogDrops) > before
	}, assertEventuallyTimeout, assertEventuallyTick)
}

func TestTCPNonBlockRecvWithNoDataReturnsEAGAIN(t *testing.T) {
	a, b, _, _, stop := pairStacks(t)
	defer stop()

	ipB := [4]byte{10, 0, 0, 2}

	listener, err := b.Sockets.Create(AF_INET, SOCK_STREAM, 0)
	require.NoError(t, err)
	defer listener.Close()
	require.NoError(t, listener.Bind(Addr{IP: ipB, Port: 9003}))
	require.NoError(t, listener.Listen(TCPDefaultBacklog))

	ctx, cancel := withTimeout(t, assertEventuallyTimeout*4)
	defer cancel()

	accepted := make(chan *Socket, 1)
	go func() {
		conn, err := listener.Accept(ctx)
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := a.Sockets.Create(AF_INET, SOCK_STREAM, 0)
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Connect(ctx, Addr{IP: ipB, Port: 9003}))

	server := <-accepted
	defer server.Close()
	require.NoError(t, server.SetSockOpt(SO_NONBLOCK, true))

	buf := make([]byte, 16)
	_, err = server.Recv(ctx, buf)
	assert.ErrorIs(t, err, kernel.EAGAIN)
}

// TestRTOBackoffDoublesPerTimeout pins spec.md §8 Scenario 4's literal
// 1s/2s/4s/... sequence: each consecutive retransmission timeout doubles
// the current RTO, rather than re-deriving it from a compounding exponent.
func TestRTOBackoffDoublesPerTimeout(t *testing.T) {
	stack := NewStack()
	sock, err := stack.Sockets.Create(AF_INET, SOCK_STREAM, 0)
	require.NoError(t, err)

	tcb := newTCB(stack, sock)
	tcb.state = TCPEstablished
	sock.Impl = tcb

	require.Equal(t, timerq.Tick(TCPInitialRTO), tcb.rto)

	want := timerq.Tick(TCPInitialRTO)
	for i := 0; i < 3; i++ {
		want *= 2
		stack.tcpOnRTO(sock, tcb)
		assert.Equal(t, want, tcb.rto, "rto after timeout #%d", i+1)
	}
}

package netstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanokern/corekit"
)

func TestUDPSendToRecvFromRoundTrip(t *testing.T) {
	a, b, _, _, stop := pairStacks(t)
	defer stop()

	ipA := [4]byte{10, 0, 0, 1}
	ipB := [4]byte{10, 0, 0, 2}

	server, err := b.Sockets.Create(AF_INET, SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, server.Bind(Addr{IP: ipB, Port: 9000}))

	client, err := a.Sockets.Create(AF_INET, SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := withTimeout(t, assertEventuallyTimeout*4)
	defer cancel()

	payload := []byte("hello")
	n, err := client.SendTo(ctx, payload, Addr{IP: ipB, Port: 9000})
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	buf := make([]byte, 64)
	n, from, err := server.RecvFrom(ctx, buf)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])
	assert.Equal(t, ipA, from.IP)
}

func TestUDPBindDuplicatePortFails(t *testing.T) {
	a, _, _, _, stop := pairStacks(t)
	defer stop()

	ipA := [4]byte{10, 0, 0, 1}

	s1, err := a.Sockets.Create(AF_INET, SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer s1.Close()
	require.NoError(t, s1.Bind(Addr{IP: ipA, Port: 9100}))

	s2, err := a.Sockets.Create(AF_INET, SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer s2.Close()
	assert.Error(t, s2.Bind(Addr{IP: ipA, Port: 9100}))
}

func TestUDPNonBlockRecvFromWithNoDataReturnsEAGAIN(t *testing.T) {
	a, _, _, _, stop := pairStacks(t)
	defer stop()

	ipA := [4]byte{10, 0, 0, 1}

	server, err := a.Sockets.Create(AF_INET, SOCK_DGRAM, 0)
	require.NoError(t, err)
	defer server.Close()
	require.NoError(t, server.Bind(Addr{IP: ipA, Port: 9101}))
	require.NoError(t, server.SetSockOpt(SO_NONBLOCK, true))

	ctx, cancel := withTimeout(t, assertEventuallyTimeout)
	defer cancel()

	buf := make([]byte, 16)
	_, _, err = server.RecvFrom(ctx, buf)
	assert.ErrorIs(t, err, kernel.EAGAIN)
}

package netstack

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanokern/corekit"
)

func buildEchoRequestFrame(t *testing.T, srcMAC, dstMAC kernel.MAC, srcIP, dstIP [4]byte) []byte {
	t.Helper()

	payload := []byte("ping")
	icmpLen := kernel.IcmpHeaderLength + len(payload)
	icmp := make([]byte, icmpLen)
	hdr := kernel.ICMPHeader{Type: kernel.ICMPEchoRequest, ID: 1, Seq: 1}
	hdr.Marshal(icmp)
	copy(icmp[kernel.IcmpHeaderLength:], payload)
	cksum := kernel.Checksum16(icmp)
	icmp[2] = byte(cksum >> 8)
	icmp[3] = byte(cksum)

	ipLen := kernel.IPv4HeaderLength + icmpLen
	frame := make([]byte, kernel.ETHER_HEADER_LENGTH+ipLen)

	eth := kernel.EtherHeader{Dest: dstMAC, Source: srcMAC, EtherType: kernel.ETH_P_IP}
	eth.Marshal(frame)

	ipHdr := kernel.IPv4Header{
		TotalLength: uint16(ipLen),
		TTL:         64,
		Protocol:    kernel.IPPROTO_ICMP,
		Src:         srcIP,
		Dst:         dstIP,
	}
	ipHdr.SetVersionIHL(4, 5)
	ipRegion := frame[kernel.ETHER_HEADER_LENGTH:]
	ipHdr.Marshal(ipRegion)
	ipCksum := kernel.IPv4Checksum(ipRegion[:kernel.IPv4HeaderLength])
	ipRegion[10] = byte(ipCksum >> 8)
	ipRegion[11] = byte(ipCksum)
	copy(ipRegion[kernel.IPv4HeaderLength:], icmp)

	return frame
}

func TestICMPEchoRequestGetsReply(t *testing.T) {
	_, b, nicA, nicB, stop := pairStacks(t)
	defer stop()

	ipA := [4]byte{10, 0, 0, 1}
	ipB := [4]byte{10, 0, 0, 2}

	before := testutil.ToFloat64(b.Metrics.ICMPSent)

	frame := buildEchoRequestFrame(t, nicA.MAC, nicB.MAC, ipA, ipB)
	require.NoError(t, b.EthernetIngress(nicB, kernel.FromBytes(frame)))

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(b.Metrics.ICMPSent) > before
	}, assertEventuallyTimeout, assertEventuallyTick)
}

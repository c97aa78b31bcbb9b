package netstack

import (
	"github.com/nanokern/corekit"
)

// DefaultTTL is the outgoing TTL spec.md §4.4 mandates ("fill TTL=64").
const DefaultTTL = 64

var ipIDCounter uint32

func nextIPID() uint16 {
	ipIDCounter++
	return uint16(ipIDCounter)
}

// ipIngress validates and demultiplexes a received IPv4 datagram (spec.md
// §4.4). Fragmented packets (MF set or nonzero fragment offset) are dropped
// since fragmentation reassembly is an explicit Non-goal.
func (s *Stack) ipIngress(nic *NIC, msg *kernel.Message) error {
	raw := msg.Bytes()
	if len(raw) < kernel.IPv4HeaderLength {
		s.Metrics.IPDropped.Inc()
		return kernel.EINVAL
	}
	hdr, err := kernel.UnmarshalIPv4Header(raw)
	if err != nil {
		s.Metrics.IPDropped.Inc()
		return err
	}
	if hdr.Version() != 4 || hdr.HeaderLen() < 5 {
		s.Metrics.IPDropped.Inc()
		return kernel.EINVAL
	}
	hlen := int(hdr.HeaderLen()) * 4
	if len(raw) < hlen || len(raw) < int(hdr.TotalLength) {
		s.Metrics.IPDropped.Inc()
		return kernel.EINVAL
	}
	if kernel.Checksum16(raw[:hlen]) != 0 {
		s.Metrics.IPDropped.Inc()
		return kernel.EINVAL
	}
	if hdr.MF() || hdr.FragOffset() != 0 {
		s.Metrics.IPDropped.Inc()
		return nil
	}

	msg.SrcIP = hdr.Src
	msg.DstIP = hdr.Dst
	msg.Protocol = hdr.Protocol
	msg.DF = hdr.DF()
	msg.IPLength = int(hdr.TotalLength) - hlen
	msg.IPOffset = 0

	if err := msg.Truncate(int(hdr.TotalLength)); err != nil {
		s.Metrics.IPDropped.Inc()
		return err
	}
	if err := msg.CutOff(hlen); err != nil {
		s.Metrics.IPDropped.Inc()
		return err
	}

	if hdr.Dst != nic.IP && !nic.Broadcast(hdr.Dst) && hdr.Dst != [4]byte{255, 255, 255, 255} {
		// Not addressed to us: this stack does not forward between
		// interfaces (no routing daemon in scope), so drop silently.
		s.Metrics.IPDropped.Inc()
		return nil
	}

	s.Metrics.IPDelivered.Inc()
	switch hdr.Protocol {
	case kernel.IPPROTO_ICMP:
		return s.icmpIngress(nic, msg)
	case kernel.IPPROTO_UDP:
		return s.udpIngress(nic, msg)
	case kernel.IPPROTO_TCP:
		return s.tcpIngress(nic, msg)
	default:
		s.Metrics.IPDropped.Inc()
		return nil
	}
}

// ipEgress builds and sends an IPv4 datagram carrying payload (spec.md
// §4.4). msg's Bytes() must already be exactly the protocol payload
// (headers+data) to send; ipEgress prepends the IP header and hands off to
// Ethernet. df selects the Don't Fragment bit, set per-socket.
func (s *Stack) ipEgress(dstIP [4]byte, protocol uint8, df bool, msg *kernel.Message) error {
	route, ok := s.Routes.Lookup(dstIP)
	if !ok {
		msg.Destroy()
		return kernel.EHOSTUNREACH
	}
	nic := route.NIC

	payloadLen := msg.Len()
	if payloadLen+kernel.IPv4HeaderLength > nic.MTU {
		msg.Destroy()
		return kernel.EMSGSIZE
	}

	region, err := msg.Prepend(kernel.IPv4HeaderLength)
	if err != nil {
		msg.Destroy()
		return err
	}

	hdr := kernel.IPv4Header{
		TOS:         0,
		TotalLength: uint16(kernel.IPv4HeaderLength + payloadLen),
		ID:          nextIPID(),
		TTL:         DefaultTTL,
		Protocol:    protocol,
		Src:         nic.IP,
		Dst:         dstIP,
	}
	hdr.SetVersionIHL(4, 5)
	if df {
		hdr.FlagsFrag = 0x4000
	}
	hdr.Marshal(region)
	hdr.Checksum = kernel.IPv4Checksum(region)
	region[10] = byte(hdr.Checksum >> 8)
	region[11] = byte(hdr.Checksum)

	s.Metrics.IPSent.Inc()
	return s.ethernetEgress(nic, msg, route.NextHop(dstIP))
}

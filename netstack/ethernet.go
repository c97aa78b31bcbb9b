package netstack

import (
	"github.com/nanokern/corekit"
)

// MinFrameLength is the minimum Ethernet frame size spec.md §4.2 requires
// ("verify length >= 64 bytes (or driver-padded)").
const MinFrameLength = 64

// EthernetIngress dispatches a received frame (spec.md §4.2). It runs
// synchronously on the driver's calling goroutine; nic.TxLock is not
// involved here since RX and TX are independent spinlocks (spec.md §5), but
// the call itself must complete before the driver is allowed to report the
// next frame, which callers enforce by not calling this concurrently for
// the same NIC.
func (s *Stack) EthernetIngress(nic *NIC, msg *kernel.Message) error {
	defer msg.Destroy()

	if msg.Len() < MinFrameLength && msg.Len() < kernel.ETHER_HEADER_LENGTH {
		s.Metrics.EthDropped.Inc()
		return kernel.EINVAL
	}

	hdr, err := kernel.UnmarshalEtherHeader(msg.Bytes())
	if err != nil {
		s.Metrics.EthDropped.Inc()
		return err
	}
	msg.EthOffset = 0
	if err := msg.CutOff(kernel.ETHER_HEADER_LENGTH); err != nil {
		s.Metrics.EthDropped.Inc()
		return err
	}

	switch hdr.EtherType {
	case kernel.ETH_P_IP:
		return s.ipIngress(nic, msg)
	case kernel.ETH_P_ARP:
		pkt, err := kernel.UnmarshalArpPacket(msg.Bytes())
		if err != nil {
			s.Metrics.EthDropped.Inc()
			return err
		}
		s.ARP.Ingress(nic, pkt)
		return nil
	default:
		s.Metrics.EthDropped.Inc()
		return nil
	}
}

// ethernetTransmit prepends an Ethernet header addressed to dstMAC and
// hands the frame to the NIC driver (spec.md §4.2's egress path once ARP
// has resolved a destination, or for ARP's own broadcast traffic). Callers
// own msg and must not touch it afterward; ethernetTransmit always takes
// ownership, including on error (it destroys msg itself).
func (s *Stack) ethernetTransmit(nic *NIC, msg *kernel.Message, dstMAC kernel.MAC, etherType uint16) error {
	defer msg.Destroy()

	region, err := msg.Prepend(kernel.ETHER_HEADER_LENGTH)
	if err != nil {
		s.Metrics.EthDropped.Inc()
		return err
	}
	hdr := kernel.EtherHeader{Dest: dstMAC, Source: nic.MAC, EtherType: etherType}
	hdr.Marshal(region)

	nic.TxLock().Lock()
	defer nic.TxLock().Unlock()
	if err := nic.Driver.TxMsg(msg); err != nil {
		s.Metrics.EthTxErrors.Inc()
		return err
	}
	s.Metrics.EthTxFrames.Inc()
	return nil
}

// ethernetEgress is the IP layer's entry point for sending a packet out a
// given NIC toward dstIP: resolve the next-hop MAC via ARP, then transmit.
// A TRIGGER/QUEUED result from ARP is not an error: the frame has been
// queued and will be sent once resolution completes (spec.md §4.2: "on
// miss, queue in ARP and return success").
func (s *Stack) ethernetEgress(nic *NIC, msg *kernel.Message, dstIP [4]byte) error {
	if nic.Broadcast(dstIP) || dstIP == [4]byte{255, 255, 255, 255} {
		return s.ethernetTransmit(nic, msg, kernel.BroadcastMAC, kernel.ETH_P_IP)
	}

	mac, result := s.ARP.Resolve(nic, dstIP, msg)
	switch result {
	case ARPHit:
		return s.ethernetTransmit(nic, msg, mac, kernel.ETH_P_IP)
	case ARPTrigger, ARPQueued:
		return nil
	default:
		msg.Destroy()
		return kernel.EHOSTUNREACH
	}
}

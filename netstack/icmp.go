package netstack

import "github.com/nanokern/corekit"

// icmpIngress handles a received ICMP message (spec.md §4.2 component
// table: "Echo reply; deliver errors; unreachable generation"). Only echo
// requests are answered here; every other type, echo replies included, is
// dropped. Unreachable generation is driven by UDP (no listening port)
// rather than received here.
func (s *Stack) icmpIngress(nic *NIC, msg *kernel.Message) error {
	raw := msg.Bytes()
	if len(raw) < kernel.IcmpHeaderLength {
		s.Metrics.ICMPDropped.Inc()
		return kernel.EINVAL
	}
	hdr, err := kernel.UnmarshalICMPHeader(raw)
	if err != nil {
		s.Metrics.ICMPDropped.Inc()
		return err
	}
	if kernel.Checksum16(raw) != 0 {
		s.Metrics.ICMPDropped.Inc()
		return kernel.EINVAL
	}

	switch hdr.Type {
	case kernel.ICMPEchoRequest:
		return s.icmpEchoReply(msg.SrcIP, hdr, raw[kernel.IcmpHeaderLength:])
	default:
		s.Metrics.ICMPDropped.Inc()
		return nil
	}
}

func (s *Stack) icmpEchoReply(dst [4]byte, req kernel.ICMPHeader, payload []byte) error {
	msg := kernel.New(kernel.IcmpHeaderLength + len(payload))
	body, err := msg.Append(kernel.IcmpHeaderLength + len(payload))
	if err != nil {
		msg.Destroy()
		return err
	}
	reply := kernel.ICMPHeader{Type: kernel.ICMPEchoReply, Code: 0, ID: req.ID, Seq: req.Seq}
	reply.Marshal(body)
	copy(body[kernel.IcmpHeaderLength:], payload)
	reply.Checksum = kernel.Checksum16(body)
	body[2] = byte(reply.Checksum >> 8)
	body[3] = byte(reply.Checksum)

	s.Metrics.ICMPSent.Inc()
	return s.ipEgress(dst, kernel.IPPROTO_ICMP, false, msg)
}

// icmpPortUnreachable sends a destination-unreachable (port) error in
// response to a UDP datagram with no bound socket (spec.md §4.5).
func (s *Stack) icmpPortUnreachable(dst [4]byte, originalIPHeader []byte) error {
	// Per RFC 792, the ICMP error carries the offending IP header plus the
	// first 8 bytes of its payload.
	n := len(originalIPHeader)
	if n > kernel.IPv4HeaderLength+8 {
		n = kernel.IPv4HeaderLength + 8
	}
	total := kernel.IcmpHeaderLength + n
	msg := kernel.New(total)
	body, err := msg.Append(total)
	if err != nil {
		msg.Destroy()
		return err
	}
	hdr := kernel.ICMPHeader{Type: kernel.ICMPDestUnreach, Code: kernel.ICMPCodePortUnreach}
	hdr.Marshal(body)
	copy(body[kernel.IcmpHeaderLength:], originalIPHeader[:n])
	hdr.Checksum = kernel.Checksum16(body)
	body[2] = byte(hdr.Checksum >> 8)
	body[3] = byte(hdr.Checksum)

	s.Metrics.ICMPSent.Inc()
	return s.ipEgress(dst, kernel.IPPROTO_ICMP, false, msg)
}

package netstack

import (
	"github.com/sirupsen/logrus"

	"github.com/nanokern/corekit"
)

// advertisedMSS is the MSS put on every outgoing SYN (spec.md §6: "supported
// option: MSS (kind=2, length=4) on SYN").
func advertisedMSS(nic *NIC) uint16 {
	mtu := DefaultMTUEthernet
	if nic != nil {
		mtu = nic.MTU
	}
	mss := mtu - kernel.IPv4HeaderLength - kernel.TCPHeaderMinLen
	if mss <= 0 || mss > 1460 {
		mss = 1460
	}
	return uint16(mss)
}

// parseMSSOption scans TCP options for the MSS option, skipping unknown
// options using their length byte per spec.md §6.
func parseMSSOption(opts []byte) (uint16, bool) {
	i := 0
	for i < len(opts) {
		kind := opts[i]
		switch kind {
		case 0: // end of option list
			return 0, false
		case 1: // no-op
			i++
			continue
		}
		if i+1 >= len(opts) {
			return 0, false
		}
		length := int(opts[i+1])
		if length < 2 || i+length > len(opts) {
			return 0, false
		}
		if kind == kernel.TCPOptionMSSKind && length == kernel.TCPOptionMSSLen {
			return uint16(opts[i+2])<<8 | uint16(opts[i+3]), true
		}
		i += length
	}
	return 0, false
}

// tcpSendSegment builds and transmits one TCP segment. seq/flags/payload are
// caller-supplied; ack/window are filled from the tcb's current receive
// state. Must be called with s.lock held.
func (s *Stack) tcpSendSegment(sock *Socket, t *tcb, seq uint32, flags uint8, payload []byte) {
	var options []byte
	if flags&kernel.TH_SYN != 0 {
		mss := advertisedMSS(t.nic)
		options = []byte{kernel.TCPOptionMSSKind, kernel.TCPOptionMSSLen, byte(mss >> 8), byte(mss)}
	}
	hlenWords := (kernel.TCPHeaderMinLen + len(options) + 3) / 4
	total := hlenWords*4 + len(payload)

	msg := kernel.New(total)
	region, err := msg.Append(total)
	if err != nil {
		msg.Destroy()
		return
	}

	hdr := kernel.TCPHeader{
		SrcPort:    sock.Local.Port,
		DstPort:    sock.Foreign.Port,
		Seq:        seq,
		Ack:        t.rcvNxt,
		DataOffset: uint8(hlenWords),
		Flags:      flags,
		Window:     uint16(t.rcvWnd),
	}
	if flags&kernel.TH_ACK == 0 {
		hdr.Ack = 0
	}
	hdr.Marshal(region)
	copy(region[kernel.TCPHeaderMinLen:], options)
	copy(region[hlenWords*4:], payload)

	cksum := kernel.TCPChecksum(sock.Local.IP, sock.Foreign.IP, region)
	region[16] = byte(cksum >> 8)
	region[17] = byte(cksum)

	s.Metrics.TCPSegmentsSent.Inc()
	s.ipEgress(sock.Foreign.IP, kernel.IPPROTO_TCP, false, msg)
}

// tcpSendControl sends a header-only (or SYN-with-options) segment without
// consuming send-buffer data: a SYN goes out at isn, a FIN at finSeqNo, and
// anything else at the current sndNxt.
func (s *Stack) tcpSendControl(sock *Socket, t *tcb, flags uint8) {
	seq := t.sndUna
	if flags&kernel.TH_SYN != 0 {
		seq = t.isn
	} else if flags&kernel.TH_FIN != 0 {
		seq = t.finSeqNo
	} else {
		seq = t.sndNxt
	}
	s.tcpSendSegment(sock, t, seq, flags, nil)
}

// tcpTransmitPending sends as much unsent data as the congestion and
// advertised windows allow (spec.md §4.6 flow/congestion control), in
// segments of at most SMSS bytes, until the window or the unsent data runs
// out.
func (s *Stack) tcpTransmitPending(sock *Socket, t *tcb) {
	if t.state != TCPEstablished && t.state != TCPCloseWait {
		return
	}
	t.ensureCWND()
	for {
		inFlight := t.sndNxt - t.sndUna
		allowed := t.sndWnd
		if t.cwnd < allowed {
			allowed = t.cwnd
		}
		if uint32(inFlight) >= allowed {
			if t.sndWnd == 0 {
				t.armPersist(sock)
			}
			return
		}
		room := allowed - inFlight
		if room > t.smss {
			room = t.smss
		}
		offset := int(t.sndNxt - t.sndUna)
		data := t.sendBuf.Peek(offset, int(room))
		if len(data) == 0 {
			return
		}
		flags := kernel.TH_ACK
		if !t.timingInFlight {
			t.timedSeq = t.sndNxt
			t.timingInFlight = true
			t.currentRTT = 0
		}
		s.tcpSendSegment(sock, t, t.sndNxt, flags, data)
		t.sndNxt += uint32(len(data))
		if seqGT(t.sndNxt, t.sndMax) {
			t.sndMax = t.sndNxt
		}
		t.armRTO(sock)
	}
}

// tcpIngress demultiplexes and processes a received TCP segment (spec.md
// §4.6).
func (s *Stack) tcpIngress(nic *NIC, msg *kernel.Message) error {
	raw := msg.Bytes()
	if len(raw) < kernel.TCPHeaderMinLen {
		s.Metrics.TCPDropped.Inc()
		return kernel.EINVAL
	}
	hdr, err := kernel.UnmarshalTCPHeader(raw)
	if err != nil {
		s.Metrics.TCPDropped.Inc()
		return err
	}
	if kernel.TCPChecksum(msg.SrcIP, msg.DstIP, raw) != 0 {
		s.Metrics.TCPDropped.Inc()
		return nil
	}
	hlen := int(hdr.DataOffset) * 4
	if hlen < kernel.TCPHeaderMinLen || hlen > len(raw) {
		s.Metrics.TCPDropped.Inc()
		return kernel.EINVAL
	}
	opts := raw[kernel.TCPHeaderMinLen:hlen]
	payload := raw[hlen:]

	sock, ok := s.tcp.lookupConn(msg.DstIP, msg.SrcIP, hdr.DstPort, hdr.SrcPort)
	if !ok {
		if hdr.Flags&kernel.TH_SYN != 0 && hdr.Flags&kernel.TH_ACK == 0 {
			return s.tcpHandlePassiveSyn(nic, msg, hdr, opts)
		}
		s.Metrics.TCPDropped.Inc()
		return nil
	}

	t := sock.Impl.(*tcb)
	sock.lock.Lock()
	defer sock.lock.Unlock()
	s.tcpProcessSegment(sock, t, hdr, payload, opts)
	return nil
}

// tcpHandlePassiveSyn creates a new child connection off a listening socket
// (spec.md §4.6: "Listening sockets maintain a backlog... of half/fully
// open child sockets"). The Open Question on backlog overflow is resolved
// here by dropping the SYN silently, never sending an RST.
func (s *Stack) tcpHandlePassiveSyn(nic *NIC, msg *kernel.Message, hdr kernel.TCPHeader, opts []byte) error {
	listener, ok := s.tcp.lookupListener(hdr.DstPort)
	if !ok {
		s.Metrics.TCPDropped.Inc()
		return nil
	}

	listener.lock.Lock()
	if len(listener.acceptQueue) >= listener.Backlog {
		listener.lock.Unlock()
		s.Metrics.TCPBacklogDrops.Inc()
		return nil
	}
	listener.lock.Unlock()

	child, _ := s.Sockets.Create(AF_INET, SOCK_STREAM, 0)
	child.Local = Addr{IP: msg.DstIP, Port: hdr.DstPort}
	child.Foreign = Addr{IP: msg.SrcIP, Port: hdr.SrcPort}
	child.Parent = listener
	ct := tcpOps{}.ensure(child)
	ct.nic = nic
	ct.isn = generateISN()
	ct.sndUna = ct.isn
	ct.sndNxt = ct.isn + 1
	ct.sndMax = ct.sndNxt
	ct.rcvNxt = hdr.Seq + 1
	if mss, ok := parseMSSOption(opts); ok {
		ct.smss = mss
	}
	ct.state = TCPSynRcvd
	s.tcp.addConn(child)

	listener.lock.Lock()
	listener.acceptQueue = append(listener.acceptQueue, child)
	listener.lock.Unlock()

	child.lock.Lock()
	s.tcpSendControl(child, ct, kernel.TH_SYN|kernel.TH_ACK)
	ct.armRTO(child)
	child.lock.Unlock()
	return nil
}

// tcpProcessSegment is the core state-machine step, called with sock.lock
// held (spec.md §5: "per-connection TCP operations are serialized by the
// socket spinlock").
func (s *Stack) tcpProcessSegment(sock *Socket, t *tcb, hdr kernel.TCPHeader, payload, opts []byte) {
	if hdr.Flags&kernel.TH_RST != 0 {
		s.tcpAbort(sock, t, kernel.ECONNRESET)
		return
	}

	switch t.state {
	case TCPSynSent:
		s.tcpSynSent(sock, t, hdr, payload, opts)
		return
	}

	if !acceptable(hdr.Seq, len(payload), t.rcvNxt, t.rcvWnd) {
		if hdr.Flags&kernel.TH_ACK != 0 {
			s.tcpSendControl(sock, t, kernel.TH_ACK)
		}
		return
	}

	if hdr.Flags&kernel.TH_ACK != 0 {
		s.tcpProcessAck(sock, t, hdr)
	}

	switch t.state {
	case TCPSynRcvd:
		if hdr.Flags&kernel.TH_ACK != 0 {
			t.state = TCPEstablished
			s.Metrics.TCPEstablished.Inc()
			sock.notify(EventWrite)
			if sock.Parent != nil {
				sock.Parent.notify(EventRead)
				sock.Parent.RecvCond.Broadcast()
			}
		}
	}

	if len(payload) > 0 && (t.state == TCPEstablished || t.state == TCPFinWait1 || t.state == TCPFinWait2) {
		s.tcpAcceptData(sock, t, hdr, payload)
	}

	if hdr.Flags&kernel.TH_FIN != 0 {
		s.tcpHandleFin(sock, t, hdr)
	}
}

func (s *Stack) tcpSynSent(sock *Socket, t *tcb, hdr kernel.TCPHeader, payload, opts []byte) {
	if hdr.Flags&kernel.TH_ACK != 0 {
		if seqLE(hdr.Ack, t.isn) || seqGT(hdr.Ack, t.sndNxt) {
			return
		}
	}
	if hdr.Flags&kernel.TH_SYN == 0 {
		return
	}
	t.rcvNxt = hdr.Seq + 1
	if mss, ok := parseMSSOption(opts); ok {
		t.smss = mss
	}
	t.sndUna = hdr.Ack
	t.sndWnd = uint32(hdr.Window)
	t.cancelRTO()
	if hdr.Flags&kernel.TH_ACK != 0 {
		t.state = TCPEstablished
		s.Metrics.TCPEstablished.Inc()
		s.tcpSendControl(sock, t, kernel.TH_ACK)
		sock.RecvCond.Broadcast()
		sock.notify(EventWrite)
	} else {
		t.state = TCPSynRcvd
		s.tcpSendControl(sock, t, kernel.TH_SYN|kernel.TH_ACK)
		t.armRTO(sock)
	}
}

func (s *Stack) tcpAcceptData(sock *Socket, t *tcb, hdr kernel.TCPHeader, payload []byte) {
	if hdr.Seq != t.rcvNxt {
		// Out-of-order: spec.md §4.6 calls only for immediate ACK here,
		// no reassembly queue (keeps scope to in-order delivery as
		// round-trip-law testing requires).
		s.tcpSendControl(sock, t, kernel.TH_ACK)
		return
	}
	n := t.recvBuf.Write(payload)
	t.rcvNxt += uint32(n)
	t.rcvWnd = uint32(TCPRecvBufSize - t.recvBuf.Used())
	sock.notify(EventRead)
	sock.RecvCond.Broadcast()

	t.segsSinceAck++
	immediate := n < len(payload) || t.segsSinceAck >= 2
	if immediate {
		t.segsSinceAck = 0
		t.cancelDelack()
		s.tcpSendControl(sock, t, kernel.TH_ACK)
	} else {
		t.armDelack(sock)
	}
}

func (s *Stack) tcpHandleFin(sock *Socket, t *tcb, hdr kernel.TCPHeader) {
	t.peerFinSeq = hdr.Seq + uint32(0)
	t.peerFinRecvd = true
	t.rcvNxt = hdr.Seq + 1
	sock.notify(EventRead)
	sock.RecvCond.Broadcast()
	s.tcpSendControl(sock, t, kernel.TH_ACK)

	switch t.state {
	case TCPEstablished:
		t.state = TCPCloseWait
	case TCPFinWait1:
		t.state = TCPClosing
	case TCPFinWait2:
		t.state = TCPTimeWait
		t.armTimeWait(sock)
	}
}

func (s *Stack) tcpProcessAck(sock *Socket, t *tcb, hdr kernel.TCPHeader) {
	ack := hdr.Ack

	if seqGT(ack, t.sndUna) && seqLE(ack, t.sndMax) {
		acked := ack - t.sndUna
		if acked > uint32(t.sendBuf.Used()) {
			acked = uint32(t.sendBuf.Used())
		}
		t.sendBuf.Discard(int(acked))
		t.sndUna = ack
		t.dupacks = 0
		t.rtxCount = 0
		sock.SendCond.Broadcast()
		sock.notify(EventWrite)

		if t.timingInFlight && seqGE(ack, t.timedSeq+1) {
			t.updateRTT(t.currentRTT)
			t.timingInFlight = false
		}

		t.growCWND()

		if t.sndUna == t.sndNxt {
			t.cancelRTO()
		} else {
			t.armRTO(sock)
		}

		switch t.state {
		case TCPFinWait1:
			if t.finSent && ack == t.finSeqNo+1 {
				t.state = TCPFinWait2
			}
		case TCPClosing:
			if t.finSent && ack == t.finSeqNo+1 {
				t.state = TCPTimeWait
				t.armTimeWait(sock)
			}
		case TCPLastAck:
			if t.finSent && ack == t.finSeqNo+1 {
				s.tcpFinalize(sock, t)
				return
			}
		}

		s.tcpTransmitPending(sock, t)
	} else if ack == t.sndUna && t.sndUna != t.sndNxt {
		t.dupacks++
		if t.dupacks == 3 {
			s.Metrics.TCPFastRetransmits.Inc()
			t.ssthresh = maxU32(t.sndNxt-t.sndUna, 2*t.smss) / 2
			if t.ssthresh < 2*t.smss {
				t.ssthresh = 2 * t.smss
			}
			t.cwnd = t.ssthresh
			s.tcpRetransmit(sock, t)
		}
	}

	if seqGT(ack, t.sndWl1) || (ack == t.sndWl1 && seqGE(hdr.Seq, t.sndWl2)) {
		t.sndWnd = uint32(hdr.Window)
		t.sndWl1 = hdr.Seq
		t.sndWl2 = ack
		if t.sndWnd > 0 {
			t.cancelPersist()
		}
	}
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// tcpAbort implements spec.md §7's "peer reset yields ECONNRESET then EPIPE
// on next send": err is stored in sock.Err, which Send reports once before
// turning an ECONNRESET into EPIPE, and the state is driven CLOSED
// immediately.
func (s *Stack) tcpAbort(sock *Socket, t *tcb, err error) {
	t.cancelRTO()
	t.cancelDelack()
	t.cancelPersist()
	t.cancelTimeWait()
	t.state = TCPClosed
	s.tcp.removeConn(sock)
	sock.Err = err
	sock.notify(EventRead | EventWrite)
	sock.RecvCond.Broadcast()
	sock.SendCond.Broadcast()
	logrus.WithFields(logrus.Fields{"local": sock.Local, "foreign": sock.Foreign}).Debug("tcp connection reset")
}

func (s *Stack) tcpFinalize(sock *Socket, t *tcb) {
	t.cancelRTO()
	t.cancelDelack()
	t.cancelPersist()
	t.cancelTimeWait()
	t.state = TCPClosed
	s.tcp.removeConn(sock)
}

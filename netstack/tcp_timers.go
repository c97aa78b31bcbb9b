package netstack

import (
	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/timerq"
)

// armRTO (re)arms the retransmission timer at the current RTO (spec.md
// §4.6: "A single retransmission timer per connection"). Must be called
// with sock.lock held; the callback re-acquires it itself since TimerWheel
// invokes callbacks outside any socket's lock.
func (t *tcb) armRTO(sock *Socket) {
	if t.stack == nil || t.stack.Timers == nil {
		return
	}
	t.rtoTimer = t.stack.Timers.Schedule(t.rtoTimer, t.rto, func(timerq.Tick) {
		t.stack.tcpOnRTO(sock, t)
	})
}

func (t *tcb) cancelRTO() {
	if t.stack != nil && t.stack.Timers != nil {
		t.stack.Timers.Cancel(t.rtoTimer)
	}
}

func (t *tcb) armDelack(sock *Socket) {
	if t.stack == nil || t.stack.Timers == nil || t.delackArmed {
		return
	}
	t.delackArmed = true
	t.delackTimer = t.stack.Timers.Schedule(t.delackTimer, TCPDelayedAckTicks, func(timerq.Tick) {
		t.stack.tcpOnDelack(sock, t)
	})
}

func (t *tcb) cancelDelack() {
	t.delackArmed = false
	if t.stack != nil && t.stack.Timers != nil {
		t.stack.Timers.Cancel(t.delackTimer)
	}
}

func (t *tcb) armPersist(sock *Socket) {
	if t.stack == nil || t.stack.Timers == nil {
		return
	}
	if t.persistTimer != nil && t.persistTimer.Active() {
		return
	}
	t.persistTimer = t.stack.Timers.Schedule(t.persistTimer, t.rto, func(timerq.Tick) {
		t.stack.tcpOnPersist(sock, t)
	})
}

func (t *tcb) cancelPersist() {
	if t.stack != nil && t.stack.Timers != nil {
		t.stack.Timers.Cancel(t.persistTimer)
	}
}

func (t *tcb) armTimeWait(sock *Socket) {
	if t.stack == nil || t.stack.Timers == nil {
		return
	}
	t.timewaitTimer = t.stack.Timers.Schedule(t.timewaitTimer, TCPTimeWaitTicks, func(timerq.Tick) {
		t.stack.tcpOnTimeWait(sock, t)
	})
}

func (t *tcb) cancelTimeWait() {
	if t.stack != nil && t.stack.Timers != nil {
		t.stack.Timers.Cancel(t.timewaitTimer)
	}
}

// tcpOnRTO fires on retransmission timeout (spec.md §4.6): the RTO doubles
// on every consecutive timeout (1s, 2s, 4s, 8s, ...) up to a ceiling, SYNs
// get their own 600s ceiling and 5-retry limit, data segments get 5 retries
// before the connection is reset.
func (s *Stack) tcpOnRTO(sock *Socket, t *tcb) {
	sock.lock.Lock()
	defer sock.lock.Unlock()

	if t.state == TCPClosed || t.state == TCPTimeWait {
		return
	}

	isSyn := t.state == TCPSynSent || t.state == TCPSynRcvd
	if isSyn {
		t.synRetries++
		if t.synRetries > TCPMaxSynRetries {
			s.tcpAbort(sock, t, kernel.ETIMEDOUT)
			return
		}
	} else {
		t.rtxCount++
		if t.rtxCount > TCPMaxDataRetries {
			s.tcpAbort(sock, t, kernel.ETIMEDOUT)
			return
		}
	}

	s.Metrics.TCPRetransmits.Inc()
	t.ssthresh = maxU32(t.cwnd, 4*t.smss) / 2
	if t.ssthresh < 2*t.smss {
		t.ssthresh = 2 * t.smss
	}
	t.cwnd = t.smss
	t.timingInFlight = false // Karn's rule: no RTT sample from a retransmission

	rto := t.rto << 1
	ceiling := timerq.Tick(TCPMaxRTO)
	if isSyn {
		ceiling = TCPSynCeiling
	}
	if rto > ceiling {
		rto = ceiling
	}
	t.rto = rto

	s.tcpRetransmit(sock, t)
	t.armRTO(sock)
}

// tcpRetransmit resends the oldest unacknowledged segment.
func (s *Stack) tcpRetransmit(sock *Socket, t *tcb) {
	switch t.state {
	case TCPSynSent:
		s.tcpSendControl(sock, t, kernel.TH_SYN)
		return
	case TCPSynRcvd:
		s.tcpSendControl(sock, t, kernel.TH_SYN|kernel.TH_ACK)
		return
	}
	if t.finSent && t.sndUna == t.finSeqNo {
		s.tcpSendControl(sock, t, kernel.TH_FIN|kernel.TH_ACK)
		return
	}
	n := t.smss
	if used := uint32(t.sendBuf.Used()); used < n {
		n = used
	}
	data := t.sendBuf.Peek(0, int(n))
	if len(data) == 0 {
		return
	}
	s.tcpSendSegment(sock, t, t.sndUna, kernel.TH_ACK, data)
}

func (s *Stack) tcpOnDelack(sock *Socket, t *tcb) {
	sock.lock.Lock()
	defer sock.lock.Unlock()
	if !t.delackArmed {
		return
	}
	t.delackArmed = false
	t.segsSinceAck = 0
	if t.state == TCPClosed {
		return
	}
	s.tcpSendControl(sock, t, kernel.TH_ACK)
}

// tcpOnPersist probes a zero receive window with a one-byte segment,
// backing off using the same RTO doubling as retransmission (spec.md
// §4.6: "persist timer probes using RTO backoff").
func (s *Stack) tcpOnPersist(sock *Socket, t *tcb) {
	sock.lock.Lock()
	defer sock.lock.Unlock()
	if t.sndWnd != 0 || t.state == TCPClosed {
		return
	}
	data := t.sendBuf.Peek(int(t.sndNxt-t.sndUna), 1)
	if len(data) > 0 {
		s.tcpSendSegment(sock, t, t.sndNxt, kernel.TH_ACK, data)
	} else {
		s.tcpSendControl(sock, t, kernel.TH_ACK)
	}
	t.rto *= 2
	if t.rto > TCPMaxRTO {
		t.rto = TCPMaxRTO
	}
	t.armPersist(sock)
}

func (s *Stack) tcpOnTimeWait(sock *Socket, t *tcb) {
	sock.lock.Lock()
	defer sock.lock.Unlock()
	if t.state != TCPTimeWait {
		return
	}
	t.state = TCPClosed
	s.tcp.removeConn(sock)
}

// updateRTT applies Karn's rule and the RFC 6298-style smoothing of
// spec.md §4.6 to a fresh RTT sample r (in ticks).
func (t *tcb) updateRTT(r timerq.Tick) {
	if !t.haveSRTT {
		t.srtt = r << 3
		t.rttvar = r << 1 // R/2, stored shifted left by 2
		t.haveSRTT = true
	} else {
		srtt := t.srtt >> 3
		delta := srtt - r
		if delta < 0 {
			delta = -delta
		}
		t.rttvar = t.rttvar - (t.rttvar >> 2) + delta
		t.srtt = t.srtt - (t.srtt >> 3) + r
	}
	rto := (t.srtt >> 3) + 4*(t.rttvar>>2)
	if rto < TCPMinRTO {
		rto = TCPMinRTO
	}
	if rto > TCPMaxRTO {
		rto = TCPMaxRTO
	}
	t.rto = rto
}

// growCWND implements spec.md §4.6's slow-start/congestion-avoidance
// window growth, called once per accepted ACK that advanced SND.UNA.
func (t *tcb) growCWND() {
	if t.cwnd < t.ssthresh {
		t.cwnd += t.smss // slow start: +SMSS per ACK (~+SMSS per RTT in aggregate)
	} else {
		t.cwnd += (t.smss*t.smss + t.cwnd - 1) / t.cwnd // additive increase
	}
}

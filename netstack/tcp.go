package netstack

import (
	"context"
	"sync"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/timerq"
)

// TCPState enumerates the connection states of spec.md §3.
type TCPState int

const (
	TCPClosed TCPState = iota
	TCPListen
	TCPSynSent
	TCPSynRcvd
	TCPEstablished
	TCPCloseWait
	TCPFinWait1
	TCPFinWait2
	TCPClosing
	TCPLastAck
	TCPTimeWait
)

func (st TCPState) String() string {
	switch st {
	case TCPClosed:
		return "CLOSED"
	case TCPListen:
		return "LISTEN"
	case TCPSynSent:
		return "SYN_SENT"
	case TCPSynRcvd:
		return "SYN_RCVD"
	case TCPEstablished:
		return "ESTABLISHED"
	case TCPCloseWait:
		return "CLOSE_WAIT"
	case TCPFinWait1:
		return "FIN_WAIT_1"
	case TCPFinWait2:
		return "FIN_WAIT_2"
	case TCPClosing:
		return "CLOSING"
	case TCPLastAck:
		return "LAST_ACK"
	case TCPTimeWait:
		return "TIME_WAIT"
	default:
		return "?"
	}
}

// Constants from spec.md §4.6, expressed in ticks at the stack's 100 Hz
// clock (spec.md §8: "at 100 Hz tick").
const (
	TCPInitialRTO   = 100    // 1s
	TCPMinRTO       = 100    // 1s
	TCPMaxRTO       = 12000  // 120s
	TCPSynCeiling   = 60000  // 600s
	TCPMaxSynRetries  = 5
	TCPMaxDataRetries = 5

	TCPMSL             = 3000 // 30s
	TCPTimeWaitTicks   = 2 * TCPMSL

	TCPDefaultBacklog   = 15
	TCPSendBufSize      = 65536
	TCPRecvBufSize      = 8192
	TCPDefaultSSThresh  = 65536
	TCPDefaultSMSS      = 536
	TCPDelayedAckTicks  = 1
)

// tcb is the TCP control block of spec.md §3, embedded as Socket.Impl for
// SOCK_STREAM sockets.
type tcb struct {
	sock *Socket
	nic  *NIC

	state TCPState

	isn              uint32
	sndUna           uint32
	sndNxt           uint32
	sndMax           uint32
	sndWnd           uint32
	sndWl1, sndWl2   uint32
	rcvNxt           uint32
	rcvWnd           uint32
	maxWnd           uint32
	cwnd             uint32
	ssthresh         uint32
	smss             uint32
	rmss             uint32

	rto        timerq.Tick
	srtt       timerq.Tick
	rttvar     timerq.Tick
	haveSRTT   bool
	timedSeq   uint32
	timingInFlight bool
	currentRTT timerq.Tick

	dupacks  int
	rtxCount int
	synRetries int

	finSeqNo uint32
	finSent  bool
	peerFinSeq     uint32
	peerFinRecvd   bool

	sendBuf *ring
	recvBuf *ring

	rtoTimer, delackTimer, persistTimer, timewaitTimer *timerq.Timer
	delackArmed bool
	segsSinceAck int

	stack *Stack
}

func newTCB(stack *Stack, sock *Socket) *tcb {
	return &tcb{
		sock:     sock,
		state:    TCPClosed,
		ssthresh: TCPDefaultSSThresh,
		smss:     TCPDefaultSMSS,
		rmss:     TCPDefaultSMSS,
		rto:      TCPInitialRTO,
		sendBuf:  newRing(TCPSendBufSize),
		recvBuf:  newRing(TCPRecvBufSize),
		rcvWnd:   TCPRecvBufSize,
		maxWnd:   TCPRecvBufSize,
		cwnd:     TCPDefaultSMSS,
		stack:    stack,
	}
}

func (t *tcb) ensureCWND() {
	if t.cwnd == 0 {
		t.cwnd = t.smss
	}
}

type tcpTuple struct {
	localIP, foreignIP     [4]byte
	localPort, foreignPort uint16
}

// tcpPortTable demultiplexes inbound segments: exact 4-tuple match for
// connected sockets, local-port match for listeners (spec.md §4.6).
type tcpPortTable struct {
	mu        sync.Mutex
	conns     map[tcpTuple]*Socket
	listeners map[uint16]*Socket
	nextEph   uint16
}

func newTCPPortTable() *tcpPortTable {
	return &tcpPortTable{
		conns:     make(map[tcpTuple]*Socket),
		listeners: make(map[uint16]*Socket),
		nextEph:   ephemeralPortBase,
	}
}

func (t *tcpPortTable) addConn(s *Socket) {
	tcb := s.Impl.(*tcb)
	key := tcpTuple{s.Local.IP, s.Foreign.IP, s.Local.Port, s.Foreign.Port}
	t.mu.Lock()
	t.conns[key] = s
	t.mu.Unlock()
	_ = tcb
}

func (t *tcpPortTable) removeConn(s *Socket) {
	key := tcpTuple{s.Local.IP, s.Foreign.IP, s.Local.Port, s.Foreign.Port}
	t.mu.Lock()
	delete(t.conns, key)
	t.mu.Unlock()
}

func (t *tcpPortTable) lookupConn(localIP, foreignIP [4]byte, localPort, foreignPort uint16) (*Socket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.conns[tcpTuple{localIP, foreignIP, localPort, foreignPort}]
	return s, ok
}

func (t *tcpPortTable) addListener(s *Socket) {
	t.mu.Lock()
	t.listeners[s.Local.Port] = s
	t.mu.Unlock()
}

func (t *tcpPortTable) removeListener(s *Socket) {
	t.mu.Lock()
	delete(t.listeners, s.Local.Port)
	t.mu.Unlock()
}

func (t *tcpPortTable) lookupListener(port uint16) (*Socket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.listeners[port]
	return s, ok
}

func (t *tcpPortTable) reserve(ip [4]byte, port uint16) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if port != 0 {
		if _, ok := t.listeners[port]; ok {
			return 0, kernel.EADDRINUSE
		}
		return port, nil
	}
	for i := 0; i < 1<<16; i++ {
		cand := t.nextEph
		t.nextEph++
		if t.nextEph == 0 {
			t.nextEph = ephemeralPortBase
		}
		if _, ok := t.listeners[cand]; !ok {
			return cand, nil
		}
	}
	return 0, kernel.EADDRINUSE
}

// tcpOps implements Ops for SOCK_STREAM sockets.
type tcpOps struct{}

func (tcpOps) ensure(s *Socket) *tcb {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.Impl == nil {
		s.Impl = newTCB(s.stack, s)
	}
	return s.Impl.(*tcb)
}

func (o tcpOps) Bind(s *Socket, addr Addr) error {
	t := o.ensure(s)
	port, err := s.stack.tcp.reserve(addr.IP, addr.Port)
	if err != nil {
		return err
	}
	s.lock.Lock()
	s.Local = Addr{IP: addr.IP, Port: port}
	s.Bound = true
	t.state = TCPClosed
	s.lock.Unlock()
	return nil
}

func (o tcpOps) Connect(ctx context.Context, s *Socket, addr Addr) error {
	t := o.ensure(s)
	s.lock.Lock()
	if !s.Bound {
		s.lock.Unlock()
		if err := o.Bind(s, Addr{}); err != nil {
			return err
		}
		s.lock.Lock()
	}
	srcIP, nic, ok := s.stack.Routes.SrcAddr(addr.IP)
	if !ok {
		s.lock.Unlock()
		return kernel.EHOSTUNREACH
	}
	s.Local.IP = srcIP
	s.Foreign = addr
	t.nic = nic
	t.isn = generateISN()
	t.sndUna = t.isn
	t.sndNxt = t.isn + 1
	t.sndMax = t.sndNxt
	t.state = TCPSynSent
	s.stack.tcp.addConn(s)
	s.lock.Unlock()

	s.stack.tcpSendControl(s, t, kernel.TH_SYN)
	t.armRTO(s)

	s.lock.Lock()
	defer s.lock.Unlock()
	for t.state == TCPSynSent || t.state == TCPSynRcvd {
		if err := s.RecvCond.Wait(ctx); err != nil {
			return translateWaitErr(err)
		}
	}
	if t.state != TCPEstablished {
		if s.Err != nil {
			return s.Err
		}
		return kernel.ECONNRESET
	}
	return nil
}

func (o tcpOps) Listen(s *Socket, backlog int) error {
	t := o.ensure(s)
	if backlog <= 0 {
		backlog = TCPDefaultBacklog
	}
	s.lock.Lock()
	if !s.Bound {
		s.lock.Unlock()
		return kernel.EINVAL
	}
	s.Backlog = backlog
	t.state = TCPListen
	s.lock.Unlock()
	s.stack.tcp.addListener(s)
	return nil
}

func (o tcpOps) Accept(ctx context.Context, s *Socket) (*Socket, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for {
		for i, child := range s.acceptQueue {
			ct := child.Impl.(*tcb)
			if ct.state == TCPEstablished {
				s.acceptQueue = append(s.acceptQueue[:i], s.acceptQueue[i+1:]...)
				return child, nil
			}
		}
		if s.Closed {
			return nil, kernel.EBADF
		}
		if err := s.RecvCond.Wait(ctx); err != nil {
			return nil, translateWaitErr(err)
		}
	}
}

func (o tcpOps) Send(ctx context.Context, s *Socket, b []byte) (int, error) {
	t := o.ensure(s)
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.Err; err != nil {
		if err == kernel.ECONNRESET {
			s.Err = kernel.EPIPE
		}
		return 0, err
	}
	if t.state != TCPEstablished && t.state != TCPCloseWait {
		return 0, kernel.ENOTCONN
	}

	sent := 0
	for sent < len(b) {
		if err := s.Err; err != nil {
			if sent > 0 {
				return sent, nil
			}
			if err == kernel.ECONNRESET {
				s.Err = kernel.EPIPE
			}
			return 0, err
		}
		n := t.sendBuf.Write(b[sent:])
		sent += n
		if n > 0 {
			s.stack.tcpTransmitPending(s, t)
		}
		if sent < len(b) {
			if s.NonBlock {
				if sent > 0 {
					return sent, nil
				}
				return 0, kernel.EAGAIN
			}
			if err := s.SendCond.Wait(socketWaitContext(ctx, s.SndTimeout)); err != nil {
				if sent > 0 {
					return sent, nil
				}
				return 0, translateWaitErr(err)
			}
		}
	}
	return sent, nil
}

func (tcpOps) SendTo(context.Context, *Socket, []byte, Addr) (int, error) {
	return 0, kernel.ENOSYS
}

func (o tcpOps) Recv(ctx context.Context, s *Socket, b []byte) (int, error) {
	t := o.ensure(s)
	s.lock.Lock()
	defer s.lock.Unlock()

	for t.recvBuf.Used() == 0 {
		if t.peerFinRecvd {
			return 0, nil // EOF
		}
		if s.Err != nil {
			return 0, s.Err
		}
		if t.state != TCPEstablished && t.state != TCPFinWait1 && t.state != TCPFinWait2 {
			return 0, kernel.ENOTCONN
		}
		if s.NonBlock {
			return 0, kernel.EAGAIN
		}
		if err := s.RecvCond.Wait(socketWaitContext(ctx, s.RcvTimeout)); err != nil {
			return 0, translateWaitErr(err)
		}
	}
	n := t.recvBuf.Read(b)
	oldWnd := t.rcvWnd
	t.rcvWnd = uint32(TCPRecvBufSize - t.recvBuf.Used())
	if oldWnd == 0 && t.rcvWnd > 0 {
		s.stack.tcpSendControl(s, t, kernel.TH_ACK)
	}
	return n, nil
}

func (tcpOps) RecvFrom(context.Context, *Socket, []byte) (int, Addr, error) {
	return 0, Addr{}, kernel.ENOSYS
}

func (o tcpOps) Close(s *Socket) error {
	t := o.ensure(s)
	s.lock.Lock()
	defer s.lock.Unlock()

	switch t.state {
	case TCPClosed, TCPListen:
		t.state = TCPClosed
		if s.Bound {
			s.stack.tcp.removeListener(s)
		}
		return nil
	case TCPSynSent:
		t.state = TCPClosed
		s.stack.tcp.removeConn(s)
		return nil
	case TCPEstablished:
		t.state = TCPFinWait1
	case TCPCloseWait:
		t.state = TCPLastAck
	default:
		return nil
	}
	t.finSeqNo = t.sndNxt
	t.finSent = true
	t.sndNxt++
	t.sndMax = t.sndNxt
	s.stack.tcpSendControl(s, t, kernel.TH_FIN|kernel.TH_ACK)
	t.armRTO(s)
	return nil
}

func (tcpOps) Ready(s *Socket) Events {
	t, _ := s.Impl.(*tcb)
	if t == nil {
		return 0
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	var ev Events
	if t.state == TCPListen {
		for _, c := range s.acceptQueue {
			if c.Impl.(*tcb).state == TCPEstablished {
				ev |= EventRead
				break
			}
		}
		return ev
	}
	if t.recvBuf.Used() > 0 || t.peerFinRecvd || s.Err != nil {
		ev |= EventRead
	}
	if t.sendBuf.Free() > 0 && (t.state == TCPEstablished || t.state == TCPCloseWait) {
		ev |= EventWrite
	}
	return ev
}

package netstack

import (
	"context"
	"sync"
	"time"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/sync2"
)

// UDPMaxPayload is spec.md §4.5's "max payload: 65535-20-8".
const UDPMaxPayload = 65535 - kernel.IPv4HeaderLength - kernel.UDPHeaderLength

const ephemeralPortBase = 49152

type udpDatagram struct {
	from    Addr
	payload []byte
}

// udpEndpoint is the UDP protocol payload embedded in Socket.Impl (spec.md
// §3's "protocol-specific payload is embedded").
type udpEndpoint struct {
	recvQ []udpDatagram
	maxQ  int
}

type udpKey struct {
	ip   [4]byte
	port uint16
}

// udpPortTable demultiplexes inbound datagrams by (local addr or wildcard,
// local port) per spec.md §4.5.
type udpPortTable struct {
	mu       sync.Mutex
	bound    map[udpKey]*Socket
	wildcard map[uint16]*Socket
	nextEph  uint16
}

func newUDPPortTable() *udpPortTable {
	return &udpPortTable{
		bound:    make(map[udpKey]*Socket),
		wildcard: make(map[uint16]*Socket),
		nextEph:  ephemeralPortBase,
	}
}

func (t *udpPortTable) bind(s *Socket, ip [4]byte, port uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if port == 0 {
		for i := 0; i < 1<<16; i++ {
			cand := t.nextEph
			t.nextEph++
			if t.nextEph == 0 {
				t.nextEph = ephemeralPortBase
			}
			if !t.inUseLocked(ip, cand) {
				port = cand
				break
			}
		}
		if port == 0 {
			return kernel.EADDRINUSE
		}
	} else if t.inUseLocked(ip, port) && !s.ReuseAddr {
		return kernel.EADDRINUSE
	}

	s.Local = Addr{IP: ip, Port: port}
	if ip == ([4]byte{}) {
		t.wildcard[port] = s
	} else {
		t.bound[udpKey{ip, port}] = s
	}
	return nil
}

func (t *udpPortTable) inUseLocked(ip [4]byte, port uint16) bool {
	if ip == ([4]byte{}) {
		_, ok := t.wildcard[port]
		return ok
	}
	if _, ok := t.bound[udpKey{ip, port}]; ok {
		return true
	}
	_, ok := t.wildcard[port]
	return ok
}

func (t *udpPortTable) lookup(dstIP [4]byte, dstPort uint16) (*Socket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.bound[udpKey{dstIP, dstPort}]; ok {
		return s, true
	}
	s, ok := t.wildcard[dstPort]
	return s, ok
}

func (t *udpPortTable) unbind(s *Socket) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.Local.IP == ([4]byte{}) {
		delete(t.wildcard, s.Local.Port)
	} else {
		delete(t.bound, udpKey{s.Local.IP, s.Local.Port})
	}
}

// udpOps implements Ops for SOCK_DGRAM sockets (spec.md §4.5).
type udpOps struct{}

func (udpOps) ensure(s *Socket) *udpEndpoint {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.Impl == nil {
		s.Impl = &udpEndpoint{maxQ: 128}
	}
	return s.Impl.(*udpEndpoint)
}

func (o udpOps) Bind(s *Socket, addr Addr) error {
	o.ensure(s)
	if s.stack == nil {
		return kernel.EINVAL
	}
	if err := s.stack.udp.bind(s, addr.IP, addr.Port); err != nil {
		return err
	}
	s.lock.Lock()
	s.Bound = true
	s.lock.Unlock()
	return nil
}

func (o udpOps) Connect(_ context.Context, s *Socket, addr Addr) error {
	s.lock.Lock()
	if !s.Bound {
		s.lock.Unlock()
		if err := o.Bind(s, Addr{}); err != nil {
			return err
		}
		s.lock.Lock()
	}
	s.Foreign = addr
	s.Connected = true
	s.lock.Unlock()
	return nil
}

func (udpOps) Listen(*Socket, int) error { return kernel.ENOSYS }

func (udpOps) Accept(context.Context, *Socket) (*Socket, error) { return nil, kernel.ENOSYS }

func (o udpOps) Send(ctx context.Context, s *Socket, b []byte) (int, error) {
	s.lock.Lock()
	connected := s.Connected
	dst := s.Foreign
	s.lock.Unlock()
	if !connected {
		return 0, kernel.ENOTCONN
	}
	return o.SendTo(ctx, s, b, dst)
}

func (o udpOps) SendTo(_ context.Context, s *Socket, b []byte, addr Addr) (int, error) {
	s.lock.Lock()
	connected := s.Connected
	bound := s.Bound
	s.lock.Unlock()
	if connected {
		return 0, kernel.EISCONN
	}
	if len(b) > UDPMaxPayload {
		return 0, kernel.EMSGSIZE
	}
	if !bound {
		if err := o.Bind(s, Addr{}); err != nil {
			return 0, err
		}
	}

	total := kernel.UDPHeaderLength + len(b)
	msg := kernel.New(total)
	region, err := msg.Append(total)
	if err != nil {
		msg.Destroy()
		return 0, err
	}
	hdr := kernel.UDPHeader{SrcPort: s.Local.Port, DstPort: addr.Port, Length: uint16(total)}
	hdr.Marshal(region)
	copy(region[kernel.UDPHeaderLength:], b)

	srcIP, _, ok := s.stack.Routes.SrcAddr(addr.IP)
	if !ok {
		msg.Destroy()
		return 0, kernel.EHOSTUNREACH
	}
	cksum := kernel.UDPChecksum(srcIP, addr.IP, region)
	region[6] = byte(cksum >> 8)
	region[7] = byte(cksum)

	s.stack.Metrics.UDPSent.Inc()
	if err := s.stack.ipEgress(addr.IP, kernel.IPPROTO_UDP, false, msg); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (o udpOps) Recv(ctx context.Context, s *Socket, b []byte) (int, error) {
	n, _, err := o.RecvFrom(ctx, s, b)
	return n, err
}

func (o udpOps) RecvFrom(ctx context.Context, s *Socket, b []byte) (int, Addr, error) {
	ep := o.ensure(s)
	s.lock.Lock()
	for len(ep.recvQ) == 0 {
		if s.Closed {
			s.lock.Unlock()
			return 0, Addr{}, kernel.EBADF
		}
		if s.NonBlock {
			s.lock.Unlock()
			return 0, Addr{}, kernel.EAGAIN
		}
		if err := s.RecvCond.Wait(socketWaitContext(ctx, s.RcvTimeout)); err != nil {
			s.lock.Unlock()
			return 0, Addr{}, translateWaitErr(err)
		}
	}
	dg := ep.recvQ[0]
	ep.recvQ = ep.recvQ[1:]
	s.lock.Unlock()

	n := copy(b, dg.payload)
	return n, dg.from, nil
}

func (o udpOps) Close(s *Socket) error {
	if s.stack != nil && s.Bound {
		s.stack.udp.unbind(s)
	}
	return nil
}

func (udpOps) Ready(s *Socket) Events {
	ep, _ := s.Impl.(*udpEndpoint)
	var ev Events
	s.lock.Lock()
	if ep != nil && len(ep.recvQ) > 0 {
		ev |= EventRead
	}
	s.lock.Unlock()
	ev |= EventWrite // UDP send never blocks once routed
	return ev
}

// udpIngress demultiplexes a received UDP datagram (spec.md §4.5).
func (s *Stack) udpIngress(nic *NIC, msg *kernel.Message) error {
	raw := msg.Bytes()
	if len(raw) < kernel.UDPHeaderLength {
		s.Metrics.UDPDropped.Inc()
		return kernel.EINVAL
	}
	hdr, err := kernel.UnmarshalUDPHeader(raw)
	if err != nil {
		s.Metrics.UDPDropped.Inc()
		return err
	}
	if !kernel.UDPVerifyChecksum(msg.SrcIP, msg.DstIP, raw, hdr.Checksum) {
		s.Metrics.UDPDropped.Inc()
		return kernel.EINVAL
	}

	sock, ok := s.udp.lookup(msg.DstIP, hdr.DstPort)
	if !ok {
		s.Metrics.UDPDropped.Inc()
		ipHdr := make([]byte, kernel.IPv4HeaderLength+8)
		return s.icmpPortUnreachable(msg.SrcIP, ipHdr)
	}

	payload := append([]byte(nil), raw[kernel.UDPHeaderLength:]...)
	ep := udpOps{}.ensure(sock)

	sock.lock.Lock()
	if len(ep.recvQ) >= ep.maxQ {
		sock.lock.Unlock()
		s.Metrics.UDPDropped.Inc()
		return nil
	}
	ep.recvQ = append(ep.recvQ, udpDatagram{from: Addr{IP: msg.SrcIP, Port: hdr.SrcPort}, payload: payload})
	sock.lock.Unlock()
	sock.notify(EventRead)
	s.Metrics.UDPDelivered.Inc()
	return nil
}

// socketWaitContext converts a socket timeout duration into a derived,
// cancellable context (spec.md §4.7: "Timeouts convert a timeval to ticks
// with saturation" -- this kernel runs on wall-clock contexts instead of the
// tick counter for blocking waits, since only the TCP timers need tick
// granularity).
func socketWaitContext(ctx context.Context, d time.Duration) context.Context {
	if d <= 0 {
		return ctx
	}
	c, cancel := context.WithTimeout(ctx, d)
	_ = cancel // the context is short-lived per call; leaks are bounded by d
	return c
}

func translateWaitErr(err error) error {
	switch err {
	case sync2.ErrTimeout:
		return kernel.ETIMEDOUT
	case sync2.ErrCancelled:
		return kernel.EINTR
	default:
		return err
	}
}

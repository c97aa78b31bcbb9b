package netstack

import (
	"context"
	"sync"
	"time"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/sync2"
)

// Address family / socket type constants (spec.md §6).
const (
	AF_INET = 2

	SOCK_STREAM = 1
	SOCK_DGRAM  = 2
	SOCK_RAW    = 3
)

// setsockopt option names (spec.md §6).
const (
	SOL_SOCKET = 1

	SO_SNDTIMEO  = 1
	SO_RCVTIMEO  = 2
	SO_REUSEADDR = 3
	SO_NONBLOCK  = 4
)

// Addr is an AF_INET socket address.
type Addr struct {
	IP   [4]byte
	Port uint16
}

// Events is a select/poll readiness mask (spec.md §4.7).
type Events uint8

const (
	EventRead Events = 1 << iota
	EventWrite
)

// Ops is the per-protocol vtable spec.md §3 calls "the protocol-specific
// operations table". Every call takes the owning Socket so a single Ops
// implementation (e.g. the TCP ops) can be shared across every TCP socket.
type Ops interface {
	Bind(s *Socket, addr Addr) error
	Connect(ctx context.Context, s *Socket, addr Addr) error
	Listen(s *Socket, backlog int) error
	Accept(ctx context.Context, s *Socket) (*Socket, error)
	Send(ctx context.Context, s *Socket, b []byte) (int, error)
	Recv(ctx context.Context, s *Socket, b []byte) (int, error)
	SendTo(ctx context.Context, s *Socket, b []byte, addr Addr) (int, error)
	RecvFrom(ctx context.Context, s *Socket, b []byte) (int, Addr, error)
	Close(s *Socket) error
}

type waiter struct {
	mask Events
	sem  *sync2.Semaphore
	seen Events
}

// Socket is the polymorphic socket of spec.md §3: common state shared by
// every variant (TCP/UDP/raw), dispatching protocol-specific behavior
// through Ops. Reference-counted per spec.md §5; Close marks the socket
// dead, wakes every waiter and removes the Socket from its table at once,
// whatever its refcount.
type Socket struct {
	lock sync2.Spinlock

	Domain int
	Type   int
	Proto  int

	Local, Foreign Addr
	Bound          bool
	Connected      bool
	Closed         bool
	Err            error

	SndTimeout time.Duration
	RcvTimeout time.Duration
	ReuseAddr  bool
	NonBlock   bool

	Ops  Ops
	Impl interface{} // protocol payload: *udpEndpoint or *tcb

	SendCond *sync2.Cond
	RecvCond *sync2.Cond

	Backlog     int
	acceptQueue []*Socket
	Parent      *Socket

	waiters []*waiter
	refs    sync2.RefCount

	stack *Stack
}

func newSocket(stack *Stack, domain, typ, proto int, ops Ops) *Socket {
	s := &Socket{
		Domain: domain,
		Type:   typ,
		Proto:  proto,
		Ops:    ops,
		stack:  stack,
		refs:   sync2.NewRefCount(),
	}
	s.SendCond = sync2.NewCond(&s.lock)
	s.RecvCond = sync2.NewCond(&s.lock)
	return s
}

// Retain bumps the socket's reference count (spec.md §5).
func (s *Socket) Retain() *Socket {
	s.refs.Retain()
	return s
}

// Release drops a reference; the caller that drops the last one is
// responsible for any variant-specific teardown (TCP TCB release, UDP
// endpoint deregistration), already performed by Ops.Close before the
// refcount reaches zero in practice.
func (s *Socket) Release() {
	s.refs.Release()
}

// SetError sets the sticky socket.error field of spec.md §7 and wakes
// anything waiting on this socket so it observes the failure.
func (s *Socket) SetError(err error) {
	s.lock.Lock()
	s.Err = err
	s.lock.Unlock()
	s.notify(EventRead | EventWrite)
}

// notify signals every waiter whose mask intersects events and wakes any
// condition-variable waiter too (spec.md §4.7).
func (s *Socket) notify(events Events) {
	s.lock.Lock()
	for _, w := range s.waiters {
		if w.mask&events != 0 {
			w.seen |= events & w.mask
			w.sem.Up()
		}
	}
	s.lock.Unlock()
	s.SendCond.Broadcast()
	s.RecvCond.Broadcast()
}

// addWaiter records a select waiter (spec.md §4.7); removeWaiter undoes it
// on cancellation. Both are called without s.lock held.
func (s *Socket) addWaiter(mask Events, sem *sync2.Semaphore) *waiter {
	w := &waiter{mask: mask, sem: sem}
	s.lock.Lock()
	s.waiters = append(s.waiters, w)
	s.lock.Unlock()
	return w
}

func (s *Socket) removeWaiter(w *waiter) {
	s.lock.Lock()
	for i, e := range s.waiters {
		if e == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			break
		}
	}
	s.lock.Unlock()
}

// SocketTable is the process-wide socket registry (spec.md §9's "socket
// list"). TCP and UDP each additionally keep their own demux index (by
// local/foreign tuple, or by local port); SocketTable is only the create/
// close bookkeeping layer shared by every variant.
type SocketTable struct {
	mu      sync.Mutex
	sockets map[*Socket]struct{}
	stack   *Stack
}

// NewSocketTable creates an empty socket table bound to stack.
func NewSocketTable(stack *Stack) *SocketTable {
	return &SocketTable{sockets: make(map[*Socket]struct{}), stack: stack}
}

// Create implements spec.md §4.7's create(domain, type, proto): yields a
// ref-counted socket bound to the right ops table.
func (t *SocketTable) Create(domain, typ, proto int) (*Socket, error) {
	if domain != AF_INET {
		return nil, kernel.EINVAL
	}
	var ops Ops
	switch typ {
	case SOCK_DGRAM:
		ops = udpOps{}
	case SOCK_STREAM:
		ops = tcpOps{}
	default:
		return nil, kernel.EINVAL
	}
	s := newSocket(t.stack, domain, typ, proto, ops)
	t.mu.Lock()
	t.sockets[s] = struct{}{}
	t.mu.Unlock()
	return s, nil
}

func (t *SocketTable) forget(s *Socket) {
	t.mu.Lock()
	delete(t.sockets, s)
	t.mu.Unlock()
}

// Bind/Connect/Listen/Accept/Send/Recv/SendTo/RecvFrom/Close/SetSockOpt are
// thin delegations to the socket's Ops table (spec.md §4.7).

func (s *Socket) Bind(addr Addr) error { return s.Ops.Bind(s, addr) }

func (s *Socket) Connect(ctx context.Context, addr Addr) error {
	return s.Ops.Connect(ctx, s, addr)
}

func (s *Socket) Listen(backlog int) error { return s.Ops.Listen(s, backlog) }

func (s *Socket) Accept(ctx context.Context) (*Socket, error) {
	return s.Ops.Accept(ctx, s)
}

func (s *Socket) Send(ctx context.Context, b []byte) (int, error) {
	return s.Ops.Send(ctx, s, b)
}

func (s *Socket) Recv(ctx context.Context, b []byte) (int, error) {
	return s.Ops.Recv(ctx, s, b)
}

func (s *Socket) SendTo(ctx context.Context, b []byte, addr Addr) (int, error) {
	return s.Ops.SendTo(ctx, s, b, addr)
}

func (s *Socket) RecvFrom(ctx context.Context, b []byte) (int, Addr, error) {
	return s.Ops.RecvFrom(ctx, s, b)
}

func (s *Socket) Close() error {
	err := s.Ops.Close(s)
	s.lock.Lock()
	s.Closed = true
	s.lock.Unlock()
	s.notify(EventRead | EventWrite)
	if s.stack != nil {
		s.stack.Sockets.forget(s)
	}
	return err
}

// SetSockOpt implements the SOL_SOCKET options of spec.md §6.
func (s *Socket) SetSockOpt(option int, value interface{}) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	switch option {
	case SO_SNDTIMEO:
		d, ok := value.(time.Duration)
		if !ok {
			return kernel.EINVAL
		}
		s.SndTimeout = d
	case SO_RCVTIMEO:
		d, ok := value.(time.Duration)
		if !ok {
			return kernel.EINVAL
		}
		s.RcvTimeout = d
	case SO_REUSEADDR:
		b, ok := value.(bool)
		if !ok {
			return kernel.EINVAL
		}
		s.ReuseAddr = b
	case SO_NONBLOCK:
		b, ok := value.(bool)
		if !ok {
			return kernel.EINVAL
		}
		s.NonBlock = b
	default:
		return kernel.ENOSYS
	}
	return nil
}

package kernel

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultHeadroom is the minimum free space left before start on a freshly
// allocated Message, enough for an Ethernet + IPv4 header without a copy
// (spec.md §3: "default headroom of at least 128 bytes").
const DefaultHeadroom = 128

// MinMessageSize is the smallest buffer New/Create will allocate storage for.
const MinMessageSize = 1536

var msgLog = logrus.WithField("component", "net_msg")

// Message is the net_msg of spec.md §3: a byte buffer with three cursors —
// data (allocation base, always 0 here), start (first used byte) and end
// (one past the last used byte) — plus per-layer header offsets and routing
// metadata. Exactly one queue owns a Message at a time (spec.md §3); this
// type does not enforce that itself (queues are plain Go slices/channels of
// *Message), but Destroy treats a release below zero (more Destroy calls
// than the creation plus Retain references) as fatal, which is the closest a
// hosted process gets to spec.md §7's "freeing a referenced message is
// fatal". Clone returns an independent copy with its own refcount.
type Message struct {
	mu sync.Mutex

	buf   []byte
	start int
	end   int

	refs int32

	// Per-layer header offsets, -1 when not set.
	EthOffset  int
	ArpOffset  int
	IPOffset   int
	ICMPOffset int
	TCPOffset  int
	UDPOffset  int

	// Routing metadata (spec.md §3).
	SrcIP    [4]byte
	DstIP    [4]byte
	IPLength int
	Protocol uint8
	DF       bool
	NIC      interface{} // back-reference to the owning NIC; typed by netstack
}

func noOffsets() (eth, arp, ip, icmp, tcp, udp int) { return -1, -1, -1, -1, -1, -1 }

// New allocates a Message with DefaultHeadroom and room for size data bytes
// after it, per spec.md §4.1's new(size).
func New(size int) *Message {
	return Create(size, DefaultHeadroom)
}

// Create allocates a Message with the given headroom reserved before start
// and room for size bytes after it, rounding the whole buffer up to
// MinMessageSize when headroom+size is smaller (spec.md §4.1's
// create(size, headroom)).
func Create(size, headroom int) *Message {
	total := headroom + size
	if total < MinMessageSize {
		total = MinMessageSize
	}
	m := &Message{
		buf:   make([]byte, total),
		start: headroom,
		end:   headroom,
		refs:  1,
	}
	m.EthOffset, m.ArpOffset, m.IPOffset, m.ICMPOffset, m.TCPOffset, m.UDPOffset = noOffsets()
	return m
}

// FromBytes wraps an already-received frame (e.g. from a NIC driver or a
// pcap replay) as a Message with no spare headroom before start — ingress
// paths only ever need to look at and trim the front, not prepend to it.
func FromBytes(b []byte) *Message {
	m := &Message{
		buf:   b,
		start: 0,
		end:   len(b),
		refs:  1,
	}
	m.EthOffset, m.ArpOffset, m.IPOffset, m.ICMPOffset, m.TCPOffset, m.UDPOffset = noOffsets()
	return m
}

// Len returns the number of used bytes (end - start).
func (m *Message) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.end - m.start
}

// Bytes returns the used region [start:end). The returned slice aliases the
// Message's storage and must not be retained past the Message's lifetime.
func (m *Message) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf[m.start:m.end]
}

// Headroom returns start, i.e. how many bytes Prepend could still claim.
func (m *Message) Headroom() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.start
}

// Tailroom returns how many bytes Append could still claim.
func (m *Message) Tailroom() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf) - m.end
}

// Prepend moves start back by n bytes and returns the freed region, failing
// with EOVERFLOW if start-data < n (spec.md §4.1).
func (m *Message) Prepend(n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || m.start < n {
		return nil, EOVERFLOW
	}
	m.start -= n
	return m.buf[m.start : m.start+n], nil
}

// Append moves end forward by n bytes and returns the freed region, failing
// with EOVERFLOW if length-(end-data) < n (spec.md §4.1).
func (m *Message) Append(n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || len(m.buf)-m.end < n {
		return nil, EOVERFLOW
	}
	region := m.buf[m.end : m.end+n]
	m.end += n
	return region, nil
}

// CutOff advances start by offset bytes, discarding a consumed header
// (spec.md §4.1).
func (m *Message) CutOff(offset int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset < 0 || m.start+offset > m.end {
		return EINVAL
	}
	m.start += offset
	return nil
}

// Truncate sets end so that exactly n bytes remain used, for receivers that
// discover the real payload length only after parsing a header (e.g. IP
// TotalLength may be shorter than the received frame's padding).
func (m *Message) Truncate(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || m.start+n > len(m.buf) {
		return EINVAL
	}
	m.end = m.start + n
	return nil
}

// Clone produces an independent copy of the Message's used bytes and
// metadata (spec.md §4.1). The clone starts with its own refcount of 1; it
// shares no storage with the original.
func (m *Message) Clone() *Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := &Message{
		buf:        append([]byte(nil), m.buf...),
		start:      m.start,
		end:        m.end,
		refs:       1,
		EthOffset:  m.EthOffset,
		ArpOffset:  m.ArpOffset,
		IPOffset:   m.IPOffset,
		ICMPOffset: m.ICMPOffset,
		TCPOffset:  m.TCPOffset,
		UDPOffset:  m.UDPOffset,
		SrcIP:      m.SrcIP,
		DstIP:      m.DstIP,
		IPLength:   m.IPLength,
		Protocol:   m.Protocol,
		DF:         m.DF,
		NIC:        m.NIC,
	}
	return cp
}

// Retain increments the reference count; pair with Destroy.
func (m *Message) Retain() *Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs++
	return m
}

// Destroy releases one reference. It is fatal (spec.md §7) to let a
// Message's refcount reach zero while something still depends on it; this
// surfaces as a logged Fatal rather than a silent corruption.
func (m *Message) Destroy() {
	m.mu.Lock()
	m.refs--
	refs := m.refs
	m.mu.Unlock()

	if refs < 0 {
		msgLog.WithField("refs", refs).Fatal("net_msg destroyed more times than retained")
	}
	if refs == 0 {
		m.buf = nil
	}
}

// Invariant reports whether data <= start <= end <= data+length holds
// (spec.md §8), for use in tests and debug assertions.
func (m *Message) Invariant() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return 0 <= m.start && m.start <= m.end && m.end <= len(m.buf)
}

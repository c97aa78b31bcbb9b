package kernel

import "encoding/binary"

// Ethernet, ARP, IPv4, UDP, TCP and ICMP wire formats (spec.md §6), plus the
// checksum and byte-order helpers every protocol layer needs.
//
// Headers are read and written through explicit encoding/binary calls
// rather than unsafe.Pointer casts over a fixed-layout struct: a wire
// buffer's byte order can't be assumed to match the host's.

const (
	ETH_ALEN            = 6
	ETHER_HEADER_LENGTH = 14

	ETH_P_IP  uint16 = 0x0800
	ETH_P_ARP uint16 = 0x0806

	ARPHRD_ETHER  uint16 = 0x0001
	ARPOP_REQUEST uint16 = 0x0001
	ARPOP_REPLY   uint16 = 0x0002

	IPPROTO_ICMP = 1
	IPPROTO_TCP  = 6
	IPPROTO_UDP  = 17

	IPv4HeaderLength  = 20
	UDPHeaderLength   = 8
	TCPHeaderMinLen   = 20
	ArpPacketLength   = 28
	IcmpHeaderLength  = 8
	TCPOptionMSSKind  = 2
	TCPOptionMSSLen   = 4
)

// MAC is a 6-byte hardware address.
type MAC [ETH_ALEN]byte

var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (m MAC) IsBroadcast() bool { return m == BroadcastMAC }

func (m MAC) String() string {
	const hex = "0123456789abcdef"
	b := make([]byte, 0, 17)
	for i, o := range m {
		if i > 0 {
			b = append(b, ':')
		}
		b = append(b, hex[o>>4], hex[o&0xf])
	}
	return string(b)
}

// EtherHeader is the 14-byte Ethernet II header.
type EtherHeader struct {
	Dest     MAC
	Source   MAC
	EtherType uint16
}

func (h EtherHeader) Marshal(b []byte) {
	copy(b[0:6], h.Dest[:])
	copy(b[6:12], h.Source[:])
	binary.BigEndian.PutUint16(b[12:14], h.EtherType)
}

func UnmarshalEtherHeader(b []byte) (EtherHeader, error) {
	if len(b) < ETHER_HEADER_LENGTH {
		return EtherHeader{}, EINVAL
	}
	var h EtherHeader
	copy(h.Dest[:], b[0:6])
	copy(h.Source[:], b[6:12])
	h.EtherType = binary.BigEndian.Uint16(b[12:14])
	return h, nil
}

// ArpPacket is an Ethernet/IPv4 ARP packet (RFC 826), 28 bytes.
type ArpPacket struct {
	HWType    uint16
	ProtoType uint16
	HWLen     uint8
	ProtoLen  uint8
	Op        uint16
	SenderMAC MAC
	SenderIP  [4]byte
	TargetMAC MAC
	TargetIP  [4]byte
}

func (p ArpPacket) Marshal(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], p.HWType)
	binary.BigEndian.PutUint16(b[2:4], p.ProtoType)
	b[4] = p.HWLen
	b[5] = p.ProtoLen
	binary.BigEndian.PutUint16(b[6:8], p.Op)
	copy(b[8:14], p.SenderMAC[:])
	copy(b[14:18], p.SenderIP[:])
	copy(b[18:24], p.TargetMAC[:])
	copy(b[24:28], p.TargetIP[:])
}

func UnmarshalArpPacket(b []byte) (ArpPacket, error) {
	if len(b) < ArpPacketLength {
		return ArpPacket{}, EINVAL
	}
	var p ArpPacket
	p.HWType = binary.BigEndian.Uint16(b[0:2])
	p.ProtoType = binary.BigEndian.Uint16(b[2:4])
	p.HWLen = b[4]
	p.ProtoLen = b[5]
	p.Op = binary.BigEndian.Uint16(b[6:8])
	copy(p.SenderMAC[:], b[8:14])
	copy(p.SenderIP[:], b[14:18])
	copy(p.TargetMAC[:], b[18:24])
	copy(p.TargetIP[:], b[24:28])
	return p, nil
}

// IPv4Header is a fixed 20-byte IPv4 header (no options).
type IPv4Header struct {
	VersionIHL  uint8
	TOS         uint8
	TotalLength uint16
	ID          uint16
	FlagsFrag   uint16
	TTL         uint8
	Protocol    uint8
	Checksum    uint16
	Src         [4]byte
	Dst         [4]byte
}

func (h IPv4Header) Version() uint8    { return h.VersionIHL >> 4 }
func (h IPv4Header) HeaderLen() uint8  { return h.VersionIHL & 0x0f }
func (h *IPv4Header) SetVersionIHL(v, ihl uint8) {
	h.VersionIHL = (v << 4) | (ihl & 0x0f)
}
func (h IPv4Header) DF() bool { return h.FlagsFrag&0x4000 != 0 }
func (h IPv4Header) MF() bool { return h.FlagsFrag&0x2000 != 0 }
func (h IPv4Header) FragOffset() uint16 { return h.FlagsFrag & 0x1fff }

func (h IPv4Header) Marshal(b []byte) {
	b[0] = h.VersionIHL
	b[1] = h.TOS
	binary.BigEndian.PutUint16(b[2:4], h.TotalLength)
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], h.FlagsFrag)
	b[8] = h.TTL
	b[9] = h.Protocol
	binary.BigEndian.PutUint16(b[10:12], h.Checksum)
	copy(b[12:16], h.Src[:])
	copy(b[16:20], h.Dst[:])
}

func UnmarshalIPv4Header(b []byte) (IPv4Header, error) {
	if len(b) < IPv4HeaderLength {
		return IPv4Header{}, EINVAL
	}
	var h IPv4Header
	h.VersionIHL = b[0]
	h.TOS = b[1]
	h.TotalLength = binary.BigEndian.Uint16(b[2:4])
	h.ID = binary.BigEndian.Uint16(b[4:6])
	h.FlagsFrag = binary.BigEndian.Uint16(b[6:8])
	h.TTL = b[8]
	h.Protocol = b[9]
	h.Checksum = binary.BigEndian.Uint16(b[10:12])
	copy(h.Src[:], b[12:16])
	copy(h.Dst[:], b[16:20])
	return h, nil
}

// UDPHeader is the 8-byte UDP header.
type UDPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

func (h UDPHeader) Marshal(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint16(b[4:6], h.Length)
	binary.BigEndian.PutUint16(b[6:8], h.Checksum)
}

func UnmarshalUDPHeader(b []byte) (UDPHeader, error) {
	if len(b) < UDPHeaderLength {
		return UDPHeader{}, EINVAL
	}
	var h UDPHeader
	h.SrcPort = binary.BigEndian.Uint16(b[0:2])
	h.DstPort = binary.BigEndian.Uint16(b[2:4])
	h.Length = binary.BigEndian.Uint16(b[4:6])
	h.Checksum = binary.BigEndian.Uint16(b[6:8])
	return h, nil
}

// TCP flag bits.
const (
	TH_FIN uint8 = 0x01
	TH_SYN uint8 = 0x02
	TH_RST uint8 = 0x04
	TH_PSH uint8 = 0x08
	TH_ACK uint8 = 0x10
	TH_URG uint8 = 0x20
	TH_ECE uint8 = 0x40
	TH_CWR uint8 = 0x80
)

// TCPHeader is the 20-byte minimum TCP header (spec.md §6).
type TCPHeader struct {
	SrcPort    uint16
	DstPort    uint16
	Seq        uint32
	Ack        uint32
	DataOffset uint8 // in 32-bit words
	Flags      uint8
	Window     uint16
	Checksum   uint16
	Urgent     uint16
}

func (h TCPHeader) Marshal(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(b[2:4], h.DstPort)
	binary.BigEndian.PutUint32(b[4:8], h.Seq)
	binary.BigEndian.PutUint32(b[8:12], h.Ack)
	b[12] = h.DataOffset << 4
	b[13] = h.Flags
	binary.BigEndian.PutUint16(b[14:16], h.Window)
	binary.BigEndian.PutUint16(b[16:18], h.Checksum)
	binary.BigEndian.PutUint16(b[18:20], h.Urgent)
}

func UnmarshalTCPHeader(b []byte) (TCPHeader, error) {
	if len(b) < TCPHeaderMinLen {
		return TCPHeader{}, EINVAL
	}
	var h TCPHeader
	h.SrcPort = binary.BigEndian.Uint16(b[0:2])
	h.DstPort = binary.BigEndian.Uint16(b[2:4])
	h.Seq = binary.BigEndian.Uint32(b[4:8])
	h.Ack = binary.BigEndian.Uint32(b[8:12])
	h.DataOffset = b[12] >> 4
	h.Flags = b[13]
	h.Window = binary.BigEndian.Uint16(b[14:16])
	h.Checksum = binary.BigEndian.Uint16(b[16:18])
	h.Urgent = binary.BigEndian.Uint16(b[18:20])
	return h, nil
}

// ICMPHeader is the common 8-byte ICMP header prefix.
type ICMPHeader struct {
	Type     uint8
	Code     uint8
	Checksum uint16
	ID       uint16
	Seq      uint16
}

func (h ICMPHeader) Marshal(b []byte) {
	b[0] = h.Type
	b[1] = h.Code
	binary.BigEndian.PutUint16(b[2:4], h.Checksum)
	binary.BigEndian.PutUint16(b[4:6], h.ID)
	binary.BigEndian.PutUint16(b[6:8], h.Seq)
}

func UnmarshalICMPHeader(b []byte) (ICMPHeader, error) {
	if len(b) < IcmpHeaderLength {
		return ICMPHeader{}, EINVAL
	}
	var h ICMPHeader
	h.Type = b[0]
	h.Code = b[1]
	h.Checksum = binary.BigEndian.Uint16(b[2:4])
	h.ID = binary.BigEndian.Uint16(b[4:6])
	h.Seq = binary.BigEndian.Uint16(b[6:8])
	return h, nil
}

const (
	ICMPEchoReply      = 0
	ICMPEchoRequest    = 8
	ICMPDestUnreach    = 3
	ICMPCodePortUnreach = 3
)

// Checksum16 computes the Internet checksum (RFC 1071) over b using a 32-bit
// accumulator with end-around carry, the same algorithm as
// ndisapi.go's RecalculateIPChecksum/RecalculateTCPChecksum but expressed
// once for every caller instead of duplicated per protocol.
func Checksum16(b []byte) uint16 {
	return checksumFold(partialChecksum(0, b))
}

// partialChecksum accumulates b into an in-progress 32-bit sum so pseudo
// headers and payloads can be folded together before the final complement.
func partialChecksum(sum uint32, b []byte) uint32 {
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	return sum
}

func checksumFold(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// PseudoHeaderChecksum computes the IPv4 pseudo-header checksum contribution used by
// UDP and TCP (spec.md §6).
func PseudoHeaderChecksum(src, dst [4]byte, protocol uint8, length uint16) uint32 {
	var buf [12]byte
	copy(buf[0:4], src[:])
	copy(buf[4:8], dst[:])
	buf[8] = 0
	buf[9] = protocol
	binary.BigEndian.PutUint16(buf[10:12], length)
	return partialChecksum(0, buf[:])
}

// IPv4Checksum computes the header-only checksum for an IPv4 header (spec.md
// §4.4: "checksum over header only").
func IPv4Checksum(headerBytes []byte) uint16 {
	return Checksum16(headerBytes)
}

// TCPChecksum computes the TCP checksum over the pseudo-header, TCP header
// and payload.
func TCPChecksum(src, dst [4]byte, tcpSegment []byte) uint16 {
	sum := PseudoHeaderChecksum(src, dst, IPPROTO_TCP, uint16(len(tcpSegment)))
	sum = partialChecksum(sum, tcpSegment)
	return checksumFold(sum)
}

// UDPChecksum computes the UDP checksum over the pseudo-header, UDP header
// and payload. Per spec.md §4.5, a computed checksum of 0 is sent as
// 0xffff (all-ones), since 0 means "no checksum" on the wire.
func UDPChecksum(src, dst [4]byte, udpSegment []byte) uint16 {
	sum := PseudoHeaderChecksum(src, dst, IPPROTO_UDP, uint16(len(udpSegment)))
	sum = partialChecksum(sum, udpSegment)
	c := checksumFold(sum)
	if c == 0 {
		return 0xffff
	}
	return c
}

// UDPVerifyChecksum reports whether a received UDP segment's checksum is
// valid. Per spec.md §4.5, a received checksum of 0 means "no checksum
// sent" and is accepted without verification.
func UDPVerifyChecksum(src, dst [4]byte, udpSegment []byte, received uint16) bool {
	if received == 0 {
		return true
	}
	sum := PseudoHeaderChecksum(src, dst, IPPROTO_UDP, uint16(len(udpSegment)))
	sum = partialChecksum(sum, udpSegment)
	return checksumFold(sum) == 0
}

// Htons/Ntohs/Htonl/Ntohl are kept for callers ported from wire-byte-order C
// code that expects to swap raw little-endian buffers explicitly. Here they
// are no-ops: every Marshal/Unmarshal pair above already converts
// at the byte-slice boundary via encoding/binary, so struct fields are always
// host-native by the time protocol code touches them.
func Htons(v uint16) uint16 { return v }
func Ntohs(v uint16) uint16 { return v }
func Htonl(v uint32) uint32 { return v }
func Ntohl(v uint32) uint32 { return v }

//go:build linux

package netstack

import (
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/nanokern/corekit"
)

// RawNIC is the demo NIC driver of SPEC_FULL.md's Domain Stack: an
// AF_PACKET loopback interface used for manual end-to-end runs, wrapping
// a live OS socket handle. It stays behind a Linux build tag: the Driver
// contract itself (nic.go) is host-agnostic, and only this one
// implementation touches the OS.
type RawNIC struct {
	fd   int
	name string
	mac  kernel.MAC
	mtu  int
	log  *logrus.Entry
}

// NewRawNIC opens an AF_PACKET/SOCK_RAW socket bound to the named
// interface (e.g. "lo", "eth0") and wraps it as a netstack.Driver.
func NewRawNIC(ifaceName string) (*RawNIC, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("rawnic: %w", err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, htons(unix.ETH_P_ALL))
	if err != nil {
		return nil, fmt.Errorf("rawnic: socket: %w", err)
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: uint16(htons(unix.ETH_P_ALL)),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rawnic: bind: %w", err)
	}

	var mac kernel.MAC
	copy(mac[:], iface.HardwareAddr)

	return &RawNIC{
		fd:   fd,
		name: ifaceName,
		mac:  mac,
		mtu:  iface.MTU,
		log:  logrus.WithField("component", "rawnic").WithField("iface", ifaceName),
	}, nil
}

func htons(v int) int { return int(uint16(v)>>8) | int(uint16(v)<<8&0xff00) }

// TxMsg writes the frame's used bytes directly to the AF_PACKET socket.
// Per spec.md §6 this must never block; a raw-socket write to a bound
// interface does not block the way a buffered stream write would.
func (n *RawNIC) TxMsg(msg *kernel.Message) error {
	if _, err := unix.Write(n.fd, msg.Bytes()); err != nil {
		n.log.WithError(err).Warn("raw nic tx failed")
		return kernel.EHOSTUNREACH
	}
	return nil
}

// GetConfig reports this interface's MAC and MTU.
func (n *RawNIC) GetConfig() (Config, error) {
	return Config{Name: n.name, MAC: n.mac, MTU: n.mtu}, nil
}

// Debug logs the current fd and interface, for manual troubleshooting.
func (n *RawNIC) Debug() {
	n.log.WithField("fd", n.fd).Info("rawnic state")
}

// Run blocks reading frames from the socket and feeding each one to
// stack's Ethernet ingress, until the socket read fails (typically because
// Close was called). Callers run this in its own goroutine; its loop hands
// frames to Stack.EthernetIngress one at a time, which is the
// one-frame-at-a-time discipline spec.md §5 requires (EthernetIngress
// itself takes no lock to enforce it).
func (n *RawNIC) Run(stack *Stack, nic *NIC) error {
	buf := make([]byte, 65536)
	for {
		nread, _, err := unix.Recvfrom(n.fd, buf, 0)
		if err != nil {
			return err
		}
		if nread < 14 {
			continue
		}
		frame := make([]byte, nread)
		copy(frame, buf[:nread])
		if err := stack.EthernetIngress(nic, kernel.FromBytes(frame)); err != nil {
			n.log.WithError(err).Debug("ethernet ingress error")
		}
	}
}

// Close releases the underlying socket.
func (n *RawNIC) Close() error {
	return unix.Close(n.fd)
}

// Package netstack implements spec.md's networking core: the Ethernet
// layer, ARP cache, IP router/engine, ICMP, UDP, TCP, and the generic
// socket layer that multiplexes over them (spec.md §4.2-§4.7).
//
// NIC wraps a driver object with its addressing state (handle, current MAC,
// MTU). Rather than a multi-stage read/process/write channel pipeline,
// Stack's single-ingress-call-per-NIC discipline (spec.md §5) handles one
// frame synchronously from driver callback through to completion, since
// this spec requires "a message received from the NIC is handled to
// completion before the next one".
package netstack

import (
	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/sync2"
)

// DefaultMTUEthernet and DefaultMTUOther are the interface MTUs spec.md
// §4.4 names ("default 576 or 1500 on Ethernet").
const (
	DefaultMTUEthernet = 1500
	DefaultMTUOther    = 576
)

// Config is what a driver reports via GetConfig (spec.md §6).
type Config struct {
	Name string
	MAC  kernel.MAC
	MTU  int
}

// Driver is the NIC driver contract of spec.md §6: tx_msg must never block
// or sleep, since the IP/Ethernet TX path runs with a spinlock held
// (spec.md §5). Ingress is the reverse direction: a driver calls
// Stack.EthernetIngress itself once it has a frame, rather than the stack
// polling the driver.
type Driver interface {
	TxMsg(msg *kernel.Message) error
	GetConfig() (Config, error)
	Debug()
}

// NIC is a registered network interface: a driver plus the addressing state
// IP/ARP/Ethernet need (spec.md §4.2-§4.4).
type NIC struct {
	lock sync2.Spinlock

	Index  int
	Name   string
	Driver Driver
	MAC    kernel.MAC
	MTU    int

	// Primary IPv4 address and network mask; spec.md doesn't model
	// multi-address interfaces, so one of each is enough.
	IP      [4]byte
	Netmask [4]byte
}

// TxLock serializes transmit on this NIC, matching spec.md §5's "per-NIC TX
// is serialized by the NIC TX spinlock".
func (n *NIC) TxLock() *sync2.Spinlock { return &n.lock }

// Broadcast reports whether ip is this NIC's broadcast address.
func (n *NIC) Broadcast(ip [4]byte) bool {
	for i := 0; i < 4; i++ {
		if ip[i] != (n.IP[i] | ^n.Netmask[i]) {
			return false
		}
	}
	return true
}

// SameSubnet reports whether ip shares this NIC's network prefix.
func (n *NIC) SameSubnet(ip [4]byte) bool {
	for i := 0; i < 4; i++ {
		if ip[i]&n.Netmask[i] != n.IP[i]&n.Netmask[i] {
			return false
		}
	}
	return true
}

// Registry holds every NIC the stack knows about, indexed by name.
type Registry struct {
	lock sync2.Spinlock
	nics map[string]*NIC
	next int
}

// NewRegistry creates an empty NIC registry.
func NewRegistry() *Registry {
	return &Registry{nics: make(map[string]*NIC)}
}

// Add registers a NIC under name, assigning it the next interface index.
func (r *Registry) Add(name string, driver Driver, mac kernel.MAC, ip, netmask [4]byte, mtu int) *NIC {
	r.lock.Lock()
	defer r.lock.Unlock()

	n := &NIC{
		Index:   r.next,
		Name:    name,
		Driver:  driver,
		MAC:     mac,
		MTU:     mtu,
		IP:      ip,
		Netmask: netmask,
	}
	r.next++
	r.nics[name] = n
	return n
}

// Get looks up a NIC by name.
func (r *Registry) Get(name string) (*NIC, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	n, ok := r.nics[name]
	return n, ok
}

// All returns every registered NIC.
func (r *Registry) All() []*NIC {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]*NIC, 0, len(r.nics))
	for _, n := range r.nics {
		out = append(out, n)
	}
	return out
}

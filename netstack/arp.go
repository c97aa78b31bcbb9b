package netstack

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/timerq"
)

// ARP cache parameters from spec.md §3/§4.3.
const (
	ARPCacheCapacity = 1024
	ARPMaxPending    = 1024
	ARPRetryDelay    = timerq.Tick(10) // 100ms at 100Hz
	ARPMaxRetries    = 5
)

// ARPState is an entry's lifecycle stage (spec.md §3).
type ARPState int

const (
	ARPFree ARPState = iota
	ARPIncomplete
	ARPValid
)

// ARPResult is resolve's outcome (spec.md §4.3).
type ARPResult int

const (
	// ARPHit means the MAC was already known; the caller should transmit now.
	ARPHit ARPResult = iota
	// ARPTrigger means this call transitioned FREE->INCOMPLETE and sent the
	// first broadcast request; the caller's message has been queued.
	ARPTrigger
	// ARPQueued means the entry was already INCOMPLETE; the message was
	// queued behind others already waiting.
	ARPQueued
	// ARPNone means the entry's pending queue is full; the caller should
	// treat the destination as host-unreachable. (An entry whose retries are
	// exhausted is removed, so the next resolve for it starts over with
	// ARPTrigger.)
	ARPNone
)

type arpEntry struct {
	state        ARPState
	ip           [4]byte
	mac          kernel.MAC
	nic          *NIC
	pending      []*kernel.Message
	retries      int
	timer        *timerq.Timer
}

// Cache is the ARP table of spec.md §3/§4.3: IPv4->MAC resolution with a
// bounded pending-frame queue per incomplete entry, re-sending the request
// every ARPRetryDelay (a fixed interval, up to ARPMaxRetries times) via the
// stack's shared TimerWheel.
//
// Per-flow state lives in a map guarded by a single mutex, the same shape
// a NAT session table would use, but expiry is driven from the stack's
// TimerWheel instead of a free-running goroutine, since spec.md §9 mandates
// one shared tick source.
type Cache struct {
	mu      sync.Mutex
	entries map[[4]byte]*arpEntry
	stack   *Stack
	log     *logrus.Entry
}

// NewCache creates an empty ARP cache bound to stack for timers and egress.
func NewCache(stack *Stack) *Cache {
	return &Cache{
		entries: make(map[[4]byte]*arpEntry),
		stack:   stack,
		log:     logrus.WithField("component", "arp"),
	}
}

// Resolve implements spec.md §4.3's resolve(nic, ip). msg, if non-nil, is
// queued when the result is not an immediate HIT.
func (c *Cache) Resolve(nic *NIC, ip [4]byte, msg *kernel.Message) (kernel.MAC, ARPResult) {
	c.mu.Lock()

	e, ok := c.entries[ip]
	if ok && e.state == ARPValid {
		mac := e.mac
		c.mu.Unlock()
		return mac, ARPHit
	}

	if !ok {
		if len(c.entries) >= ARPCacheCapacity {
			c.evictOneLocked()
		}
		e = &arpEntry{state: ARPFree, ip: ip, nic: nic}
		c.entries[ip] = e
	}

	switch e.state {
	case ARPFree:
		e.state = ARPIncomplete
		e.nic = nic
		e.retries = 1
		if msg != nil {
			e.pending = append(e.pending, msg)
		}
		c.armRetryLocked(e)
		c.mu.Unlock()
		c.sendRequestLocked(nic, ip)
		return kernel.MAC{}, ARPTrigger
	case ARPIncomplete:
		if msg != nil {
			if len(e.pending) >= ARPMaxPending {
				c.mu.Unlock()
				return kernel.MAC{}, ARPNone
			}
			e.pending = append(e.pending, msg)
		}
		c.mu.Unlock()
		return kernel.MAC{}, ARPQueued
	default:
		c.mu.Unlock()
		return kernel.MAC{}, ARPNone
	}
}

// evictOneLocked drops an arbitrary FREE/VALID entry to make room; called
// with c.mu held. INCOMPLETE entries are never evicted since their pending
// queue would be orphaned.
func (c *Cache) evictOneLocked() {
	for ip, e := range c.entries {
		if e.state != ARPIncomplete {
			delete(c.entries, ip)
			return
		}
	}
}

func (c *Cache) armRetryLocked(e *arpEntry) {
	if c.stack == nil || c.stack.Timers == nil {
		return
	}
	ip := e.ip
	e.timer = c.stack.Timers.Schedule(e.timer, ARPRetryDelay, func(timerq.Tick) {
		c.onRetry(ip)
	})
}

func (c *Cache) onRetry(ip [4]byte) {
	c.mu.Lock()
	e, ok := c.entries[ip]
	if !ok || e.state != ARPIncomplete {
		c.mu.Unlock()
		return
	}
	if e.retries >= ARPMaxRetries {
		pending := e.pending
		nic := e.nic
		delete(c.entries, ip)
		c.mu.Unlock()
		for _, m := range pending {
			c.log.WithField("ip", ip).Warn("arp resolution exhausted, dropping queued frame")
			m.Destroy()
		}
		_ = nic
		return
	}
	e.retries++
	nic := e.nic
	c.armRetryLocked(e)
	c.mu.Unlock()
	c.sendRequestLocked(nic, ip)
}

// sendRequestLocked builds and transmits a broadcast ARP request. Despite
// the name it must be called without c.mu held (it calls back into
// Ethernet egress).
func (c *Cache) sendRequestLocked(nic *NIC, ip [4]byte) {
	if c.stack == nil {
		return
	}
	msg := kernel.New(kernel.ArpPacketLength)
	body, err := msg.Append(kernel.ArpPacketLength)
	if err != nil {
		return
	}
	pkt := kernel.ArpPacket{
		HWType:    kernel.ARPHRD_ETHER,
		ProtoType: kernel.ETH_P_IP,
		HWLen:     kernel.ETH_ALEN,
		ProtoLen:  4,
		Op:        kernel.ARPOP_REQUEST,
		SenderMAC: nic.MAC,
		SenderIP:  nic.IP,
		TargetMAC: kernel.MAC{},
		TargetIP:  ip,
	}
	pkt.Marshal(body)
	c.stack.ethernetTransmit(nic, msg, kernel.BroadcastMAC, kernel.ETH_P_ARP)
}

// Ingress handles a received ARP packet (spec.md §4.3): updates the cache on
// reply, answers requests targeting a local address, and drains any pending
// queue on resolution.
func (c *Cache) Ingress(nic *NIC, pkt kernel.ArpPacket) {
	if pkt.Op == kernel.ARPOP_REQUEST || pkt.Op == kernel.ARPOP_REPLY {
		c.learn(nic, pkt.SenderIP, pkt.SenderMAC)
	}
	if pkt.Op == kernel.ARPOP_REQUEST && pkt.TargetIP == nic.IP {
		c.reply(nic, pkt)
	}
}

func (c *Cache) learn(nic *NIC, ip [4]byte, mac kernel.MAC) {
	c.mu.Lock()
	e, ok := c.entries[ip]
	if !ok {
		e = &arpEntry{ip: ip, nic: nic}
		c.entries[ip] = e
	}
	wasIncomplete := e.state == ARPIncomplete
	pending := e.pending
	e.pending = nil
	e.mac = mac
	e.state = ARPValid
	e.nic = nic
	if c.stack != nil && c.stack.Timers != nil {
		c.stack.Timers.Cancel(e.timer)
	}
	c.mu.Unlock()

	if wasIncomplete {
		for _, m := range pending {
			c.stack.ethernetTransmit(nic, m, mac, kernel.ETH_P_IP)
		}
	}
}

func (c *Cache) reply(nic *NIC, req kernel.ArpPacket) {
	msg := kernel.New(kernel.ArpPacketLength)
	body, err := msg.Append(kernel.ArpPacketLength)
	if err != nil {
		return
	}
	reply := kernel.ArpPacket{
		HWType:    kernel.ARPHRD_ETHER,
		ProtoType: kernel.ETH_P_IP,
		HWLen:     kernel.ETH_ALEN,
		ProtoLen:  4,
		Op:        kernel.ARPOP_REPLY,
		SenderMAC: nic.MAC,
		SenderIP:  nic.IP,
		TargetMAC: req.SenderMAC,
		TargetIP:  req.SenderIP,
	}
	reply.Marshal(body)
	c.stack.ethernetTransmit(nic, msg, req.SenderMAC, kernel.ETH_P_ARP)
}

// Lookup reports an entry's current state without triggering resolution,
// for tests and diagnostics.
func (c *Cache) Lookup(ip [4]byte) (kernel.MAC, ARPState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ip]
	if !ok {
		return kernel.MAC{}, ARPFree
	}
	return e.mac, e.state
}

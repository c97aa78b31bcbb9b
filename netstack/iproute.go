package netstack

import "sync"

// Route is one entry of the route table (spec.md §4.4): destination/genmask
// pair, optional gateway and egress interface. No per-route flags are
// stored.
type Route struct {
	Dest    [4]byte
	Genmask [4]byte
	Gateway [4]byte // zero value means "directly connected"
	NIC     *NIC
	seq     int // insertion order, used to break longest-prefix ties
}

func prefixLen(mask [4]byte) int {
	n := 0
	for _, b := range mask {
		for b != 0 {
			n += int(b & 1)
			b >>= 1
		}
	}
	return n
}

func matches(dest, mask, ip [4]byte) bool {
	for i := 0; i < 4; i++ {
		if ip[i]&mask[i] != dest[i] {
			return false
		}
	}
	return true
}

// RouteTable is the ordered route list of spec.md §4.4: longest-prefix
// wins, ties broken by insertion order.
type RouteTable struct {
	mu     sync.Mutex
	routes []*Route
	next   int
}

// NewRouteTable creates an empty route table.
func NewRouteTable() *RouteTable {
	return &RouteTable{}
}

// Add inserts a route, returning it for later Remove calls.
func (t *RouteTable) Add(dest, genmask, gateway [4]byte, nic *NIC) *Route {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := &Route{Dest: dest, Genmask: genmask, Gateway: gateway, NIC: nic, seq: t.next}
	t.next++
	t.routes = append(t.routes, r)
	return r
}

// Remove deletes a previously added route.
func (t *RouteTable) Remove(r *Route) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.routes {
		if e == r {
			t.routes = append(t.routes[:i], t.routes[i+1:]...)
			return
		}
	}
}

// Lookup finds the best (longest-prefix, then earliest-inserted) route for
// dst, per spec.md §4.4.
func (t *RouteTable) Lookup(dst [4]byte) (*Route, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best *Route
	bestLen := -1
	for _, r := range t.routes {
		if !matches(r.Dest, r.Genmask, dst) {
			continue
		}
		l := prefixLen(r.Genmask)
		if l > bestLen || (l == bestLen && best != nil && r.seq < best.seq) {
			best = r
			bestLen = l
		}
	}
	if best == nil {
		return nil, false
	}
	return best, true
}

// NextHop resolves the ARP-resolvable address for a route: the gateway if
// set, otherwise the destination itself (directly connected).
func (r *Route) NextHop(dst [4]byte) [4]byte {
	if r.Gateway != ([4]byte{}) {
		return r.Gateway
	}
	return dst
}

// SrcAddr implements spec.md §4.4's ip_get_src_addr(dst): the primary
// address of the egress interface chosen by routing.
func (t *RouteTable) SrcAddr(dst [4]byte) ([4]byte, *NIC, bool) {
	r, ok := t.Lookup(dst)
	if !ok {
		return [4]byte{}, nil, false
	}
	return r.NIC.IP, r.NIC, true
}

package netstack

import (
	"context"
	"testing"
	"time"

	"github.com/nanokern/corekit"
)

// pairStacks wires two stacks together with a direct-delivery driver on
// each side, the test analogue of cmd/kerneldemo's pairedDriver: every
// frame transmitted on one NIC is handed straight to the peer stack's
// Ethernet ingress, with no real socket or OS interface involved.
func pairStacks(t *testing.T) (a, b *Stack, nicA, nicB *NIC, stop func()) {
	t.Helper()
	a = NewStack()
	b = NewStack()

	macA := kernel.MAC{0x02, 0, 0, 0, 0, 1}
	macB := kernel.MAC{0x02, 0, 0, 0, 0, 2}
	ipA := [4]byte{10, 0, 0, 1}
	ipB := [4]byte{10, 0, 0, 2}
	mask := [4]byte{255, 255, 255, 0}

	driverA := &directDriver{}
	driverB := &directDriver{}

	nicA = a.NICs.Add("a", driverA, macA, ipA, mask, DefaultMTUEthernet)
	nicB = b.NICs.Add("b", driverB, macB, ipB, mask, DefaultMTUEthernet)
	driverA.peerStack, driverA.peerNIC = b, nicB
	driverB.peerStack, driverB.peerNIC = a, nicA

	a.Routes.Add([4]byte{10, 0, 0, 0}, mask, [4]byte{}, nicA)
	b.Routes.Add([4]byte{10, 0, 0, 0}, mask, [4]byte{}, nicB)

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Tick()
				b.Tick()
			case <-done:
				return
			}
		}
	}()
	return a, b, nicA, nicB, func() { close(done) }
}

// directDriver hands every transmitted frame straight to a peer stack's
// Ethernet ingress, skipping any real wire.
type directDriver struct {
	peerStack *Stack
	peerNIC   *NIC
	txCount   int
}

func (d *directDriver) TxMsg(msg *kernel.Message) error {
	d.txCount++
	frame := append([]byte(nil), msg.Bytes()...)
	return d.peerStack.EthernetIngress(d.peerNIC, kernel.FromBytes(frame))
}

func (d *directDriver) GetConfig() (Config, error) { return Config{}, nil }
func (d *directDriver) Debug()                     {}

func withTimeout(t *testing.T, d time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), d)
}

const (
	assertEventuallyTimeout = 500 * time.Millisecond
	assertEventuallyTick    = 5 * time.Millisecond
)

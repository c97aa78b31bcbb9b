package netstack

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nanokern/corekit"
)

func TestARPResolveMissThenHitOnReply(t *testing.T) {
	a, b, nicA, nicB, stop := pairStacks(t)
	defer stop()
	_ = nicB

	ipB := [4]byte{10, 0, 0, 2}

	mac, state := a.ARP.Lookup(ipB)
	assert.Equal(t, kernel.MAC{}, mac)
	assert.Equal(t, ARPFree, state)

	_, result := a.ARP.Resolve(nicA, ipB, nil)
	assert.Equal(t, ARPTrigger, result)

	// The test harness's directDriver delivers synchronously, so b answers
	// the broadcast request before Resolve even returns; a real driver
	// would complete this asynchronously, hence Eventually rather than an
	// immediate assertion.
	assert.Eventually(t, func() bool {
		mac, state := a.ARP.Lookup(ipB)
		return state == ARPValid && mac == b.NICs.All()[0].MAC
	}, assertEventuallyTimeout, assertEventuallyTick)
}

func TestARPSecondResolveOnIncompleteIsQueued(t *testing.T) {
	a, _, nicA, _, stop := pairStacks(t)
	defer stop()

	// Freeze resolution by talking to an address nobody answers.
	unreachable := [4]byte{10, 0, 0, 99}
	_, first := a.ARP.Resolve(nicA, unreachable, nil)
	assert.Equal(t, ARPTrigger, first)

	_, second := a.ARP.Resolve(nicA, unreachable, nil)
	assert.Equal(t, ARPQueued, second)
}

// Package timerq implements the timer facility and work queue of spec.md
// §4.11: a single tick counter, a min-heap of timers ordered by expiry, and
// a bounded queue of deferred work triggered at tick. TCP's retransmission, persist,
// delayed-ACK and TIME-WAIT timers, and ARP's retry timer, all share this
// mechanism (spec.md §9: "no host-OS timer-fd needed").
package timerq

import "sync/atomic"

// TicksPerSecond is the kernel's tick rate; spec.md's worked examples (§8)
// are all stated "at 100 Hz tick".
const TicksPerSecond = 100

// Tick is a monotonically increasing count of 1/100s intervals since boot.
type Tick int64

// Clock is a single shared tick counter. NIC interrupt handlers (or, in this
// hosted port, a ticker goroutine started by the caller) call Advance once
// per tick; everything else only ever reads it.
type Clock struct {
	now int64
}

// NewClock returns a Clock starting at tick 0.
func NewClock() *Clock { return &Clock{} }

// Now returns the current tick.
func (c *Clock) Now() Tick { return Tick(atomic.LoadInt64(&c.now)) }

// Advance moves the clock forward by one tick and returns the new value.
func (c *Clock) Advance() Tick { return Tick(atomic.AddInt64(&c.now, 1)) }

// Seconds converts a duration in seconds to a tick count, saturating at
// MaxInt64 ticks instead of overflowing (spec.md §8: "tv_sec = 31 days
// computes the correct tick count, no overflow at 100 Hz").
func Seconds(s float64) Tick {
	if s <= 0 {
		return 0
	}
	ticks := s * TicksPerSecond
	const maxTick = float64(1<<63 - 1)
	if ticks >= maxTick {
		return Tick(1<<63 - 1)
	}
	return Tick(ticks)
}

package timerq

import "container/heap"

// Timer is a single scheduled callback, fired at or after its expiry tick.
// TCP keeps four of these per connection (retransmission, delayed-ACK,
// persist, TIME-WAIT); ARP keeps one per cache entry (retry).
type Timer struct {
	Expiry  Tick
	Fn      func(Tick)
	active  bool
	index   int // heap index, maintained by container/heap
	seq     uint64
}

// Active reports whether the timer is currently armed.
func (t *Timer) Active() bool { return t.active }

// timerHeap is a binary min-heap over Timer.Expiry, implementing
// container/heap.Interface. Using a heap instead of "bucketed by due time"
// (spec.md §9 offers either) keeps Set/Cancel/fire-ready O(log n) without
// picking a bucket width that would bias toward one timer class.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].Expiry != h[j].Expiry {
		return h[i].Expiry < h[j].Expiry
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// TimerWheel is the process-wide collection of armed timers, advanced by a
// single Clock (spec.md §9: "Timers fire from the tick handler and acquire
// the same locks as user paths" — callers are responsible for taking
// whatever per-connection lock Fn needs before TimerWheel invokes it, since
// Fire calls Fn synchronously on the caller's goroutine).
type TimerWheel struct {
	clock *Clock
	h     timerHeap
	seq   uint64
}

// NewTimerWheel creates a TimerWheel driven by clock.
func NewTimerWheel(clock *Clock) *TimerWheel {
	return &TimerWheel{clock: clock}
}

// Schedule arms a new Timer to fire at clock.Now()+delay, or reuses t if
// non-nil and already tracked by this wheel (re-arming rather than
// duplicating, the way TCP resets its RTO timer on each new ACK).
func (w *TimerWheel) Schedule(t *Timer, delay Tick, fn func(Tick)) *Timer {
	if t == nil {
		t = &Timer{}
	}
	t.Fn = fn
	t.Expiry = w.clock.Now() + delay
	w.seq++
	t.seq = w.seq
	if t.active {
		heap.Fix(&w.h, t.index)
	} else {
		t.active = true
		heap.Push(&w.h, t)
	}
	return t
}

// Cancel disarms t if it is currently scheduled.
func (w *TimerWheel) Cancel(t *Timer) {
	if t == nil || !t.active {
		return
	}
	heap.Remove(&w.h, t.index)
	t.active = false
}

// Fire runs every timer whose expiry is <= the clock's current tick, in
// expiry order, removing each before invoking its callback so a callback
// that re-schedules itself (as every spec.md §4.6 TCP timer does) does not
// race the removal.
func (w *TimerWheel) Fire() {
	now := w.clock.Now()
	for w.h.Len() > 0 && w.h[0].Expiry <= now {
		t := heap.Pop(&w.h).(*Timer)
		t.active = false
		fn := t.Fn
		expiry := t.Expiry
		if fn != nil {
			fn(expiry)
		}
	}
}

// Len reports how many timers are currently armed.
func (w *TimerWheel) Len() int { return w.h.Len() }

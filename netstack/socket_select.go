package netstack

import (
	"context"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/sync2"
)

// Select implements spec.md §4.7's select: wants maps each socket of
// interest to the events it's being watched for. Select blocks until at
// least one socket satisfies one of its watched events, ctx is done, or
// immediately if any socket is already ready. It returns the subset of
// wants that fired.
//
// Each socket records its own waiter entry pointing at a single shared
// semaphore, so one Up() from any socket's notify wakes this call; matching
// spec.md §4.7's "the socket records the waiter on its waiter list... every
// matching waiter is signaled", generalized to multiple sockets the way a
// real select/poll call spans many fds.
func Select(ctx context.Context, wants map[*Socket]Events) (map[*Socket]Events, error) {
	ready := pollOnce(wants)
	if len(ready) > 0 {
		return ready, nil
	}

	sem := sync2.NewSemaphore(0)
	registered := make(map[*Socket]*waiter, len(wants))
	for s, mask := range wants {
		registered[s] = s.addWaiter(mask, sem)
	}
	defer func() {
		for s, w := range registered {
			s.removeWaiter(w)
		}
	}()

	for {
		ready = pollOnce(wants)
		if len(ready) > 0 {
			return ready, nil
		}
		if err := sem.Down(ctx); err != nil {
			if err == sync2.ErrCancelled {
				return nil, kernel.EINTR
			}
			return nil, kernel.ETIMEDOUT
		}
	}
}

// pollOnce checks each socket's current readiness without blocking, using
// whatever synchronous readiness predicate its Ops implementation exposes.
func pollOnce(wants map[*Socket]Events) map[*Socket]Events {
	ready := make(map[*Socket]Events)
	for s, mask := range wants {
		r, ok := s.Ops.(interface {
			Ready(*Socket) Events
		})
		var got Events
		if ok {
			got = r.Ready(s) & mask
		} else {
			got = pollGeneric(s) & mask
		}
		if got != 0 {
			ready[s] = got
		}
	}
	return ready
}

// pollGeneric covers Ops implementations (none currently) that don't supply
// a Ready method: treat a closed or errored socket as both readable and
// writable so callers don't block forever on a dead socket.
func pollGeneric(s *Socket) Events {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.Closed || s.Err != nil {
		return EventRead | EventWrite
	}
	return 0
}

package timerq

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler is a unit of deferred work (spec.md §4.11): a function plus its
// argument, run at tick with an optional timeout.
type Handler func(arg interface{})

type workItem struct {
	handler Handler
	arg     interface{}
	expiry  Tick
	iter    int // iteration count, surfaced to Handler via metadata if needed
}

// WorkQueue is the bounded queue of (handler, arg, expiry-tick) entries
// from spec.md §4.11. Entries live in a mutex-guarded slice capped at the
// capacity given to NewWorkQueue; Trigger (or Tick) runs and removes the
// ready ones, called by hand or from the goroutine Run starts, which Stop
// cancels through its context.
type WorkQueue struct {
	clock *Clock
	cap   int

	mu    sync.Mutex
	items []workItem

	ch     chan struct{} // signals a Trigger pass is due
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *logrus.Entry
}

// NewWorkQueue creates a WorkQueue of the given capacity driven by clock.
func NewWorkQueue(clock *Clock, capacity int) *WorkQueue {
	return &WorkQueue{
		clock: clock,
		cap:   capacity,
		ch:    make(chan struct{}, 1),
		log:   logrus.WithField("component", "workqueue"),
	}
}

// Schedule inserts a handler to run with arg no earlier than delay ticks
// from now, or returns ErrQueueFull when the queue is at capacity. arg
// carries the whole payload; there is no separate per-item annotation.
func (q *WorkQueue) Schedule(h Handler, arg interface{}, delay Tick) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.cap {
		return ErrQueueFull
	}
	q.items = append(q.items, workItem{
		handler: h,
		arg:     arg,
		expiry:  q.clock.Now() + delay,
	})
	select {
	case q.ch <- struct{}{}:
	default:
	}
	return nil
}

// Trigger runs every entry whose expiry has passed, removing them from the
// queue before invocation (same non-reentrant-removal discipline as
// TimerWheel.Fire).
func (q *WorkQueue) Trigger() {
	now := q.clock.Now()

	q.mu.Lock()
	var ready []workItem
	remaining := q.items[:0]
	for _, it := range q.items {
		if it.expiry <= now {
			ready = append(ready, it)
		} else {
			remaining = append(remaining, it)
		}
	}
	q.items = remaining
	q.mu.Unlock()

	for _, it := range ready {
		func() {
			defer func() {
				if r := recover(); r != nil {
					q.log.WithField("panic", r).Error("work queue handler panicked")
				}
			}()
			it.handler(it.arg)
		}()
	}
}

// Tick advances the clock by one and re-triggers ready entries (spec.md
// §4.11's tick(cpu)).
func (q *WorkQueue) Tick() {
	q.clock.Advance()
	q.Trigger()
}

// Run starts a goroutine that calls Tick once per interval until ctx is
// done, for callers that want a free-running simulated tick source (e.g.
// cmd/kerneldemo) instead of driving Tick by hand from a test.
func (q *WorkQueue) Run(ctx context.Context, interval func() <-chan struct{}) {
	ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticks := interval()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				q.Tick()
			}
		}
	}()
}

// Stop cancels a Run goroutine and waits for it to exit.
func (q *WorkQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Len reports the number of queued entries that have not yet run, ready or
// not.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

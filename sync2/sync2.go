// Package sync2 implements the locking and condition-variable primitives of
// spec.md §5: a spinlock, a counting FIFO semaphore, and a condition
// variable paired with a spinlock, each with a timed/cancellable wait.
//
// A hosted Go process cannot disable interrupts, so Spinlock is a documented
// sync.Mutex: it records the acquisition-order contract from spec.md §9
// (routing -> interface -> ARP; socket -> protocol -> IP) in the comment on
// netstack.Stack (netstack/stack.go) rather than pretending to implement
// IRQ-flag save/restore that would mean nothing here.
package sync2

import (
	"container/list"
	"context"
	"sync"
)

// Spinlock is a non-recursive mutual-exclusion lock.
type Spinlock struct {
	mu sync.Mutex
}

func (s *Spinlock) Lock()   { s.mu.Lock() }
func (s *Spinlock) Unlock() { s.mu.Unlock() }

// TryLock reports whether the lock was acquired without blocking.
func (s *Spinlock) TryLock() bool { return s.mu.TryLock() }

// Semaphore is a counting semaphore with a FIFO waiter queue and
// context-cancellable, optionally timed, Down.
type Semaphore struct {
	mu      sync.Mutex
	count   int
	waiters *list.List // of chan struct{}
}

// NewSemaphore creates a Semaphore with the given initial count.
func NewSemaphore(initial int) *Semaphore {
	return &Semaphore{count: initial, waiters: list.New()}
}

// Up increments the count and wakes the longest-waiting blocked Down, if any.
func (s *Semaphore) Up() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiters.Len() > 0 {
		front := s.waiters.Front()
		ch := s.waiters.Remove(front).(chan struct{})
		close(ch)
		return
	}
	s.count++
}

// Down blocks until the count is positive (consuming one unit) or ctx is
// done, returning a distinct outcome for each per spec.md §5's "interruptible
// wait returns an error code distinct from timeout".
func (s *Semaphore) Down(ctx context.Context) error {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	elem := s.waiters.PushBack(ch)
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		// Remove ourselves if we are still queued; if we were already
		// signaled (removed by Up) racing with cancellation, the unit Up
		// granted us would otherwise be lost, so drain it back to count.
		for e := s.waiters.Front(); e != nil; e = e.Next() {
			if e == elem {
				s.waiters.Remove(e)
				s.mu.Unlock()
				if ctx.Err() == context.DeadlineExceeded {
					return ErrTimeout
				}
				return ErrCancelled
			}
		}
		s.count++
		s.mu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return ErrTimeout
		}
		return ErrCancelled
	}
}

// TryDown consumes one unit without blocking, reporting success.
func (s *Semaphore) TryDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

// Cond is a condition variable paired with a spinlock, matching spec.md §5:
// Wait atomically releases the lock and blocks, Broadcast wakes all waiters,
// and waits may be timed via context.
type Cond struct {
	L *Spinlock

	mu      sync.Mutex
	waiters *list.List // of chan struct{}
}

// NewCond creates a Cond guarded by l.
func NewCond(l *Spinlock) *Cond {
	return &Cond{L: l, waiters: list.New()}
}

// Wait releases L, blocks until Broadcast/Signal or ctx is done, then
// re-acquires L before returning, matching the standard Go sync.Cond
// contract plus cancellation.
func (c *Cond) Wait(ctx context.Context) error {
	ch := make(chan struct{})
	c.mu.Lock()
	elem := c.waiters.PushBack(ch)
	c.mu.Unlock()

	c.L.Unlock()
	defer c.L.Lock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		for e := c.waiters.Front(); e != nil; e = e.Next() {
			if e == elem {
				c.waiters.Remove(e)
				c.mu.Unlock()
				if ctx.Err() == context.DeadlineExceeded {
					return ErrTimeout
				}
				return ErrCancelled
			}
		}
		c.mu.Unlock()
		// Already signaled concurrently with cancellation: treat as woken.
		return nil
	}
}

// Signal wakes at most one waiter.
func (c *Cond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if front := c.waiters.Front(); front != nil {
		ch := c.waiters.Remove(front).(chan struct{})
		close(ch)
	}
}

// Broadcast wakes every waiter (spec.md §5: "broadcast wakes all").
func (c *Cond) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.waiters.Front(); e != nil; e = c.waiters.Front() {
		ch := c.waiters.Remove(e).(chan struct{})
		close(ch)
	}
}

package sync2

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSemaphoreDownUp(t *testing.T) {
	s := NewSemaphore(1)
	ctx := context.Background()

	if err := s.Down(ctx); err != nil {
		t.Fatalf("down: %v", err)
	}
	if s.TryDown() {
		t.Fatal("TryDown succeeded with count exhausted")
	}
	s.Up()
	if !s.TryDown() {
		t.Fatal("TryDown failed after Up")
	}
}

func TestSemaphoreDownBlocksUntilUp(t *testing.T) {
	s := NewSemaphore(0)
	done := make(chan struct{})
	go func() {
		_ = s.Down(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Down returned before Up")
	case <-time.After(20 * time.Millisecond):
	}

	s.Up()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Down did not return after Up")
	}
}

func TestSemaphoreDownTimeout(t *testing.T) {
	s := NewSemaphore(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.Down(ctx)
	if err != ErrTimeout {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestSemaphoreDownCancelled(t *testing.T) {
	s := NewSemaphore(0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := s.Down(ctx); err != ErrCancelled {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
}

func TestCondBroadcastWakesAll(t *testing.T) {
	l := &Spinlock{}
	c := NewCond(l)

	var wg sync.WaitGroup
	woken := make(chan int, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l.Lock()
			defer l.Unlock()
			if err := c.Wait(context.Background()); err == nil {
				woken <- id
			}
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	l.Lock()
	c.Broadcast()
	l.Unlock()

	wg.Wait()
	close(woken)
	count := 0
	for range woken {
		count++
	}
	if count != 3 {
		t.Fatalf("woken = %d, want 3", count)
	}
}

func TestRefCountFreeAtZero(t *testing.T) {
	r := NewRefCount()
	r.Retain()
	if n := r.Release(); n != 1 {
		t.Fatalf("release = %d, want 1", n)
	}
	if n := r.Release(); n != 0 {
		t.Fatalf("release = %d, want 0", n)
	}
}

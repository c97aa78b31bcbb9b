package timerq

import "testing"

func TestClockSecondsSaturates(t *testing.T) {
	if got := Seconds(0); got != 0 {
		t.Fatalf("Seconds(0) = %d, want 0", got)
	}
	if got := Seconds(1); got != TicksPerSecond {
		t.Fatalf("Seconds(1) = %d, want %d", got, TicksPerSecond)
	}
	// 31 days at 100Hz must not overflow int64 or wrap negative.
	days31 := float64(31 * 24 * 60 * 60)
	got := Seconds(days31)
	want := Tick(days31 * TicksPerSecond)
	if got != want {
		t.Fatalf("Seconds(31 days) = %d, want %d", got, want)
	}
	if got < 0 {
		t.Fatal("Seconds overflowed negative")
	}
}

func TestTimerWheelFiresInOrder(t *testing.T) {
	clock := NewClock()
	w := NewTimerWheel(clock)

	var order []int
	w.Schedule(nil, 3, func(Tick) { order = append(order, 3) })
	w.Schedule(nil, 1, func(Tick) { order = append(order, 1) })
	w.Schedule(nil, 2, func(Tick) { order = append(order, 2) })

	for i := 0; i < 3; i++ {
		clock.Advance()
		w.Fire()
	}

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("fire order = %v, want [1 2 3]", order)
	}
	if w.Len() != 0 {
		t.Fatalf("timers remaining = %d, want 0", w.Len())
	}
}

func TestTimerWheelCancel(t *testing.T) {
	clock := NewClock()
	w := NewTimerWheel(clock)

	fired := false
	timer := w.Schedule(nil, 1, func(Tick) { fired = true })
	w.Cancel(timer)

	clock.Advance()
	w.Fire()

	if fired {
		t.Fatal("cancelled timer fired")
	}
}

func TestTimerRescheduleReusesSlot(t *testing.T) {
	clock := NewClock()
	w := NewTimerWheel(clock)

	count := 0
	var timer *Timer
	timer = w.Schedule(timer, 5, func(Tick) { count++ })
	// Reschedule before it fires (e.g. an RTO reset on a fresh ACK).
	timer = w.Schedule(timer, 1, func(Tick) { count++ })

	if w.Len() != 1 {
		t.Fatalf("len = %d, want 1 (reuse, not duplicate)", w.Len())
	}

	clock.Advance()
	w.Fire()

	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}

func TestWorkQueueScheduleAndTrigger(t *testing.T) {
	clock := NewClock()
	q := NewWorkQueue(clock, 4)

	ran := make(chan int, 1)
	if err := q.Schedule(func(arg interface{}) { ran <- arg.(int) }, 42, 1); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	q.Trigger() // not yet due
	select {
	case <-ran:
		t.Fatal("handler ran before expiry")
	default:
	}

	q.Tick() // advances clock and triggers
	select {
	case v := <-ran:
		if v != 42 {
			t.Fatalf("arg = %v, want 42", v)
		}
	default:
		t.Fatal("handler did not run after expiry")
	}
}

func TestWorkQueueFull(t *testing.T) {
	clock := NewClock()
	q := NewWorkQueue(clock, 1)

	if err := q.Schedule(func(interface{}) {}, nil, 1); err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	if err := q.Schedule(func(interface{}) {}, nil, 1); err != ErrQueueFull {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

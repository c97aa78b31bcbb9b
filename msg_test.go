package kernel

import "testing"

func TestNewHasDefaultHeadroom(t *testing.T) {
	m := New(64)
	if got := m.Headroom(); got != DefaultHeadroom {
		t.Fatalf("headroom = %d, want %d", got, DefaultHeadroom)
	}
	if !m.Invariant() {
		t.Fatal("invariant violated on fresh message")
	}
}

func TestPrependAppendMoveCursors(t *testing.T) {
	m := Create(100, 20)
	eth, err := m.Prepend(14)
	if err != nil {
		t.Fatalf("prepend: %v", err)
	}
	if len(eth) != 14 {
		t.Fatalf("prepend region len = %d, want 14", len(eth))
	}
	if m.Headroom() != 6 {
		t.Fatalf("headroom after prepend = %d, want 6", m.Headroom())
	}

	payload, err := m.Append(10)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(payload) != 10 {
		t.Fatalf("append region len = %d, want 10", len(payload))
	}
	if !m.Invariant() {
		t.Fatal("invariant violated")
	}
}

func TestPrependFailsPastHeadroom(t *testing.T) {
	m := Create(10, 4)
	if _, err := m.Prepend(5); err != EOVERFLOW {
		t.Fatalf("err = %v, want EOVERFLOW", err)
	}
}

func TestAppendFailsPastTailroom(t *testing.T) {
	m := Create(10, 4)
	if _, err := m.Append(MinMessageSize); err != EOVERFLOW {
		t.Fatalf("err = %v, want EOVERFLOW", err)
	}
}

func TestCutOffAdvancesStart(t *testing.T) {
	m := New(100)
	b, _ := m.Append(20)
	for i := range b {
		b[i] = byte(i)
	}
	if err := m.CutOff(5); err != nil {
		t.Fatalf("cutoff: %v", err)
	}
	if got := m.Bytes()[0]; got != 5 {
		t.Fatalf("first byte after cutoff = %d, want 5", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	m := New(10)
	b, _ := m.Append(4)
	copy(b, []byte{1, 2, 3, 4})

	c := m.Clone()
	cb := c.Bytes()
	cb[0] = 99

	if m.Bytes()[0] == 99 {
		t.Fatal("clone shares storage with original")
	}
}

func TestDestroyReleasesRetainedReferences(t *testing.T) {
	defer func() {
		// logrus.Fatal calls os.Exit, which the test process can't safely
		// intercept; this test instead exercises the refcount bookkeeping
		// directly rather than triggering the Fatal path.
	}()

	m := New(10)
	m.Retain()
	m.Destroy()
	if m.refs != 1 {
		t.Fatalf("refs after one destroy of a retained message = %d, want 1", m.refs)
	}
	m.Destroy()
	if m.refs != 0 {
		t.Fatalf("refs after final destroy = %d, want 0", m.refs)
	}
}

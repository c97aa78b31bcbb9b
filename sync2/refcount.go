package sync2

import "github.com/sirupsen/logrus"

// RefCount is the reference-counting building block spec.md §5 requires of
// every shared object (socket, inode, open file, net_msg, pipe, TCB):
// "freeing while refcount > 0 is a correctness violation", enforced here
// instead of re-implemented per type.
type RefCount struct {
	lock Spinlock
	n    int32
}

// NewRefCount returns a RefCount initialized to 1, the count an object holds
// for the reference its creator receives.
func NewRefCount() RefCount { return RefCount{n: 1} }

// Retain increments the count and returns the new value.
func (r *RefCount) Retain() int32 {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.n++
	return r.n
}

// Release decrements the count and returns the new value. Callers free the
// underlying object's resources exactly when Release returns 0, and must
// never call Release again afterward; doing so is the "freeing a referenced
// object" invariant violation spec.md §7 calls fatal.
func (r *RefCount) Release() int32 {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.n--
	if r.n < 0 {
		logrus.WithField("refcount", r.n).Fatal("refcount released below zero")
	}
	return r.n
}

// Count returns the current value for diagnostics and tests.
func (r *RefCount) Count() int32 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.n
}

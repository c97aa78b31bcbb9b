package vfs

import (
	"context"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/sync2"
)

// PipeBufSize is the atomic-write guarantee size (spec.md §4.9: "writes up
// to PIPE_BUF are atomic").
const PipeBufSize = 4096

// Pipe is an in-memory FIFO: a fixed circular buffer shared by a read end
// and a write end, with open-count tracking so EOF and SIGPIPE-equivalent
// errors surface at the right moments.
//
// The buffer is guarded by a sync2.Spinlock, and blocked readers and
// writers wait on a sync2.Cond paired with it.
type Pipe struct {
	lock *sync2.Spinlock
	cond *sync2.Cond

	buf        []byte
	head, tail int
	used       int

	readers, writers int
}

// NewPipe creates a pipe with PipeBufSize capacity.
func NewPipe() *Pipe {
	l := &sync2.Spinlock{}
	return &Pipe{
		lock: l,
		cond: sync2.NewCond(l),
		buf:  make([]byte, PipeBufSize),
	}
}

// AddReader/AddWriter/DropReader/DropWriter track open-end counts; the
// last writer dropping wakes blocked readers with EOF, the last reader
// dropping makes further writes fail with EPIPE.
func (p *Pipe) AddReader() { p.lock.Lock(); p.readers++; p.lock.Unlock() }
func (p *Pipe) AddWriter() { p.lock.Lock(); p.writers++; p.lock.Unlock() }

func (p *Pipe) DropReader() {
	p.lock.Lock()
	p.readers--
	p.cond.Broadcast()
	p.lock.Unlock()
}

func (p *Pipe) DropWriter() {
	p.lock.Lock()
	p.writers--
	p.cond.Broadcast()
	p.lock.Unlock()
}

// Read blocks until at least one byte is available or all writers have
// closed, in which case it returns (0, nil) for EOF. If nonblock is set and
// no data is available yet, it returns EAGAIN immediately instead of
// blocking (spec.md §4.9).
func (p *Pipe) Read(buf []byte, nonblock bool) (int, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for p.used == 0 {
		if p.writers == 0 {
			return 0, nil
		}
		if nonblock {
			return 0, kernel.EAGAIN
		}
		if err := p.cond.Wait(context.Background()); err != nil {
			return 0, err
		}
	}
	n := 0
	for n < len(buf) && p.used > 0 {
		buf[n] = p.buf[p.head]
		p.head = (p.head + 1) % len(p.buf)
		p.used--
		n++
	}
	p.cond.Broadcast()
	return n, nil
}

// Write blocks for space and returns EPIPE once all readers have closed.
// Writes of at most PipeBufSize happen atomically: the call blocks until
// the full write fits rather than interleaving with a concurrent writer. If
// nonblock is set and the write can't complete atomically right now, it
// returns EAGAIN instead of blocking (spec.md §4.9).
func (p *Pipe) Write(data []byte, nonblock bool) (int, error) {
	if len(data) > PipeBufSize {
		return p.writeLarge(data, nonblock)
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.readers == 0 {
		return 0, kernel.EPIPE
	}
	for len(p.buf)-p.used < len(data) {
		if p.readers == 0 {
			return 0, kernel.EPIPE
		}
		if nonblock {
			return 0, kernel.EAGAIN
		}
		if err := p.cond.Wait(context.Background()); err != nil {
			return 0, err
		}
	}
	for _, b := range data {
		p.buf[p.tail] = b
		p.tail = (p.tail + 1) % len(p.buf)
		p.used++
	}
	p.cond.Broadcast()
	return len(data), nil
}

// writeLarge splits a write exceeding PipeBufSize into chunks of at most
// PipeBufSize, each written atomically; another writer's data may land
// between any two chunks, as POSIX allows for oversized writes.
func (p *Pipe) writeLarge(data []byte, nonblock bool) (int, error) {
	total := 0
	for len(data) > 0 {
		chunk := data
		if len(chunk) > PipeBufSize {
			chunk = chunk[:PipeBufSize]
		}
		n, err := p.Write(chunk, nonblock)
		total += n
		if err != nil {
			return total, err
		}
		data = data[n:]
	}
	return total, nil
}

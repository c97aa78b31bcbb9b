package vfs_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanokern/corekit"
	"github.com/nanokern/corekit/vfs"
)

func TestPipeWriteThenReadRoundTrip(t *testing.T) {
	p := vfs.NewPipe()
	p.AddReader()
	p.AddWriter()

	n, err := p.Write([]byte("hello"), false)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 16)
	n, err = p.Read(buf, false)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestPipeReadBlocksUntilWrite(t *testing.T) {
	p := vfs.NewPipe()
	p.AddReader()
	p.AddWriter()

	result := make(chan string, 1)
	go func() {
		buf := make([]byte, 16)
		n, err := p.Read(buf, false)
		if err == nil {
			result <- string(buf[:n])
		}
	}()

	select {
	case <-result:
		t.Fatal("read returned before any write happened")
	case <-time.After(20 * time.Millisecond):
	}

	_, err := p.Write([]byte("late"), false)
	require.NoError(t, err)

	select {
	case got := <-result:
		assert.Equal(t, "late", got)
	case <-time.After(time.Second):
		t.Fatal("read never unblocked after write")
	}
}

func TestPipeWriteToNoReadersReturnsEPIPE(t *testing.T) {
	p := vfs.NewPipe()
	p.AddWriter()

	_, err := p.Write([]byte("x"), false)
	assert.Error(t, err)
}

func TestPipeReadAfterWritersGoneReturnsEOF(t *testing.T) {
	p := vfs.NewPipe()
	p.AddReader()
	p.AddWriter()
	p.DropWriter()

	buf := make([]byte, 16)
	n, err := p.Read(buf, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPipeNonblockReadWithNoDataReturnsEAGAIN(t *testing.T) {
	p := vfs.NewPipe()
	p.AddReader()
	p.AddWriter()

	buf := make([]byte, 16)
	_, err := p.Read(buf, true)
	assert.ErrorIs(t, err, kernel.EAGAIN)
}

func TestPipeNonblockWriteWithNoSpaceReturnsEAGAIN(t *testing.T) {
	p := vfs.NewPipe()
	p.AddReader()
	p.AddWriter()

	full := make([]byte, vfs.PipeBufSize)
	_, err := p.Write(full, false)
	require.NoError(t, err)

	_, err = p.Write([]byte("x"), true)
	assert.ErrorIs(t, err, kernel.EAGAIN)
}

package vfs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanokern/corekit/vfs"
	"github.com/nanokern/corekit/vfs/ramfs"
)

func TestBlockCacheReadThroughAndHit(t *testing.T) {
	devices := vfs.NewBlockDeviceRegistry()
	dev := ramfs.NewDevice()
	devices.Register(0, dev)

	want := make([]byte, vfs.BlockSize)
	copy(want, []byte("block zero"))
	require.NoError(t, dev.Write(0, 0, 1, want))

	cache := vfs.NewBlockCache(devices, 4)
	buf, err := cache.Get(0, 0)
	require.NoError(t, err)
	assert.Equal(t, want, buf.Data)
	buf.Release()
}

func TestBlockCacheWriteThroughVisibleToNewReader(t *testing.T) {
	devices := vfs.NewBlockDeviceRegistry()
	dev := ramfs.NewDevice()
	devices.Register(0, dev)

	cache := vfs.NewBlockCache(devices, 4)
	payload := make([]byte, vfs.BlockSize)
	copy(payload, []byte("written through"))
	require.NoError(t, cache.Put(0, 1, payload))

	buf, err := cache.Get(0, 1)
	require.NoError(t, err)
	defer buf.Release()
	assert.Equal(t, payload, buf.Data)
}

func TestBlockCacheEvictsUnreferencedEntriesPastCapacity(t *testing.T) {
	devices := vfs.NewBlockDeviceRegistry()
	dev := ramfs.NewDevice()
	devices.Register(0, dev)

	cache := vfs.NewBlockCache(devices, 2)
	buf, err := cache.Get(0, 0)
	require.NoError(t, err)
	buf.Release()

	// Push block 0 out of the (capacity-2) cache by touching two more
	// blocks, then change the device out from under the cache. A cache hit
	// would still see the old (zero) contents; an eviction forces a fresh
	// read-through that observes the change.
	for i := 1; i <= 2; i++ {
		b, err := cache.Get(0, i)
		require.NoError(t, err)
		b.Release()
	}

	changed := make([]byte, vfs.BlockSize)
	copy(changed, []byte("changed on disk"))
	require.NoError(t, dev.Write(0, 0, 1, changed))

	buf, err = cache.Get(0, 0)
	require.NoError(t, err)
	defer buf.Release()
	assert.Equal(t, changed, buf.Data, "block 0 should have been evicted and re-read from the device")
}

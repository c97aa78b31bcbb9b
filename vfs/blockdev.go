// Package vfs implements spec.md's virtual filesystem core: the block
// cache, inode cache, mount table, path resolution, descriptor table and
// pipes that sit between user-facing file calls and a concrete filesystem
// driver.
//
// The BlockDevice/FilesystemDriver contracts follow a thin-wrapper style:
// a small interface, a registry keyed by an integer, operations that
// return (result, error).
package vfs

import "github.com/nanokern/corekit"

// BlockSize is the cache unit of spec.md §4.10 ("Block size 1024 bytes
// (cache unit)").
const BlockSize = 1024

// BlockDevice is the block device contract of spec.md §6: open/close by
// minor number, read/write by block range. Sector size is a device
// attribute consulted by the caller for request queueing; this kernel has
// no request queue of its own (a Non-goal's worth of scheduling detail), so
// SectorSize is advisory only.
type BlockDevice interface {
	Open(minor int) error
	Close(minor int) error
	Read(minor int, firstBlock, blocks int, buf []byte) error
	Write(minor int, firstBlock, blocks int, buf []byte) error
	SectorSize() int
}

// BlockDeviceRegistry maps minor numbers to BlockDevice implementations,
// the block-device analogue of netstack.Registry.
type BlockDeviceRegistry struct {
	devices map[int]BlockDevice
}

// NewBlockDeviceRegistry creates an empty registry.
func NewBlockDeviceRegistry() *BlockDeviceRegistry {
	return &BlockDeviceRegistry{devices: make(map[int]BlockDevice)}
}

// Register associates minor with dev.
func (r *BlockDeviceRegistry) Register(minor int, dev BlockDevice) {
	r.devices[minor] = dev
}

// Get looks up a device by minor number.
func (r *BlockDeviceRegistry) Get(minor int) (BlockDevice, error) {
	d, ok := r.devices[minor]
	if !ok {
		return nil, kernel.ENOENT
	}
	return d, nil
}

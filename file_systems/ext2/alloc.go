package ext2

import (
	"fmt"
	"sync"

	"github.com/dargueta/tinyext"
	c "github.com/dargueta/tinyext/file_systems/common"
	"github.com/dargueta/tinyext/utilities/logging"
)

// Allocator hands out units from an on-disk bitmap in a first-fit manner.
// Every allocation is a single read-scan-write of the bitmap done while
// holding the allocator's lock, so callers sharing one Allocator never get
// the same unit twice.
type Allocator struct {
	lock   sync.Mutex
	device c.BlockDevice
	start  c.LogicalBlock
	blocks uint
	limit  uint
	name   string
}

// NewAllocator creates an allocator for the `blocks`-block bitmap beginning at
// block `start`. Only indices below `limit` are ever allocated; `limit` is
// clamped to the bitmap's capacity.
func NewAllocator(
	device c.BlockDevice,
	name string,
	start c.LogicalBlock,
	blocks uint,
	limit uint,
) *Allocator {
	return &Allocator{
		device: device,
		start:  start,
		blocks: blocks,
		limit:  minUint(limit, blocks*BitsPerBitmapBlock),
		name:   name,
	}
}

// Limit returns the number of units the allocator can hand out.
func (alloc *Allocator) Limit() uint {
	return alloc.limit
}

// AllocateFirstFree finds the lowest free unit, marks it allocated on disk,
// and returns its index. If there is none it returns
// [tinyext.ErrAllocationExhausted] and writes nothing.
func (alloc *Allocator) AllocateFirstFree() (uint, error) {
	alloc.lock.Lock()
	defer alloc.lock.Unlock()

	buffer := make([]byte, BlockSize)
	for i := uint(0); i < alloc.blocks; i++ {
		blockStartBit := i * BitsPerBitmapBlock
		if blockStartBit >= alloc.limit {
			break
		}

		err := alloc.device.ReadBlock(buffer, alloc.start+c.LogicalBlock(i))
		if err != nil {
			return 0, tinyext.CastToDriverError(err)
		}

		bitmap := NewBitmap(1)
		bitmap.decodeBlock(0, buffer)

		bit, found := bitmap.FirstFree()
		if !found {
			continue
		}

		index := blockStartBit + bit
		if index >= alloc.limit {
			// The first free bit is past the last valid unit.
			break
		}

		bitmap.Set(bit)
		err = bitmap.StoreBlock(alloc.device, alloc.start+c.LogicalBlock(i), 0)
		if err != nil {
			return 0, err
		}

		logging.DPrintf(3, "%s: allocated unit %d\n", alloc.name, index)
		return index, nil
	}

	return 0, tinyext.ErrAllocationExhausted.WithMessage(
		fmt.Sprintf("%s: all %d units are in use", alloc.name, alloc.limit))
}

// IsAllocated reports whether unit `index` is marked as in use.
func (alloc *Allocator) IsAllocated(index uint) (bool, error) {
	if index >= alloc.limit {
		return false, tinyext.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("%s: unit %d not in range [0, %d)", alloc.name, index, alloc.limit))
	}

	alloc.lock.Lock()
	defer alloc.lock.Unlock()

	blockIndex := index / BitsPerBitmapBlock
	bitmap, err := LoadBitmap(alloc.device, alloc.start+c.LogicalBlock(blockIndex), 1)
	if err != nil {
		return false, err
	}
	return bitmap.Get(index % BitsPerBitmapBlock), nil
}

// CountAllocated returns the number of units below the limit that are marked
// as in use.
func (alloc *Allocator) CountAllocated() (uint, error) {
	alloc.lock.Lock()
	defer alloc.lock.Unlock()

	bitmap, err := LoadBitmap(alloc.device, alloc.start, alloc.blocks)
	if err != nil {
		return 0, err
	}
	return bitmap.CountSet(alloc.limit), nil
}

// AllocateFirstFree allocates the lowest free bit of the single bitmap block
// `bitmapBlock` and returns its absolute bit index.
func AllocateFirstFree(device c.BlockDevice, bitmapBlock c.LogicalBlock) (uint, error) {
	alloc := NewAllocator(device, "bitmap", bitmapBlock, 1, BitsPerBitmapBlock)
	return alloc.AllocateFirstFree()
}

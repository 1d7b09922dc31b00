package ext2_test

import (
	"sync"
	"testing"

	"github.com/dargueta/tinyext"
	c "github.com/dargueta/tinyext/file_systems/common"
	"github.com/dargueta/tinyext/file_systems/common/blockcache"
	"github.com/dargueta/tinyext/file_systems/ext2"
	dt "github.com/dargueta/tinyext/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBitmapDevice(t *testing.T, bitmap *ext2.Bitmap) *dt.CountingDevice {
	image := make([]byte, 2*ext2.BlockSize)
	device := dt.NewCountingDevice(blockcache.WrapBytes(image, ext2.BlockSize))
	if bitmap != nil {
		require.NoError(t, bitmap.StoreBlock(device, 1, 0))
	}
	device.Reset()
	return device
}

func TestAllocateFirstFree__ZeroedBitmap(t *testing.T) {
	device := newBitmapDevice(t, nil)

	index, err := ext2.AllocateFirstFree(device, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 0, index)

	raw := make([]byte, ext2.BlockSize)
	require.NoError(t, device.ReadBlock(raw, 1))
	expected := make([]byte, ext2.BlockSize)
	expected[7] = 0x80
	assert.Equal(t, expected, raw, "only the first bit should be set")
}

func TestAllocateFirstFree__LowestClearBit(t *testing.T) {
	bitmap := ext2.NewBitmap(1)
	for i := uint(0); i < bitmap.Capacity(); i++ {
		require.NoError(t, bitmap.Set(i))
	}
	require.NoError(t, bitmap.Clear(200))
	require.NoError(t, bitmap.Clear(77))
	device := newBitmapDevice(t, bitmap)

	index, err := ext2.AllocateFirstFree(device, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 77, index)
	assert.Equal(t, []c.LogicalBlock{1}, device.Writes)

	after, err := ext2.LoadBitmap(device, 1, 1)
	require.NoError(t, err)
	for i := uint(0); i < after.Capacity(); i++ {
		if i == 200 {
			assert.False(t, after.Get(i), "bit 200 must still be clear")
		} else {
			assert.Truef(t, after.Get(i), "bit %d should be set", i)
		}
	}
}

func TestAllocateFirstFree__Exhausted(t *testing.T) {
	bitmap := ext2.NewBitmap(1)
	for i := uint(0); i < bitmap.Capacity(); i++ {
		require.NoError(t, bitmap.Set(i))
	}
	device := newBitmapDevice(t, bitmap)

	_, err := ext2.AllocateFirstFree(device, 1)
	assert.ErrorIs(t, err, tinyext.ErrAllocationExhausted)
	assert.Empty(t, device.Writes, "nothing may be written when the bitmap is full")
}

func TestAllocator__Limit(t *testing.T) {
	device := newBitmapDevice(t, nil)
	alloc := ext2.NewAllocator(device, "test", 1, 1, 3)
	assert.EqualValues(t, 3, alloc.Limit())

	for i := uint(0); i < 3; i++ {
		index, err := alloc.AllocateFirstFree()
		require.NoError(t, err)
		assert.Equal(t, i, index)
	}

	device.Reset()
	_, err := alloc.AllocateFirstFree()
	assert.ErrorIs(t, err, tinyext.ErrAllocationExhausted)
	assert.Empty(t, device.Writes)

	count, err := alloc.CountAllocated()
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	_, err = alloc.IsAllocated(3)
	assert.ErrorIs(t, err, tinyext.ErrArgumentOutOfRange)
}

func TestAllocator__LimitClampedToCapacity(t *testing.T) {
	device := newBitmapDevice(t, nil)
	alloc := ext2.NewAllocator(device, "test", 1, 1, 100000)
	assert.EqualValues(t, ext2.BitsPerBitmapBlock, alloc.Limit())
}

func TestAllocator__Concurrent(t *testing.T) {
	const workers = 8
	const perWorker = 25

	device := blockcache.WrapBytes(make([]byte, 2*ext2.BlockSize), ext2.BlockSize)
	alloc := ext2.NewAllocator(device, "test", 1, 1, ext2.BitsPerBitmapBlock)

	results := make(chan uint, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				index, err := alloc.AllocateFirstFree()
				if assert.NoError(t, err) {
					results <- index
				}
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint]bool)
	for index := range results {
		assert.Falsef(t, seen[index], "unit %d allocated twice", index)
		seen[index] = true
	}
	assert.Len(t, seen, workers*perWorker)

	for i := uint(0); i < workers*perWorker; i++ {
		assert.Truef(t, seen[i], "unit %d was never allocated", i)
	}
}

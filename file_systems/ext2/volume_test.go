package ext2_test

import (
	"sync"
	"testing"

	"github.com/dargueta/tinyext"
	"github.com/dargueta/tinyext/file_systems/common/blockcache"
	"github.com/dargueta/tinyext/file_systems/ext2"
	dt "github.com/dargueta/tinyext/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mountFormatted(
	t *testing.T, totalBlocks uint, placement ext2.RootPlacement,
) (*ext2.Volume, ext2.FormatResult) {
	image, result := formatImage(t, totalBlocks, placement)
	volume, err := ext2.Mount(blockcache.WrapBytes(image, ext2.BlockSize))
	require.NoError(t, err)
	return volume, result
}

func TestMount__Formatted(t *testing.T) {
	volume, result := mountFormatted(t, 1024, ext2.PlaceRootInBoth)
	assert.Equal(t, result.Superblock, volume.Superblock())
	assert.NoError(t, volume.Check())

	root, err := volume.ReadInode(result.RootInode)
	require.NoError(t, err)
	assert.Equal(t, result.Root, root)

	stat := volume.Stat()
	assert.Equal(
		t,
		tinyext.FSStat{
			BlockSize:     1024,
			TotalBlocks:   1024,
			BlocksFree:    960,
			Files:         1,
			FilesFree:     1023,
			MaxFiles:      960,
			MaxNameLength: 255,
		},
		stat)
}

func TestMount__Unformatted(t *testing.T) {
	_, err := ext2.Mount(blockcache.WrapBytes(make([]byte, 100*ext2.BlockSize), ext2.BlockSize))
	assert.ErrorIs(t, err, tinyext.ErrCorruptSuperblock)
}

func TestMount__Truncated(t *testing.T) {
	image, _ := formatImage(t, 200, ext2.PlaceRootInBoth)
	_, err := ext2.Mount(blockcache.WrapBytes(image[:100*ext2.BlockSize], ext2.BlockSize))
	assert.ErrorIs(t, err, tinyext.ErrFileSystemCorrupted)
}

func TestVolume__AllocBlock(t *testing.T) {
	image, _ := formatImage(t, 1024, ext2.PlaceRootInBoth)
	device := blockcache.WrapBytes(image, ext2.BlockSize)
	volume, err := ext2.Mount(device)
	require.NoError(t, err)

	block, err := volume.AllocBlock()
	require.NoError(t, err)
	assert.EqualValues(t, 64, block)

	block, err = volume.AllocBlock()
	require.NoError(t, err)
	assert.EqualValues(t, 65, block)

	sb := volume.Superblock()
	assert.EqualValues(t, 958, sb.FreeBlocksCount)
	assert.EqualValues(t, 66, sb.LastAllocated)

	onDisk, err := ext2.ReadSuperblock(device)
	require.NoError(t, err)
	assert.Equal(t, sb, onDisk)
	assert.NoError(t, volume.Check())
}

func TestVolume__AllocBlock__Exhausted(t *testing.T) {
	volume, _ := mountFormatted(t, ext2.MinTotalBlocks, ext2.PlaceRootInBoth)

	block, err := volume.AllocBlock()
	require.NoError(t, err)
	assert.EqualValues(t, 64, block)

	_, err = volume.AllocBlock()
	assert.ErrorIs(t, err, tinyext.ErrAllocationExhausted)
	assert.EqualValues(t, 0, volume.Superblock().FreeBlocksCount)
	assert.NoError(t, volume.Check())
}

// The inode table only has room for 960 inodes even though the superblock
// counts 1024.
func TestVolume__AllocInode__TableLimit(t *testing.T) {
	volume, _ := mountFormatted(t, 100, ext2.PlaceRootInBoth)

	for i := 1; i < ext2.InodeTableSlots; i++ {
		inumber, err := volume.AllocInode()
		require.NoError(t, err)
		require.EqualValues(t, i, inumber)
	}

	_, err := volume.AllocInode()
	assert.ErrorIs(t, err, tinyext.ErrAllocationExhausted)

	sb := volume.Superblock()
	assert.EqualValues(t, ext2.InodeTableSlots, sb.InodesCount)
	assert.EqualValues(t, ext2.MaxFileCount-ext2.InodeTableSlots, sb.FreeInodesCount)
	assert.NoError(t, volume.Check())
}

func TestVolume__ReadWriteInode(t *testing.T) {
	volume, result := mountFormatted(t, 100, ext2.PlaceRootInBoth)

	inumber, err := volume.AllocInode()
	require.NoError(t, err)
	assert.EqualValues(t, 1, inumber)

	file := ext2.Inode{Mode: tinyext.S_IFREG | 0o644, Size: 12, LinkCount: 1}
	require.NoError(t, volume.WriteInode(inumber, &file))

	read, err := volume.ReadInode(inumber)
	require.NoError(t, err)
	assert.Equal(t, file, read)

	root, err := volume.ReadInode(result.RootInode)
	require.NoError(t, err)
	assert.Equal(t, result.Root, root, "writing inode 1 clobbered inode 0")

	_, err = volume.ReadInode(ext2.InodeTableSlots)
	assert.ErrorIs(t, err, tinyext.ErrArgumentOutOfRange)
	assert.ErrorIs(t, volume.WriteInode(ext2.InodeTableSlots, &file), tinyext.ErrArgumentOutOfRange)
}

func TestVolume__ConcurrentAllocation(t *testing.T) {
	const workers = 6
	const perWorker = 20

	volume, _ := mountFormatted(t, 1024, ext2.PlaceRootInBoth)

	blocks := make(chan ext2.PhysicalBlock, workers*perWorker)
	inodes := make(chan ext2.Inumber, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				block, err := volume.AllocBlock()
				if assert.NoError(t, err) {
					blocks <- block
				}
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				inumber, err := volume.AllocInode()
				if assert.NoError(t, err) {
					inodes <- inumber
				}
			}
		}()
	}
	wg.Wait()
	close(blocks)
	close(inodes)

	seenBlocks := make(map[ext2.PhysicalBlock]bool)
	for block := range blocks {
		assert.Falsef(t, seenBlocks[block], "block %d allocated twice", block)
		assert.GreaterOrEqual(t, block, ext2.PhysicalBlock(64))
		seenBlocks[block] = true
	}
	seenInodes := make(map[ext2.Inumber]bool)
	for inumber := range inodes {
		assert.Falsef(t, seenInodes[inumber], "inode %d allocated twice", inumber)
		assert.NotZero(t, inumber)
		seenInodes[inumber] = true
	}
	assert.Len(t, seenBlocks, workers*perWorker)
	assert.Len(t, seenInodes, workers*perWorker)

	sb := volume.Superblock()
	assert.EqualValues(t, 960-workers*perWorker, sb.FreeBlocksCount)
	assert.EqualValues(t, 1023-workers*perWorker, sb.FreeInodesCount)
	assert.EqualValues(t, 1+workers*perWorker, sb.InodesCount)
	assert.NoError(t, volume.Check())
}

func TestVolume__Check__BadCounters(t *testing.T) {
	image, _ := formatImage(t, 100, ext2.PlaceRootInBoth)
	device := blockcache.WrapBytes(image, ext2.BlockSize)

	sb, err := ext2.ReadSuperblock(device)
	require.NoError(t, err)
	sb.FreeBlocksCount--
	sb.InodesCount = 3
	require.NoError(t, ext2.WriteSuperblock(device, &sb))

	volume, err := ext2.Mount(device)
	require.NoError(t, err)

	err = volume.Check()
	assert.ErrorIs(t, err, tinyext.ErrFileSystemCorrupted)
	assert.Contains(t, err.Error(), "free block count is 35")
	assert.Contains(t, err.Error(), "inode count is 3")
	assert.Contains(t, err.Error(), "doesn't add up to 1024")
}

// Images with the root inode only in its data block are valid.
func TestVolume__Check__RootOnlyInDataBlock(t *testing.T) {
	volume, result := mountFormatted(t, ext2.MinTotalBlocks, ext2.PlaceRootInDataBlock)
	assert.NoError(t, volume.Check())

	fromTable, err := volume.ReadInode(ext2.RootInumber)
	require.NoError(t, err)
	assert.Equal(t, ext2.Inode{}, fromTable)

	root, err := volume.ReadRootInode()
	require.NoError(t, err)
	assert.Equal(t, result.Root, root)
}

func TestVolume__ReadRootInode__PrefersInodeTable(t *testing.T) {
	image, result := formatImage(t, 100, ext2.PlaceRootInInodeTable)
	device := blockcache.WrapBytes(image, ext2.BlockSize)

	// Garbage in the root's data block must not be read.
	garbage := make([]byte, ext2.BlockSize)
	for i := range garbage {
		garbage[i] = 0xff
	}
	require.NoError(t, device.WriteBlock(garbage, ext2.FirstDataBlock))

	volume, err := ext2.Mount(device)
	require.NoError(t, err)
	root, err := volume.ReadRootInode()
	require.NoError(t, err)
	assert.Equal(t, result.Root, root)
	assert.NoError(t, volume.Check())
}

// A root inode found nowhere is still reported.
func TestVolume__Check__RootMissing(t *testing.T) {
	image, _ := formatImage(t, 100, ext2.PlaceRootInDataBlock)
	device := blockcache.WrapBytes(image, ext2.BlockSize)
	require.NoError(t, device.WriteBlock(make([]byte, ext2.BlockSize), ext2.FirstDataBlock))

	volume, err := ext2.Mount(device)
	require.NoError(t, err)
	err = volume.Check()
	assert.ErrorIs(t, err, tinyext.ErrFileSystemCorrupted)
	assert.Contains(t, err.Error(), "root inode has mode 0x0000, expected a directory")
}

// Inspecting a volume never writes to the image.
func TestVolume__InspectionIsReadOnly(t *testing.T) {
	for _, placement := range []ext2.RootPlacement{
		ext2.PlaceRootInBoth, ext2.PlaceRootInDataBlock, ext2.PlaceRootInInodeTable,
	} {
		image, result := formatImage(t, 200, placement)
		counting := dt.NewCountingDevice(
			dt.CreateDefaultCache(ext2.BlockSize, 200, false, image, t))

		volume, err := ext2.Mount(counting)
		require.NoError(t, err)

		root, err := volume.ReadRootInode()
		require.NoError(t, err)
		assert.Equal(t, result.Root, root, placement.String())

		_, err = volume.ReadInode(5)
		require.NoError(t, err)
		assert.EqualValues(t, 199-ext2.FirstDataBlock, volume.Stat().BlocksFree)
		assert.NoError(t, volume.Check(), placement.String())

		assert.Emptyf(t, counting.Writes, "%s: image was written to", placement)
		assert.NoError(t, counting.Flush(), placement.String())
	}
}

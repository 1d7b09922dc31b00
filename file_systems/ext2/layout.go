package ext2

import (
	c "github.com/dargueta/tinyext/file_systems/common"
)

// PhysicalBlock is a block number as stored on disk.
type PhysicalBlock uint16

// Inumber is an inode number. Inode 0 is a valid inode; the root directory
// gets it on a fresh image.
type Inumber uint16

// RootInumber is the inode number Format gives the root directory.
const RootInumber = Inumber(0)

const BlockSize = 1024
const Magic = 0xEF53

// MaxFileCount is the declared inode capacity recorded in the superblock's
// counters. The inode table can only hold [InodeTableSlots] of them, which
// caps what the allocator will hand out.
const MaxFileCount = 1024

const SuperblockBlock = c.LogicalBlock(0)
const BlockBitmapBlock = c.LogicalBlock(1)
const BlockBitmapBlocks = 1
const InodeBitmapBlock = BlockBitmapBlock + BlockBitmapBlocks
const InodeBitmapBlocks = 1
const InodeTableBlock = InodeBitmapBlock + InodeBitmapBlocks
const InodeTableBlocks = 60

// FirstDataBlock is both the first block of the data region and the number of
// blocks reserved for metadata.
const FirstDataBlock = InodeTableBlock + InodeTableBlocks

const InodeSize = 64
const InodesPerBlock = BlockSize / InodeSize
const InodeTableSlots = InodeTableBlocks * InodesPerBlock

// BitsPerBitmapBlock is the number of units one bitmap block can track.
const BitsPerBitmapBlock = BlockSize * 8

// MinTotalBlocks is the smallest image Format accepts: all the metadata, the
// root directory's first data block, and one spare.
const MinTotalBlocks = uint(FirstDataBlock) + 2

// MaxTotalBlocks is the largest block count the 16-bit superblock fields can
// describe.
const MaxTotalBlocks = 0xffff

// InodeCapacity is the number of inodes that can actually be allocated: the
// smallest of the declared file count, the bits in the inode bitmap, and the
// slots in the inode table.
func InodeCapacity() uint {
	return minUint(MaxFileCount, minUint(InodeBitmapBlocks*BitsPerBitmapBlock, InodeTableSlots))
}

// DataBlockCapacity is the number of data blocks that can be allocated on an
// image of `totalBlocks` blocks, limited by the size of the block bitmap.
func DataBlockCapacity(totalBlocks uint) uint {
	if totalBlocks <= uint(FirstDataBlock) {
		return 0
	}
	return minUint(totalBlocks-uint(FirstDataBlock), BlockBitmapBlocks*BitsPerBitmapBlock)
}

// InodeLocation gives the inode-table block holding inode `inumber` and the
// byte offset of its record within that block.
func InodeLocation(inumber Inumber) (c.LogicalBlock, uint) {
	block := InodeTableBlock + c.LogicalBlock(uint(inumber)/InodesPerBlock)
	offset := (uint(inumber) % InodesPerBlock) * InodeSize
	return block, offset
}

func minUint(a, b uint) uint {
	if a < b {
		return a
	}
	return b
}

package ext2

import (
	"fmt"
	"sync"

	"github.com/dargueta/tinyext"
	c "github.com/dargueta/tinyext/file_systems/common"
	"github.com/dargueta/tinyext/utilities/logging"
	"github.com/hashicorp/go-multierror"
)

// Volume is a formatted image opened for metadata access. The superblock's
// free counters are only ever changed by the volume's allocation methods,
// which update them together with the bitmap and write the superblock back.
type Volume struct {
	lock       sync.Mutex // protects superblock
	device     c.BlockDevice
	superblock Superblock
	inodes     *Allocator
	blocks     *Allocator
}

// Mount reads and validates the superblock of `device`.
func Mount(device c.BlockDevice) (*Volume, error) {
	sb, err := ReadSuperblock(device)
	if err != nil {
		return nil, err
	}

	err = sb.Validate(device.TotalBlocks())
	if err != nil {
		return nil, err
	}

	logging.DPrintf(
		1, "mount: %d blocks, %d free; %d inodes in use, %d free\n",
		sb.BlocksCount, sb.FreeBlocksCount, sb.InodesCount, sb.FreeInodesCount)
	return newVolume(device, sb), nil
}

func newVolume(device c.BlockDevice, sb Superblock) *Volume {
	return &Volume{
		device:     device,
		superblock: sb,
		inodes: NewAllocator(
			device, "inode bitmap", InodeBitmapBlock, InodeBitmapBlocks, InodeCapacity()),
		blocks: NewAllocator(
			device,
			"block bitmap",
			BlockBitmapBlock,
			BlockBitmapBlocks,
			DataBlockCapacity(uint(sb.BlocksCount)),
		),
	}
}

// Superblock returns a copy of the in-memory superblock.
func (volume *Volume) Superblock() Superblock {
	volume.lock.Lock()
	defer volume.lock.Unlock()
	return volume.superblock
}

// AllocInode allocates the lowest free inode number.
func (volume *Volume) AllocInode() (Inumber, error) {
	volume.lock.Lock()
	defer volume.lock.Unlock()

	if volume.superblock.FreeInodesCount == 0 {
		return 0, tinyext.ErrAllocationExhausted.WithMessage("free inode count is 0")
	}

	index, err := volume.inodes.AllocateFirstFree()
	if err != nil {
		return 0, err
	}

	volume.superblock.FreeInodesCount--
	volume.superblock.InodesCount++
	err = WriteSuperblock(volume.device, &volume.superblock)
	if err != nil {
		return 0, err
	}
	return Inumber(index), nil
}

// AllocBlock allocates the lowest free data block and returns its block ID.
func (volume *Volume) AllocBlock() (PhysicalBlock, error) {
	volume.lock.Lock()
	defer volume.lock.Unlock()

	if volume.superblock.FreeBlocksCount == 0 {
		return 0, tinyext.ErrAllocationExhausted.WithMessage("free block count is 0")
	}

	index, err := volume.blocks.AllocateFirstFree()
	if err != nil {
		return 0, err
	}

	block := PhysicalBlock(uint(FirstDataBlock) + index)
	volume.superblock.FreeBlocksCount--
	volume.superblock.LastAllocated = uint16(block) + 1
	err = WriteSuperblock(volume.device, &volume.superblock)
	if err != nil {
		return 0, err
	}
	return block, nil
}

func (volume *Volume) checkInumber(inumber Inumber) error {
	if uint(inumber) >= volume.inodes.Limit() {
		return tinyext.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("inode %d not in range [0, %d)", inumber, volume.inodes.Limit()))
	}
	return nil
}

// ReadInode reads inode `inumber` from the inode table.
func (volume *Volume) ReadInode(inumber Inumber) (Inode, error) {
	if err := volume.checkInumber(inumber); err != nil {
		return Inode{}, err
	}

	block, offset := InodeLocation(inumber)
	buffer := make([]byte, BlockSize)
	err := volume.device.ReadBlock(buffer, block)
	if err != nil {
		return Inode{}, tinyext.CastToDriverError(err)
	}
	return DecodeInode(buffer[offset:])
}

// ReadRootInode reads the root directory's inode. If its inode-table slot is
// empty, the record is read from offset `RootInumber * 64` of the first data
// block instead, which is where [PlaceRootInDataBlock] puts it.
func (volume *Volume) ReadRootInode() (Inode, error) {
	root, err := volume.ReadInode(RootInumber)
	if err != nil || root != (Inode{}) {
		return root, err
	}

	logging.DPrintf(2, "root inode slot is empty, reading it from block %d\n", FirstDataBlock)
	buffer := make([]byte, BlockSize)
	err = volume.device.ReadBlock(buffer, FirstDataBlock)
	if err != nil {
		return Inode{}, tinyext.CastToDriverError(err)
	}
	return DecodeInode(buffer[uint(RootInumber)*InodeSize:])
}

// WriteInode stores `inode` in the inode-table slot of `inumber`, leaving the
// other inodes in the same block untouched.
func (volume *Volume) WriteInode(inumber Inumber, inode *Inode) error {
	if err := volume.checkInumber(inumber); err != nil {
		return err
	}

	block, offset := InodeLocation(inumber)
	buffer := make([]byte, BlockSize)
	err := volume.device.ReadBlock(buffer, block)
	if err != nil {
		return tinyext.CastToDriverError(err)
	}

	err = inode.EncodeInto(buffer, offset)
	if err != nil {
		return err
	}
	return tinyext.CastToDriverError(volume.device.WriteBlock(buffer, block))
}

// Stat summarizes the volume's geometry and counters.
func (volume *Volume) Stat() tinyext.FSStat {
	sb := volume.Superblock()
	return tinyext.FSStat{
		BlockSize:     uint64(sb.BlockSize),
		TotalBlocks:   uint64(sb.BlocksCount),
		BlocksFree:    uint64(sb.FreeBlocksCount),
		Files:         uint64(sb.InodesCount),
		FilesFree:     uint64(sb.FreeInodesCount),
		MaxFiles:      uint64(volume.inodes.Limit()),
		MaxNameLength: MaxNameLength,
	}
}

// Check compares the superblock's counters against the allocation bitmaps and
// reports every mismatch it finds.
func (volume *Volume) Check() error {
	sb := volume.Superblock()
	var result *multierror.Error

	usedBlocks, err := volume.blocks.CountAllocated()
	if err != nil {
		return err
	}
	dataBlocks := uint(sb.BlocksCount) - uint(FirstDataBlock)
	if uint(sb.FreeBlocksCount)+usedBlocks != dataBlocks {
		result = multierror.Append(result, fmt.Errorf(
			"free block count is %d but %d of %d data blocks are marked in use",
			sb.FreeBlocksCount, usedBlocks, dataBlocks))
	}

	usedInodes, err := volume.inodes.CountAllocated()
	if err != nil {
		return err
	}
	if uint(sb.InodesCount) != usedInodes {
		result = multierror.Append(result, fmt.Errorf(
			"inode count is %d but %d inodes are marked in use",
			sb.InodesCount, usedInodes))
	}
	if uint(sb.InodesCount)+uint(sb.FreeInodesCount) != MaxFileCount {
		result = multierror.Append(result, fmt.Errorf(
			"%d used plus %d free inodes doesn't add up to %d",
			sb.InodesCount, sb.FreeInodesCount, MaxFileCount))
	}

	if sb.InodesCount > 0 {
		if used, err := volume.inodes.IsAllocated(uint(RootInumber)); err != nil {
			return err
		} else if used {
			root, err := volume.ReadRootInode()
			if err != nil {
				return err
			}
			if !root.IsDir() {
				result = multierror.Append(result, fmt.Errorf(
					"root inode has mode %#04x, expected a directory", root.Mode))
			}
		}
	}

	if err = result.ErrorOrNil(); err != nil {
		return tinyext.ErrFileSystemCorrupted.Wrap(err)
	}
	return nil
}

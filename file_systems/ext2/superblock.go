package ext2

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dargueta/tinyext"
	c "github.com/dargueta/tinyext/file_systems/common"
	"github.com/noxer/bytewriter"
)

// SuperblockSize is the size of the encoded record, not the block holding it.
const SuperblockSize = 16

// Superblock describes the geometry of the image and its capacity counters.
// Field order is the on-disk order.
type Superblock struct {
	InodesCount     uint16 // Number of inodes in use
	BlocksCount     uint16 // Number of blocks in the image
	FreeBlocksCount uint16
	FreeInodesCount uint16
	FirstDataBlock  uint16 // Also the number of reserved metadata blocks
	BlockSize       uint16
	LastAllocated   uint16 // Block ID of the last allocated block + 1
	Magic           uint16
}

// Encode serializes the superblock into a full block, zero-padded after the
// record.
func (sb *Superblock) Encode() []byte {
	block := make([]byte, BlockSize)
	writer := bytewriter.New(block)

	// Can't fail; the record is much smaller than the block.
	binary.Write(writer, binary.LittleEndian, sb)
	return block
}

// DecodeSuperblock deserializes a superblock from the beginning of `data`. It
// fails with [tinyext.ErrCorruptSuperblock] if the magic number is wrong.
func DecodeSuperblock(data []byte) (Superblock, error) {
	var sb Superblock
	if len(data) < SuperblockSize {
		return sb, tinyext.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("superblock needs %d bytes, got %d", SuperblockSize, len(data)))
	}

	err := binary.Read(bytes.NewReader(data[:SuperblockSize]), binary.LittleEndian, &sb)
	if err != nil {
		return Superblock{}, tinyext.ErrIOFailed.Wrap(err)
	}

	if sb.Magic != Magic {
		return Superblock{}, tinyext.ErrCorruptSuperblock.WithMessage(
			fmt.Sprintf("expected %#04x, got %#04x", Magic, sb.Magic))
	}
	return sb, nil
}

// Validate checks that the superblock's geometry matches what this package
// writes and is consistent with a device of `totalBlocks` blocks.
func (sb *Superblock) Validate(totalBlocks uint) error {
	if sb.Magic != Magic {
		return tinyext.ErrCorruptSuperblock.WithMessage(
			fmt.Sprintf("expected %#04x, got %#04x", Magic, sb.Magic))
	}
	if sb.BlockSize != BlockSize {
		return tinyext.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("block size must be %d, got %d", BlockSize, sb.BlockSize))
	}
	if sb.FirstDataBlock != uint16(FirstDataBlock) {
		return tinyext.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"first data block must be %d, got %d", FirstDataBlock, sb.FirstDataBlock))
	}
	if uint(sb.BlocksCount) > totalBlocks {
		return tinyext.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"superblock claims %d blocks but the device only has %d",
				sb.BlocksCount,
				totalBlocks))
	}
	if uint(sb.BlocksCount) <= uint(FirstDataBlock) {
		return tinyext.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("block count %d leaves no data region", sb.BlocksCount))
	}
	if uint(sb.FreeBlocksCount) > uint(sb.BlocksCount)-uint(FirstDataBlock) {
		return tinyext.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"%d free blocks is more than the %d-block data region",
				sb.FreeBlocksCount,
				uint(sb.BlocksCount)-uint(FirstDataBlock)))
	}
	return nil
}

// ReadSuperblock reads and decodes the superblock from block 0 of `device`.
func ReadSuperblock(device c.BlockDevice) (Superblock, error) {
	if err := checkBlockSize(device); err != nil {
		return Superblock{}, err
	}

	buffer := make([]byte, BlockSize)
	err := device.ReadBlock(buffer, SuperblockBlock)
	if err != nil {
		return Superblock{}, tinyext.CastToDriverError(err)
	}
	return DecodeSuperblock(buffer)
}

// WriteSuperblock encodes `sb` and writes it to block 0 of `device`.
func WriteSuperblock(device c.BlockDevice, sb *Superblock) error {
	return tinyext.CastToDriverError(device.WriteBlock(sb.Encode(), SuperblockBlock))
}

func checkBlockSize(device c.BlockDevice) error {
	if device.BytesPerBlock() != BlockSize {
		return tinyext.ErrNotSupported.WithMessage(
			fmt.Sprintf(
				"device blocks must be %d bytes, got %d", BlockSize, device.BytesPerBlock()))
	}
	return nil
}

package ext2

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dargueta/tinyext"
	"github.com/noxer/bytewriter"
)

const NumDirectBlocks = 10
const IndirectBlockSlot = NumDirectBlocks
const NumBlockPointers = IndirectBlockSlot + 1

// Inode is the 64-byte metadata record of a file, directory or symbolic link.
// Field order is the on-disk order.
type Inode struct {
	Mode       uint16 // Type tag, one of S_IFDIR, S_IFREG, S_IFLNK
	Size       uint64
	Atime      uint64 // Unix seconds
	Ctime      uint64
	Mtime      uint64
	LinkCount  uint16
	BlockCount uint16 // Number of data blocks owned
	Flags      uint32
	// Blocks holds the direct block pointers followed by the indirect block
	// slot, which is never populated.
	Blocks [NumBlockPointers]PhysicalBlock
}

// NewDirectory creates the inode of an empty directory whose contents start in
// `firstBlock`.
func NewDirectory(timestamp uint64, flags uint32, firstBlock PhysicalBlock) Inode {
	inode := Inode{
		Mode:       tinyext.S_IFDIR,
		Size:       0,
		Atime:      timestamp,
		Ctime:      timestamp,
		Mtime:      timestamp,
		LinkCount:  1,
		BlockCount: 1,
		Flags:      flags,
	}
	inode.Blocks[0] = firstBlock
	return inode
}

// Type returns the type bits of the inode's mode.
func (inode *Inode) Type() uint16 {
	return inode.Mode & tinyext.S_IFMT
}

func (inode *Inode) IsDir() bool {
	return inode.Type() == tinyext.S_IFDIR
}

func (inode *Inode) IsRegular() bool {
	return inode.Type() == tinyext.S_IFREG
}

func (inode *Inode) IsSymlink() bool {
	return inode.Type() == tinyext.S_IFLNK
}

// Encode serializes the inode into exactly [InodeSize] bytes.
func (inode *Inode) Encode() []byte {
	record := make([]byte, InodeSize)
	writer := bytewriter.New(record)
	binary.Write(writer, binary.LittleEndian, inode)
	return record
}

// EncodeInto writes the serialized inode into `block` at `offset`.
func (inode *Inode) EncodeInto(block []byte, offset uint) error {
	if offset+InodeSize > uint(len(block)) {
		return tinyext.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"inode at offset %d doesn't fit in a %d-byte buffer", offset, len(block)))
	}
	copy(block[offset:offset+InodeSize], inode.Encode())
	return nil
}

// DecodeInode deserializes an inode from the first [InodeSize] bytes of `data`.
func DecodeInode(data []byte) (Inode, error) {
	var inode Inode
	if len(data) < InodeSize {
		return inode, tinyext.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("inode needs %d bytes, got %d", InodeSize, len(data)))
	}

	err := binary.Read(bytes.NewReader(data[:InodeSize]), binary.LittleEndian, &inode)
	if err != nil {
		return Inode{}, tinyext.ErrIOFailed.Wrap(err)
	}
	return inode, nil
}

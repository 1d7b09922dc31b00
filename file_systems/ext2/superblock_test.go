package ext2_test

import (
	"testing"

	"github.com/dargueta/tinyext"
	"github.com/dargueta/tinyext/file_systems/common/blockcache"
	"github.com/dargueta/tinyext/file_systems/ext2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSuperblock() ext2.Superblock {
	return ext2.Superblock{
		InodesCount:     1,
		BlocksCount:     1024,
		FreeBlocksCount: 960,
		FreeInodesCount: 1023,
		FirstDataBlock:  63,
		BlockSize:       1024,
		LastAllocated:   64,
		Magic:           ext2.Magic,
	}
}

func TestSuperblock__Encode__Layout(t *testing.T) {
	sb := sampleSuperblock()
	encoded := sb.Encode()
	require.Len(t, encoded, ext2.BlockSize)

	assert.Equal(
		t,
		[]byte{
			0x01, 0x00, // inodes
			0x00, 0x04, // blocks
			0xc0, 0x03, // free blocks
			0xff, 0x03, // free inodes
			0x3f, 0x00, // first data block
			0x00, 0x04, // block size
			0x40, 0x00, // last allocated
			0x53, 0xef, // magic
		},
		encoded[:ext2.SuperblockSize],
	)
	assert.Equal(t, make([]byte, ext2.BlockSize-ext2.SuperblockSize), encoded[ext2.SuperblockSize:])
}

func TestSuperblock__RoundTrip(t *testing.T) {
	sb := sampleSuperblock()
	decoded, err := ext2.DecodeSuperblock(sb.Encode())
	require.NoError(t, err)
	assert.Equal(t, sb, decoded)
}

func TestSuperblock__Decode__BadMagic(t *testing.T) {
	sb := sampleSuperblock()
	sb.Magic = 0x1234
	_, err := ext2.DecodeSuperblock(sb.Encode())
	assert.ErrorIs(t, err, tinyext.ErrCorruptSuperblock)

	_, err = ext2.DecodeSuperblock(make([]byte, ext2.BlockSize))
	assert.ErrorIs(t, err, tinyext.ErrCorruptSuperblock)
}

func TestSuperblock__Decode__Short(t *testing.T) {
	_, err := ext2.DecodeSuperblock(make([]byte, ext2.SuperblockSize-1))
	assert.ErrorIs(t, err, tinyext.ErrInvalidArgument)
}

func TestSuperblock__Validate(t *testing.T) {
	sb := sampleSuperblock()
	assert.NoError(t, sb.Validate(1024))
	assert.NoError(t, sb.Validate(2048), "devices may be bigger than the file system")
	assert.ErrorIs(t, sb.Validate(1000), tinyext.ErrFileSystemCorrupted)

	bad := sampleSuperblock()
	bad.BlockSize = 512
	assert.ErrorIs(t, bad.Validate(1024), tinyext.ErrFileSystemCorrupted)

	bad = sampleSuperblock()
	bad.FirstDataBlock = 10
	assert.ErrorIs(t, bad.Validate(1024), tinyext.ErrFileSystemCorrupted)

	bad = sampleSuperblock()
	bad.FreeBlocksCount = 1000
	assert.ErrorIs(t, bad.Validate(1024), tinyext.ErrFileSystemCorrupted)

	bad = sampleSuperblock()
	bad.Magic = 0
	assert.ErrorIs(t, bad.Validate(1024), tinyext.ErrCorruptSuperblock)
}

func TestSuperblock__ReadWrite(t *testing.T) {
	device := blockcache.WrapBytes(make([]byte, 4*ext2.BlockSize), ext2.BlockSize)
	sb := sampleSuperblock()
	require.NoError(t, ext2.WriteSuperblock(device, &sb))

	read, err := ext2.ReadSuperblock(device)
	require.NoError(t, err)
	assert.Equal(t, sb, read)
}

func TestSuperblock__Read__WrongBlockSize(t *testing.T) {
	device := blockcache.WrapBytes(make([]byte, 4*512), 512)
	_, err := ext2.ReadSuperblock(device)
	assert.ErrorIs(t, err, tinyext.ErrNotSupported)
}

package tinyext

// FSStat is a summary of the geometry and capacity of a mounted volume.
type FSStat struct {
	// BlockSize is the size of a single block, in bytes.
	BlockSize uint64
	// TotalBlocks is the number of blocks in the image, metadata included.
	TotalBlocks uint64
	// BlocksFree is the free block counter recorded in the superblock.
	BlocksFree uint64
	// Files is the number of inodes in use.
	Files uint64
	// FilesFree is the free inode counter recorded in the superblock.
	FilesFree uint64
	// MaxFiles is the number of inodes the volume can actually address.
	MaxFiles uint64
	// MaxNameLength is the longest name a directory entry can hold, in bytes.
	MaxNameLength uint64
}

// Package common contains definitions of fundamental types and interfaces
// shared by the block cache and the file system implementation.
package common

type LogicalBlock uint

// BlockDevice is the boundary between the file system and whatever stores the
// image. Reads and writes always transfer exactly one block; `buffer` must be
// BytesPerBlock() bytes long.
type BlockDevice interface {
	// BytesPerBlock returns the size of a single block, in bytes.
	BytesPerBlock() uint
	// TotalBlocks returns the number of blocks on the device.
	TotalBlocks() uint
	// ReadBlock fills `buffer` with the contents of block `block`.
	ReadBlock(buffer []byte, block LogicalBlock) error
	// WriteBlock replaces the contents of block `block` with `buffer`.
	WriteBlock(buffer []byte, block LogicalBlock) error
}

// Flusher is implemented by devices that buffer writes. Flush must write all
// pending changes to the backing storage.
type Flusher interface {
	Flush() error
}

// Truncator is an interface for objects that support a Truncate() method. This
// method must behave just like [os.File.Truncate].
type Truncator interface {
	Truncate(size int64) error
}

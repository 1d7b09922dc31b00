package ext2

import (
	"fmt"
	"time"

	"github.com/dargueta/tinyext"
	c "github.com/dargueta/tinyext/file_systems/common"
	"github.com/dargueta/tinyext/file_systems/common/blockcache"
	"github.com/dargueta/tinyext/utilities/logging"
)

// Codes carried by [FormatError], one per way formatting can fail.
const (
	FormatCodeInodeAlloc    = 1
	FormatCodeBlockAlloc    = 2
	FormatCodeImageTooSmall = 3
	FormatCodeImageTooLarge = 4
	FormatCodeBadImageSize  = 5
	FormatCodeIOFailed      = 6
)

// FormatError is returned by [Format]. Code tells which step failed. It
// matches both [tinyext.ErrFormatFailed] and the underlying cause with
// errors.Is.
type FormatError struct {
	Code int
	Err  error
}

func (e *FormatError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("Error when formatting: code %d", e.Code)
	}
	return fmt.Sprintf("Error when formatting: code %d: %s", e.Code, e.Err.Error())
}

func (e *FormatError) Unwrap() error {
	if e.Err == nil {
		return tinyext.ErrFormatFailed
	}
	return tinyext.ErrFormatFailed.Wrap(e.Err)
}

func newFormatError(code int, err error) *FormatError {
	return &FormatError{Code: code, Err: err}
}

// RootPlacement selects where [Format] stores the root directory's inode.
type RootPlacement int

const (
	// PlaceRootInBoth writes the root inode into its inode-table slot and
	// also into the root directory's data block at offset `inumber * 64`.
	PlaceRootInBoth RootPlacement = iota
	// PlaceRootInDataBlock only writes the root inode into the root
	// directory's data block, at offset `inumber * 64`. The inode-table slot
	// stays empty; [Volume.ReadRootInode] falls back to the data block.
	PlaceRootInDataBlock
	// PlaceRootInInodeTable only writes the root inode into the inode table,
	// leaving the root directory's data block zeroed.
	PlaceRootInInodeTable
)

func (p RootPlacement) String() string {
	switch p {
	case PlaceRootInBoth:
		return "both"
	case PlaceRootInDataBlock:
		return "data"
	case PlaceRootInInodeTable:
		return "table"
	default:
		return fmt.Sprintf("RootPlacement(%d)", int(p))
	}
}

// ParseRootPlacement is the inverse of RootPlacement.String.
func ParseRootPlacement(name string) (RootPlacement, error) {
	for _, p := range []RootPlacement{PlaceRootInBoth, PlaceRootInDataBlock, PlaceRootInInodeTable} {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, tinyext.ErrInvalidArgument.WithMessage(
		fmt.Sprintf("unknown root placement %q; expected both, data, or table", name))
}

// FormatOptions controls the contents of the root directory's inode. The zero
// value is usable.
type FormatOptions struct {
	// Clock gives the creation time of the root directory. Defaults to
	// time.Now.
	Clock func() time.Time
	// RootFlags is stored in the root inode's flags field.
	RootFlags uint32
	// RootPlacement defaults to PlaceRootInBoth.
	RootPlacement RootPlacement
}

// FormatResult describes the freshly formatted image.
type FormatResult struct {
	Superblock Superblock
	RootInode  Inumber
	RootBlock  PhysicalBlock
	Root       Inode
}

// Format lays out an empty file system on `device` and creates the root
// directory. The image size must be more than 64 blocks and at most
// [MaxTotalBlocks] blocks; both limits are checked before anything is written.
//
// There is no rollback. If a step fails, the image is left partially written.
func Format(device c.BlockDevice, options FormatOptions) (FormatResult, error) {
	if err := checkBlockSize(device); err != nil {
		return FormatResult{}, newFormatError(FormatCodeBadImageSize, err)
	}

	totalBlocks := device.TotalBlocks()
	if totalBlocks < MinTotalBlocks {
		return FormatResult{}, newFormatError(
			FormatCodeImageTooSmall,
			tinyext.ErrInvalidArgument.WithMessage(
				fmt.Sprintf(
					"minimum image size is %d blocks (%d KiB), got %d",
					MinTotalBlocks,
					MinTotalBlocks*BlockSize/1024,
					totalBlocks)))
	}
	if totalBlocks > MaxTotalBlocks {
		return FormatResult{}, newFormatError(
			FormatCodeImageTooLarge,
			tinyext.ErrFileTooLarge.WithMessage(
				fmt.Sprintf(
					"maximum image size is %d blocks, got %d", MaxTotalBlocks, totalBlocks)))
	}

	clock := options.Clock
	if clock == nil {
		clock = time.Now
	}

	logging.DPrintf(1, "format: %d blocks, root placement %s\n", totalBlocks, options.RootPlacement)

	// The counters start out describing an empty image. Allocating the root
	// directory's inode and block below updates them through the volume.
	sb := Superblock{
		InodesCount:     0,
		BlocksCount:     uint16(totalBlocks),
		FreeBlocksCount: uint16(totalBlocks - uint(FirstDataBlock)),
		FreeInodesCount: MaxFileCount,
		FirstDataBlock:  uint16(FirstDataBlock),
		BlockSize:       BlockSize,
		LastAllocated:   uint16(FirstDataBlock),
		Magic:           Magic,
	}
	err := WriteSuperblock(device, &sb)
	if err != nil {
		return FormatResult{}, newFormatError(FormatCodeIOFailed, err)
	}

	emptyBitmap := NewBitmap(1)
	for _, bitmapBlock := range []c.LogicalBlock{BlockBitmapBlock, InodeBitmapBlock} {
		err = emptyBitmap.StoreBlock(device, bitmapBlock, 0)
		if err != nil {
			return FormatResult{}, newFormatError(FormatCodeIOFailed, err)
		}
	}

	volume := newVolume(device, sb)

	inumber, err := volume.AllocInode()
	if err != nil {
		return FormatResult{}, newFormatError(FormatCodeInodeAlloc, err)
	}
	rootBlock, err := volume.AllocBlock()
	if err != nil {
		return FormatResult{}, newFormatError(FormatCodeBlockAlloc, err)
	}
	logging.DPrintf(2, "format: root directory is inode %d, block %d\n", inumber, rootBlock)

	root := NewDirectory(uint64(clock().Unix()), options.RootFlags, rootBlock)

	// Whatever else happens, the directory's data block starts out zeroed.
	dataBlock := make([]byte, BlockSize)
	if options.RootPlacement != PlaceRootInInodeTable {
		err = root.EncodeInto(dataBlock, uint(inumber)*InodeSize)
		if err != nil {
			return FormatResult{}, newFormatError(FormatCodeIOFailed, err)
		}
	}
	err = device.WriteBlock(dataBlock, c.LogicalBlock(rootBlock))
	if err != nil {
		return FormatResult{}, newFormatError(FormatCodeIOFailed, tinyext.CastToDriverError(err))
	}

	if options.RootPlacement != PlaceRootInDataBlock {
		err = volume.WriteInode(inumber, &root)
		if err != nil {
			return FormatResult{}, newFormatError(FormatCodeIOFailed, err)
		}
	}

	if flusher, ok := device.(c.Flusher); ok {
		err = flusher.Flush()
		if err != nil {
			return FormatResult{}, newFormatError(FormatCodeIOFailed, tinyext.CastToDriverError(err))
		}
	}

	return FormatResult{
		Superblock: volume.Superblock(),
		RootInode:  inumber,
		RootBlock:  rootBlock,
		Root:       root,
	}, nil
}

// FormatImage formats an in-memory image. `image` must be a whole number of
// blocks; the formatted file system is written directly into it.
func FormatImage(image []byte, options FormatOptions) (FormatResult, error) {
	if len(image)%BlockSize != 0 {
		return FormatResult{}, newFormatError(
			FormatCodeBadImageSize,
			tinyext.ErrInvalidArgument.WithMessage(
				fmt.Sprintf(
					"image size must be a multiple of %d bytes, got %d",
					BlockSize,
					len(image))))
	}
	return Format(blockcache.WrapBytes(image, BlockSize), options)
}

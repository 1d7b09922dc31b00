package ext2

import (
	"fmt"
	"math/bits"

	"github.com/dargueta/tinyext"
	c "github.com/dargueta/tinyext/file_systems/common"
	"github.com/tchajed/marshal"
)

const wordsPerBlock = BlockSize / 8
const allOnes = ^uint64(0)

// Bitmap is an allocation bitmap spanning a fixed number of blocks. Bit 0 of
// each 64-bit word is its most significant bit.
type Bitmap struct {
	words  []uint64
	blocks uint
}

// NewBitmap creates a bitmap of `blocks` blocks with every bit clear.
func NewBitmap(blocks uint) *Bitmap {
	return &Bitmap{
		words:  make([]uint64, blocks*wordsPerBlock),
		blocks: blocks,
	}
}

// LoadBitmap reads `blocks` consecutive bitmap blocks from `device`, starting
// at `start`.
func LoadBitmap(device c.BlockDevice, start c.LogicalBlock, blocks uint) (*Bitmap, error) {
	bitmap := NewBitmap(blocks)
	buffer := make([]byte, BlockSize)

	for i := uint(0); i < blocks; i++ {
		err := device.ReadBlock(buffer, start+c.LogicalBlock(i))
		if err != nil {
			return nil, tinyext.CastToDriverError(err)
		}
		bitmap.decodeBlock(i, buffer)
	}
	return bitmap, nil
}

func (bitmap *Bitmap) decodeBlock(index uint, buffer []byte) {
	dec := marshal.NewDec(buffer)
	copy(bitmap.words[index*wordsPerBlock:], dec.GetInts(wordsPerBlock))
}

// EncodeBlock serializes block `index` of the bitmap.
func (bitmap *Bitmap) EncodeBlock(index uint) []byte {
	enc := marshal.NewEnc(BlockSize)
	enc.PutInts(bitmap.words[index*wordsPerBlock : (index+1)*wordsPerBlock])
	return enc.Finish()
}

// StoreBlock writes block `index` of the bitmap back to the device, where the
// bitmap begins at block `start`.
func (bitmap *Bitmap) StoreBlock(device c.BlockDevice, start c.LogicalBlock, index uint) error {
	err := device.WriteBlock(bitmap.EncodeBlock(index), start+c.LogicalBlock(index))
	return tinyext.CastToDriverError(err)
}

// Capacity returns the number of bits in the bitmap.
func (bitmap *Bitmap) Capacity() uint {
	return bitmap.blocks * BitsPerBitmapBlock
}

func (bitmap *Bitmap) checkIndex(index uint) error {
	if index >= bitmap.Capacity() {
		return tinyext.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("bit %d not in range [0, %d)", index, bitmap.Capacity()))
	}
	return nil
}

func wordMask(index uint) uint64 {
	return uint64(1) << (63 - index%64)
}

// Get returns the state of bit `index`. Out-of-range bits read as allocated.
func (bitmap *Bitmap) Get(index uint) bool {
	if bitmap.checkIndex(index) != nil {
		return true
	}
	return bitmap.words[index/64]&wordMask(index) != 0
}

// Set marks bit `index` as allocated.
func (bitmap *Bitmap) Set(index uint) error {
	if err := bitmap.checkIndex(index); err != nil {
		return err
	}
	bitmap.words[index/64] |= wordMask(index)
	return nil
}

// Clear marks bit `index` as free.
func (bitmap *Bitmap) Clear(index uint) error {
	if err := bitmap.checkIndex(index); err != nil {
		return err
	}
	bitmap.words[index/64] &^= wordMask(index)
	return nil
}

// FirstFree returns the lowest clear bit. The second return value is false if
// every bit is set.
//
// Words are scanned in increasing order; the first word that isn't all ones
// holds the answer, at the position given by its count of leading ones.
func (bitmap *Bitmap) FirstFree() (uint, bool) {
	for i, word := range bitmap.words {
		if word != allOnes {
			return uint(i)*64 + uint(bits.LeadingZeros64(^word)), true
		}
	}
	return 0, false
}

// CountSet returns the number of set bits among the first `limit` bits.
func (bitmap *Bitmap) CountSet(limit uint) uint {
	limit = minUint(limit, bitmap.Capacity())
	total := uint(0)

	fullWords := limit / 64
	for _, word := range bitmap.words[:fullWords] {
		total += uint(bits.OnesCount64(word))
	}
	if remainder := limit % 64; remainder != 0 {
		// Keep only the top `remainder` bits, i.e. indices [0, remainder).
		mask := allOnes << (64 - remainder)
		total += uint(bits.OnesCount64(bitmap.words[fullWords] & mask))
	}
	return total
}

// Package testing contains helpers shared by the test suites of the other
// packages. Import it under an alias, e.g. `dt`.
package testing

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/dargueta/tinyext"
	c "github.com/dargueta/tinyext/file_systems/common"
	"github.com/dargueta/tinyext/file_systems/common/blockcache"
	"github.com/stretchr/testify/require"
)

// CreateRandomImage returns `totalBlocks` blocks of random bytes, or aborts the
// test.
func CreateRandomImage(bytesPerBlock, totalBlocks uint, t *testing.T) []byte {
	image := make([]byte, bytesPerBlock*totalBlocks)
	_, err := rand.Read(image)
	require.NoError(t, err, "can't fill test image with random bytes")
	return image
}

// memoryImage is the storage behind a cache made by [CreateDefaultCache].
// Every out-of-bounds access and every write to a read-only image fails the
// test it belongs to.
type memoryImage struct {
	t             *testing.T
	data          []byte
	bytesPerBlock uint
	totalBlocks   uint
	writable      bool
}

func (image *memoryImage) blockSlice(op string, block c.LogicalBlock) ([]byte, error) {
	if uint(block) >= image.totalBlocks {
		message := fmt.Sprintf(
			"%s outside image: block %d not in [0, %d)", op, block, image.totalBlocks)
		image.t.Error(message)
		return nil, tinyext.ErrArgumentOutOfRange.WithMessage(message)
	}
	start := uint(block) * image.bytesPerBlock
	return image.data[start : start+image.bytesPerBlock], nil
}

func (image *memoryImage) fetch(block c.LogicalBlock, buffer []byte) error {
	source, err := image.blockSlice("read", block)
	if err != nil {
		return err
	}
	copy(buffer, source)
	return nil
}

func (image *memoryImage) flush(block c.LogicalBlock, buffer []byte) error {
	if !image.writable {
		message := fmt.Sprintf("flushed block %d of a read-only image", block)
		image.t.Error(message)
		return tinyext.ErrNotSupported.WithMessage(message)
	}

	target, err := image.blockSlice("write", block)
	if err != nil {
		return err
	}
	copy(target, buffer)
	return nil
}

// CreateDefaultCache returns a cache over `backingData`, or over random bytes
// if that's nil. Flushed blocks land in `backingData`. If `writable` is false,
// any flush fails the test, so a clean [blockcache.BlockCache.Flush] at the end
// of a test shows the code under test never wrote to the image.
func CreateDefaultCache(
	bytesPerBlock,
	totalBlocks uint,
	writable bool,
	backingData []byte,
	t *testing.T,
) *blockcache.BlockCache {
	if backingData == nil {
		backingData = CreateRandomImage(bytesPerBlock, totalBlocks, t)
	}
	require.GreaterOrEqual(
		t, uint(len(backingData)), bytesPerBlock*totalBlocks, "backing data is too small")

	image := &memoryImage{
		t:             t,
		data:          backingData,
		bytesPerBlock: bytesPerBlock,
		totalBlocks:   totalBlocks,
		writable:      writable,
	}
	cache := blockcache.New(bytesPerBlock, totalBlocks, image.fetch, image.flush)
	require.EqualValues(t, bytesPerBlock*totalBlocks, cache.Size(), "cache has the wrong size")
	return cache
}

package testing

import (
	"testing"

	c "github.com/dargueta/tinyext/file_systems/common"
	"github.com/dargueta/tinyext/file_systems/common/blockcache"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// CountingDevice wraps a [c.BlockDevice] and records every block read and
// written through it, in order.
type CountingDevice struct {
	c.BlockDevice
	Reads  []c.LogicalBlock
	Writes []c.LogicalBlock
}

// NewCountingDevice wraps `device`.
func NewCountingDevice(device c.BlockDevice) *CountingDevice {
	return &CountingDevice{BlockDevice: device}
}

func (device *CountingDevice) ReadBlock(buffer []byte, block c.LogicalBlock) error {
	device.Reads = append(device.Reads, block)
	return device.BlockDevice.ReadBlock(buffer, block)
}

func (device *CountingDevice) WriteBlock(buffer []byte, block c.LogicalBlock) error {
	device.Writes = append(device.Writes, block)
	return device.BlockDevice.WriteBlock(buffer, block)
}

// Flush passes through to the wrapped device if it buffers writes.
func (device *CountingDevice) Flush() error {
	if flusher, ok := device.BlockDevice.(c.Flusher); ok {
		return flusher.Flush()
	}
	return nil
}

// Reset forgets all recorded reads and writes.
func (device *CountingDevice) Reset() {
	device.Reads = nil
	device.Writes = nil
}

// CreateZeroImage returns an in-memory device of `totalBlocks` zeroed blocks
// along with the slice backing it. Changes only reach the slice when the
// returned cache is flushed.
func CreateZeroImage(
	bytesPerBlock, totalBlocks uint, t *testing.T,
) (*blockcache.BlockCache, []byte) {
	backingData := make([]byte, bytesPerBlock*totalBlocks)
	stream := bytesextra.NewReadWriteSeeker(backingData)

	cache := blockcache.WrapStream(stream, bytesPerBlock, totalBlocks)
	require.EqualValues(t, totalBlocks, cache.TotalBlocks(), "wrong total blocks")
	return cache, backingData
}

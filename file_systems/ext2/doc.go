/*
Package ext2 implements the on-disk metadata of a small, fixed-layout file
system loosely modeled on ext2: the superblock, the block and inode allocation
bitmaps, the inode record, the directory entry record, and the formatter that
lays all of them out on a fresh image.

Image layout, in 1 KiB blocks:

	block 0        superblock
	block 1        free-block bitmap
	block 2        free-inode bitmap
	blocks 3-62    inode table, 16 inodes per block
	blocks 63-     data region

The layout is fixed and doesn't depend on the size of the image. All integers
are little-endian and every record is packed field by field with no padding.

Bitmaps are read as 128 64-bit words per block. Within a word, bit 0 is the
most significant bit, so index `n` lives in word `n / 64` under the mask
`1 << (63 - n%64)`. A set bit means the unit is allocated. Bit `n` of the block
bitmap refers to block `FirstDataBlock + n`; bit `n` of the inode bitmap is
inode number `n`.

Root inode placement: the historical format procedure for this layout writes the root directory's
inode record into the data block allocated for the directory's contents, at
offset `inumber * 64`, instead of into the inode table. [Format] keeps that
behavior available (see [RootPlacement]) and by default also stores the record
in its inode-table slot so the image can be mounted.
*/

package ext2

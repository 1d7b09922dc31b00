package tinyext

// File type tags stored in the high nibble of an inode's mode. The tags are
// mutually exclusive; compare `mode & S_IFMT` against them rather than testing
// single bits, since S_IFLNK shares a bit with S_IFREG.
const S_IFDIR = 0x4000 // 0100 0000 0000 0000
const S_IFREG = 0x8000 // 1000 0000 0000 0000
const S_IFLNK = 0xa000 // 1010 0000 0000 0000
const S_IFMT = 0xf000

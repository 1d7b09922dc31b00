package ext2

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dargueta/tinyext"
	"github.com/noxer/bytewriter"
)

const MaxNameLength = 255

// direntHeaderSize covers the inode, entry length, name length, and file type.
const direntHeaderSize = 8

// File type codes stored in a directory entry.
const (
	FileTypeUnknown   = 0
	FileTypeRegular   = 1
	FileTypeDirectory = 2
	FileTypeSymlink   = 7
)

// Dirent binds a name to an inode number. On disk, only the first NameLength
// bytes of the name are stored and the record is padded with zeroes to
// EntryLength bytes.
type Dirent struct {
	Inode       uint32
	EntryLength uint16
	NameLength  uint8
	FileType    uint8
	Name        [MaxNameLength]byte
}

// direntRecordLength gives the on-disk size of an entry with a name of
// `nameLength` bytes, rounded up to a multiple of 4.
func direntRecordLength(nameLength int) uint16 {
	return uint16((direntHeaderSize + nameLength + 3) &^ 3)
}

// FileTypeForMode maps an inode mode to a directory entry file type.
func FileTypeForMode(mode uint16) uint8 {
	switch mode & tinyext.S_IFMT {
	case tinyext.S_IFREG:
		return FileTypeRegular
	case tinyext.S_IFDIR:
		return FileTypeDirectory
	case tinyext.S_IFLNK:
		return FileTypeSymlink
	default:
		return FileTypeUnknown
	}
}

// NewDirent creates a directory entry for `name` pointing to `inumber`.
func NewDirent(inumber Inumber, name string, fileType uint8) (Dirent, error) {
	if len(name) == 0 {
		return Dirent{}, tinyext.ErrInvalidArgument.WithMessage("name can't be empty")
	}
	if len(name) > MaxNameLength {
		return Dirent{}, tinyext.ErrNameTooLong.WithMessage(
			fmt.Sprintf("name is %d bytes, limit is %d", len(name), MaxNameLength))
	}

	dirent := Dirent{
		Inode:       uint32(inumber),
		EntryLength: direntRecordLength(len(name)),
		NameLength:  uint8(len(name)),
		FileType:    fileType,
	}
	copy(dirent.Name[:], name)
	return dirent, nil
}

// NameString returns the entry's name.
func (dirent *Dirent) NameString() string {
	return string(dirent.Name[:dirent.NameLength])
}

// Encode serializes the entry into EntryLength bytes. An EntryLength too short
// for the name is raised to the padded length of the name, both in the header
// and in the size of the record.
func (dirent *Dirent) Encode() []byte {
	size := dirent.EntryLength
	if minimum := direntRecordLength(int(dirent.NameLength)); size < minimum {
		size = minimum
	}

	record := make([]byte, size)
	writer := bytewriter.New(record)
	binary.Write(writer, binary.LittleEndian, dirent.Inode)
	binary.Write(writer, binary.LittleEndian, size)
	writer.Write([]byte{dirent.NameLength, dirent.FileType})
	writer.Write(dirent.Name[:dirent.NameLength])
	return record
}

// DecodeDirent deserializes a directory entry from the beginning of `data`.
func DecodeDirent(data []byte) (Dirent, error) {
	var dirent Dirent
	if len(data) < direntHeaderSize {
		return dirent, tinyext.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("directory entry needs at least %d bytes, got %d",
				direntHeaderSize, len(data)))
	}

	reader := bytes.NewReader(data)
	binary.Read(reader, binary.LittleEndian, &dirent.Inode)
	binary.Read(reader, binary.LittleEndian, &dirent.EntryLength)
	binary.Read(reader, binary.LittleEndian, &dirent.NameLength)
	binary.Read(reader, binary.LittleEndian, &dirent.FileType)

	nameEnd := direntHeaderSize + int(dirent.NameLength)
	if nameEnd > len(data) {
		return Dirent{}, tinyext.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("name of %d bytes runs past the end of the %d-byte record",
				dirent.NameLength, len(data)))
	}
	if int(dirent.EntryLength) < nameEnd {
		return Dirent{}, tinyext.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("entry length %d is too short for a %d-byte name",
				dirent.EntryLength, dirent.NameLength))
	}

	copy(dirent.Name[:], data[direntHeaderSize:nameEnd])
	return dirent, nil
}

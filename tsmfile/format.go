// Package tsmfile implements the TSM file format: a sequence of
// CRC-protected blocks, a sparse per-key index, and an 8-byte footer.
// Writer appends blocks in strictly ascending key order; Reader opens a
// sealed file and serves point and range lookups via an in-memory
// vector of the index's key sections. Open reads every key and its
// section offset into that vector (not the entries), and key lookups
// binary search it in memory; keys are not read from the backing store
// per probe.
package tsmfile

import (
	"encoding/binary"

	"github.com/coreseries/tsmstore/tsmerrs"
)

// Magic and version identify a TSM file.
var (
	Magic   = [4]byte{0x16, 0xD1, 0x16, 0xD1}
	Version = byte(0x01)
)

const (
	headerSize     = 5
	footerSize     = 8
	indexEntrySize = 28 // min_time(8) + max_time(8) + offset(8) + size(4)
	maxKeyLen      = 65535
	maxEntries     = 65535

	// fsyncThreshold triggers an fsync once the stream has grown by this
	// many bytes since the last sync.
	fsyncThreshold = 25 * 1024 * 1024
)

// IndexEntry points at exactly one block.
type IndexEntry struct {
	MinTime int64
	MaxTime int64
	Offset  uint64
	Size    uint32
}

func (e IndexEntry) encode(dst []byte) {
	binary.BigEndian.PutUint64(dst[0:8], uint64(e.MinTime))
	binary.BigEndian.PutUint64(dst[8:16], uint64(e.MaxTime))
	binary.BigEndian.PutUint64(dst[16:24], e.Offset)
	binary.BigEndian.PutUint32(dst[24:28], e.Size)
}

func decodeIndexEntry(src []byte) IndexEntry {
	return IndexEntry{
		MinTime: int64(binary.BigEndian.Uint64(src[0:8])),
		MaxTime: int64(binary.BigEndian.Uint64(src[8:16])),
		Offset:  binary.BigEndian.Uint64(src[16:24]),
		Size:    binary.BigEndian.Uint32(src[24:28]),
	}
}

func encodeHeader() []byte {
	buf := make([]byte, headerSize)
	copy(buf[:4], Magic[:])
	buf[4] = Version

	return buf
}

func validateHeader(buf []byte) error {
	if len(buf) < headerSize {
		return tsmerrs.NewFormatError("tsmfile.Open", tsmerrs.ErrTruncated)
	}

	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return tsmerrs.NewFormatError("tsmfile.Open", tsmerrs.ErrBadMagic)
	}

	if buf[4] != Version {
		return tsmerrs.NewFormatError("tsmfile.Open", tsmerrs.ErrUnsupportedVersion)
	}

	return nil
}

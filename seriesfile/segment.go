package seriesfile

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/coreseries/tsmstore/storage"
	"github.com/coreseries/tsmstore/tsmerrs"
)

const (
	segmentMagic      = "SSEG"
	segmentVersion    = byte(1)
	segmentHeaderSize = 5

	flagInsert    = byte(1)
	flagTombstone = byte(2)

	minSegmentSize = 4 * 1024 * 1024
	maxSegmentSize = 256 * 1024 * 1024
)

// segmentSizeFor returns the capacity of segment id, growing by powers
// of two from 4 MiB up to a 256 MiB cap.
func segmentSizeFor(id uint16) int64 {
	size := int64(minSegmentSize) << id
	if size > maxSegmentSize || size <= 0 {
		return maxSegmentSize
	}

	return size
}

// segmentEntry is a parsed series-log record.
type segmentEntry struct {
	Flag byte
	ID   uint64
	Key  []byte
}

// segment wraps one append-only series-log file: a 5-byte "SSEG" header
// followed by Insert/Tombstone entries.
type segment struct {
	id       uint16
	file     storage.File
	writePos int64
	capacity int64
}

func segmentName(id uint16) string {
	return fmt.Sprintf("%04x.sseg", id)
}

func createSegment(backend storage.Backend, dir string, id uint16) (*segment, error) {
	f, err := backend.Create(dir + "/" + segmentName(id))
	if err != nil {
		return nil, err
	}

	hdr := make([]byte, segmentHeaderSize)
	copy(hdr, segmentMagic)
	hdr[4] = segmentVersion

	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, err
	}

	return &segment{id: id, file: f, writePos: segmentHeaderSize, capacity: segmentSizeFor(id)}, nil
}

// openSegment opens an existing segment and scans it, stopping at the
// first unreadable record and treating the remainder as unwritten: the
// write offset rewinds to the last successfully parsed entry boundary,
// for crash recovery.
func openSegment(backend storage.Backend, dir string, id uint16) (*segment, []segmentEntry, error) {
	f, err := backend.Open(dir + "/" + segmentName(id))
	if err != nil {
		return nil, nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	buf := make([]byte, st.Size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, nil, err
	}

	if len(buf) < segmentHeaderSize || string(buf[:4]) != segmentMagic {
		f.Close()
		return nil, nil, tsmerrs.NewFormatError("seriesfile.openSegment", tsmerrs.ErrBadMagic)
	}

	pos := segmentHeaderSize
	lastGood := pos

	var entries []segmentEntry

	for pos < len(buf) {
		e, n, ok := parseEntry(buf[pos:])
		if !ok {
			break
		}

		entries = append(entries, e)
		pos += n
		lastGood = pos
	}

	if _, err := f.Seek(int64(lastGood), io.SeekStart); err != nil {
		f.Close()
		return nil, nil, err
	}

	seg := &segment{id: id, file: f, writePos: int64(lastGood), capacity: segmentSizeFor(id)}

	return seg, entries, nil
}

func parseEntry(buf []byte) (segmentEntry, int, bool) {
	if len(buf) < 9 {
		return segmentEntry{}, 0, false
	}

	flag := buf[0]
	id := binary.BigEndian.Uint64(buf[1:9])

	if flag == flagTombstone {
		return segmentEntry{Flag: flag, ID: id}, 9, true
	}

	if flag != flagInsert {
		return segmentEntry{}, 0, false
	}

	klen, n := binary.Uvarint(buf[9:])
	if n <= 0 {
		return segmentEntry{}, 0, false
	}

	start := 9 + n
	end := start + int(klen)

	if end > len(buf) {
		return segmentEntry{}, 0, false
	}

	key := append([]byte(nil), buf[start:end]...)

	return segmentEntry{Flag: flag, ID: id, Key: key}, end, true
}

func encodeEntry(flag byte, id uint64, key []byte) []byte {
	if flag == flagTombstone {
		buf := make([]byte, 9)
		buf[0] = flag
		binary.BigEndian.PutUint64(buf[1:], id)

		return buf
	}

	var vbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(vbuf[:], uint64(len(key)))

	buf := make([]byte, 9+n+len(key))
	buf[0] = flag
	binary.BigEndian.PutUint64(buf[1:9], id)
	copy(buf[9:9+n], vbuf[:n])
	copy(buf[9+n:], key)

	return buf
}

// append writes an entry and returns the offset it was written at. It
// reports whether the entry fit within the segment's capacity; callers
// must roll to a new segment when it does not.
func (s *segment) append(flag byte, id uint64, key []byte) (int64, bool, error) {
	buf := encodeEntry(flag, id, key)
	if s.writePos+int64(len(buf)) > s.capacity {
		return 0, false, nil
	}

	offset := s.writePos

	if _, err := s.file.Write(buf); err != nil {
		return 0, false, err
	}

	s.writePos += int64(len(buf))

	return offset, true, nil
}

// readAt parses the entry starting at byte position pos within this
// segment.
func (s *segment) readAt(pos int64) (segmentEntry, error) {
	// An entry is at most 9 + 10 + 65535 bytes; read a bounded window
	// starting at pos and grow if the varint says the key runs longer.
	head := make([]byte, 19)

	n, err := s.file.ReadAt(head, pos)
	if err != nil && n == 0 {
		return segmentEntry{}, err
	}

	head = head[:n]

	if e, _, ok := parseEntry(head); ok {
		return e, nil
	}

	full := make([]byte, 9+binary.MaxVarintLen64+65535)

	n, err = s.file.ReadAt(full, pos)
	if err != nil && n == 0 {
		return segmentEntry{}, err
	}

	e, _, ok := parseEntry(full[:n])
	if !ok {
		return segmentEntry{}, tsmerrs.NewFormatError("seriesfile.readAt", tsmerrs.ErrTruncated)
	}

	return e, nil
}

func (s *segment) close() error {
	return s.file.Close()
}

// offsetFor packs a segment id and byte position into the 64-bit
// address format: (segment_id << 32) | byte_pos.
func offsetFor(id uint16, pos int64) uint64 {
	return uint64(id)<<32 | uint64(pos)
}

func splitOffset(off uint64) (id uint16, pos int64) {
	return uint16(off >> 32), int64(off & 0xFFFFFFFF)
}

package seriesfile

import (
	"github.com/coreseries/tsmstore/storage"
	"github.com/coreseries/tsmstore/tsmerrs"
)

// SegmentRecord is one decoded entry from a segment log, exported for
// the debug CLI's series-segment subcommand.
type SegmentRecord struct {
	Offset int64
	Insert bool
	ID     uint64
	Key    []byte
}

// DumpSegment reads and parses the segment log at path, independent of
// any partition's live state. It stops at the first unreadable record,
// matching the crash-recovery contract openSegment applies when a
// partition starts up.
func DumpSegment(backend storage.Backend, path string) ([]SegmentRecord, error) {
	f, err := backend.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, st.Size)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}

	if len(buf) < segmentHeaderSize || string(buf[:4]) != segmentMagic {
		return nil, tsmerrs.NewFormatError("seriesfile.DumpSegment", tsmerrs.ErrBadMagic)
	}

	pos := segmentHeaderSize

	var out []SegmentRecord

	for pos < len(buf) {
		e, n, ok := parseEntry(buf[pos:])
		if !ok {
			break
		}

		out = append(out, SegmentRecord{
			Offset: int64(pos),
			Insert: e.Flag == flagInsert,
			ID:     e.ID,
			Key:    e.Key,
		})

		pos += n
	}

	return out, nil
}

package tsmfile

import (
	"encoding/binary"

	"github.com/coreseries/tsmstore/storage"
)

// readTombstoneRanges loads a path+".tombstone" companion file into a
// key -> ranges map. A missing file is not an error: most TSM files
// have no deletions, and the zero value is usable as an empty set.
func readTombstoneRanges(backend storage.Backend, path string) (map[string][][2]int64, error) {
	f, err := backend.Open(path)
	if err != nil {
		return nil, nil
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

	out := make(map[string][][2]int64)
	pos := 0

	for pos < len(buf) {
		klen, n := binary.Uvarint(buf[pos:])
		if n <= 0 {
			break
		}

		pos += n
		key := string(buf[pos : pos+int(klen)])
		pos += int(klen)

		rangeCount, n := binary.Uvarint(buf[pos:])
		if n <= 0 {
			break
		}

		pos += n

		for i := uint64(0); i < rangeCount; i++ {
			lo := int64(binary.BigEndian.Uint64(buf[pos : pos+8]))
			hi := int64(binary.BigEndian.Uint64(buf[pos+8 : pos+16]))
			pos += 16

			out[key] = append(out[key], [2]int64{lo, hi})
		}
	}

	return out, nil
}

// writeTombstoneRanges serializes tombstones to path, overwriting
// whatever was there before.
func writeTombstoneRanges(backend storage.Backend, path string, tombstones map[string][][2]int64) error {
	f, err := backend.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for key, ranges := range tombstones {
		var vbuf [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(vbuf[:], uint64(len(key)))

		if _, err := f.Write(vbuf[:n]); err != nil {
			return err
		}

		if _, err := f.Write([]byte(key)); err != nil {
			return err
		}

		n = binary.PutUvarint(vbuf[:], uint64(len(ranges)))

		if _, err := f.Write(vbuf[:n]); err != nil {
			return err
		}

		for _, r := range ranges {
			var rbuf [16]byte
			binary.BigEndian.PutUint64(rbuf[0:8], uint64(r[0]))
			binary.BigEndian.PutUint64(rbuf[8:16], uint64(r[1]))

			if _, err := f.Write(rbuf[:]); err != nil {
				return err
			}
		}
	}

	return f.Sync()
}

// AppendTombstones merges deletions into an already-sealed TSM file's
// companion tombstone file, creating it if none exists yet. fullKeys
// are deleted entirely; rangeKeys are deleted only within [minTime,
// maxTime]. It targets a file a Writer has already closed; tombstones
// recorded before a file is first closed go through
// Writer.Delete/Writer.DeleteRange instead.
func AppendTombstones(backend storage.Backend, path string, fullKeys, rangeKeys [][]byte, minTime, maxTime int64) error {
	if len(fullKeys) == 0 && len(rangeKeys) == 0 {
		return nil
	}

	tombstonePath := path + ".tombstone"

	existing, err := readTombstoneRanges(backend, tombstonePath)
	if err != nil {
		return err
	}

	if existing == nil {
		existing = make(map[string][][2]int64)
	}

	for _, k := range fullKeys {
		existing[string(k)] = [][2]int64{{minInt64, maxInt64}}
	}

	for _, k := range rangeKeys {
		existing[string(k)] = append(existing[string(k)], [2]int64{minTime, maxTime})
	}

	return writeTombstoneRanges(backend, tombstonePath, existing)
}

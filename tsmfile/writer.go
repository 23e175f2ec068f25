package tsmfile

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"sort"

	"go.uber.org/zap"

	"github.com/coreseries/tsmstore/block"
	"github.com/coreseries/tsmstore/internal/pool"
	"github.com/coreseries/tsmstore/storage"
	"github.com/coreseries/tsmstore/tsmerrs"
)

type keyBucket struct {
	key     []byte
	typ     block.Type
	entries []IndexEntry
}

// Writer appends blocks to a new TSM file in strictly ascending key
// order, then serializes the sparse index and footer. Out-of-order keys
// are a programmer error and panic rather than return an
// error.
type Writer struct {
	backend storage.Backend
	path    string
	file    storage.File
	logger  *zap.Logger

	offset        uint64
	sinceLastSync uint64

	buckets      []keyBucket
	tombstones   map[string][][2]int64
	closed       bool
	indexWritten bool
}

// Create opens path for writing a new TSM file and writes the header.
func Create(backend storage.Backend, path string, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := backend.Create(path)
	if err != nil {
		return nil, err
	}

	hdr := encodeHeader()
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, err
	}

	return &Writer{
		backend: backend,
		path:    path,
		file:    f,
		logger:  logger,
		offset:  uint64(len(hdr)),
	}, nil
}

// WriteBlock appends one precomputed block for key, recording its
// (minTime, maxTime, offset, size) in the in-memory index. Keys must be
// supplied in strictly ascending lexicographic order across calls; a
// new key must sort after every previously written key.
func (w *Writer) WriteBlock(key []byte, typ block.Type, minTime, maxTime int64, blk []byte) error {
	if len(blk) == 0 {
		return tsmerrs.ErrEmptyWrite
	}

	if len(key) > maxKeyLen {
		return tsmerrs.ErrKeyTooLong
	}

	if n := len(w.buckets); n > 0 {
		last := w.buckets[n-1]
		cmp := bytes.Compare(key, last.key)

		if cmp < 0 {
			panic("tsmfile: out-of-order key write: " + string(key) + " after " + string(last.key))
		}

		if cmp == 0 {
			if last.typ != typ {
				return tsmerrs.NewFormatError("tsmfile.WriteBlock", tsmerrs.ErrTypeMismatch)
			}

			if len(last.entries) >= maxEntries {
				return tsmerrs.ErrTooManyEntries
			}
		} else {
			w.buckets = append(w.buckets, keyBucket{key: append([]byte(nil), key...), typ: typ})
		}
	} else {
		w.buckets = append(w.buckets, keyBucket{key: append([]byte(nil), key...), typ: typ})
	}

	crc := crc32.ChecksumIEEE(blk)

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], crc)

	if _, err := w.file.Write(hdr[:]); err != nil {
		return err
	}

	if _, err := w.file.Write(blk); err != nil {
		return err
	}

	entry := IndexEntry{MinTime: minTime, MaxTime: maxTime, Offset: w.offset, Size: uint32(4 + len(blk))}

	b := &w.buckets[len(w.buckets)-1]
	b.entries = append(b.entries, entry)

	written := uint64(4 + len(blk))
	w.offset += written
	w.sinceLastSync += written

	if w.sinceLastSync >= fsyncThreshold {
		if err := w.file.Sync(); err != nil {
			return err
		}

		w.sinceLastSync = 0
	}

	return nil
}

// WriteIndex serializes the accumulated index buckets in ascending key
// order, followed by the footer.
func (w *Writer) WriteIndex() error {
	sort.Slice(w.buckets, func(i, j int) bool {
		return bytes.Compare(w.buckets[i].key, w.buckets[j].key) < 0
	})

	indexStart := w.offset

	entryBuf := pool.GetFileBuffer()
	defer pool.PutFileBuffer(entryBuf)

	for _, b := range w.buckets {
		var hdr [3]byte
		binary.BigEndian.PutUint16(hdr[:2], uint16(len(b.key)))
		hdr[2] = byte(b.typ)

		if _, err := w.file.Write(hdr[:]); err != nil {
			return err
		}

		if _, err := w.file.Write(b.key); err != nil {
			return err
		}

		var cntBuf [2]byte
		binary.BigEndian.PutUint16(cntBuf[:], uint16(len(b.entries)))

		if _, err := w.file.Write(cntBuf[:]); err != nil {
			return err
		}

		entryBuf.Reset()
		entryBuf.Grow(indexEntrySize * len(b.entries))

		for _, e := range b.entries {
			var eb [indexEntrySize]byte
			e.encode(eb[:])
			entryBuf.MustWrite(eb[:])
		}

		if _, err := entryBuf.WriteTo(w.file); err != nil {
			return err
		}

		w.offset += uint64(3 + len(b.key) + 2 + entryBuf.Len())
	}

	var footer [footerSize]byte
	binary.BigEndian.PutUint64(footer[:], indexStart)

	if _, err := w.file.Write(footer[:]); err != nil {
		return err
	}

	w.indexWritten = true

	return nil
}

// Close finalizes the file: it writes the index if not already written,
// fsyncs, and closes the handle.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}

	if !w.indexWritten {
		if err := w.WriteIndex(); err != nil {
			w.logger.Warn("tsmfile: writing index failed, removing partial file", zap.String("path", w.path), zap.Error(err))
			w.Remove()

			return err
		}
	}

	if err := w.file.Sync(); err != nil {
		return err
	}

	w.closed = true

	return w.file.Close()
}

// Remove deletes the partial or finished file, per the "on failure,
// remove() deletes the partial file" contract.
func (w *Writer) Remove() error {
	w.file.Close()
	w.closed = true

	return w.backend.Delete(w.path)
}

// Delete tombstones whole keys: any key named here is recorded as
// deleted over the full time range in the companion tombstone file read
// back at Open, replacing any ranges recorded for it before.
func (w *Writer) Delete(keys [][]byte) {
	if w.tombstones == nil {
		w.tombstones = make(map[string][][2]int64)
	}

	for _, k := range keys {
		w.tombstones[string(k)] = [][2]int64{{minInt64, maxInt64}}
	}
}

// DeleteRange tombstones [min, max] for each key by appending it to the
// ranges already recorded for that key. Overlapping or adjacent ranges
// are kept as separate entries; they are not merged.
func (w *Writer) DeleteRange(keys [][]byte, minTime, maxTime int64) {
	if w.tombstones == nil {
		w.tombstones = make(map[string][][2]int64)
	}

	for _, k := range keys {
		w.tombstones[string(k)] = append(w.tombstones[string(k)], [2]int64{minTime, maxTime})
	}
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)

// WriteTombstones persists accumulated Delete/DeleteRange calls to a
// path+".tombstone" companion file. It is a no-op if nothing was
// deleted.
func (w *Writer) WriteTombstones() error {
	if len(w.tombstones) == 0 {
		return nil
	}

	return writeTombstoneRanges(w.backend, w.path+".tombstone", w.tombstones)
}

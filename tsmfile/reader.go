package tsmfile

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/coreseries/tsmstore/block"
	"github.com/coreseries/tsmstore/storage"
	"github.com/coreseries/tsmstore/tsmerrs"
)

type keySection struct {
	offset     uint64 // start of this key's index section
	key        []byte
	typ        block.Type
	entryStart uint64 // start of the entry-count field
}

// Reader opens a sealed TSM file and serves point and range lookups.
// The underlying stream is shared across calls and mediated by a mutex,
// since reads seek; the indirect offset vector is read-mostly and
// guarded separately so metadata inspection can proceed in parallel
// with block reads.
type Reader struct {
	backend storage.Backend
	path    string
	logger  *zap.Logger

	mu   sync.Mutex // guards file seeks/reads
	file storage.File

	idxMu   sync.RWMutex
	indexAt uint64
	offsets []uint64 // offsets[i] == sections[i].offset; lookups search sections
	sections []keySection

	tombstoneRanges map[string][][2]int64
	tombstoneFull   map[string]bool
}

// Open opens path, validates the header, and reads the index region
// once to build the indirect offset vector. It does not load any key's
// entries.
func Open(backend storage.Backend, path string, logger *zap.Logger) (*Reader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := backend.Open(path)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if st.Size < headerSize+footerSize {
		f.Close()
		return nil, tsmerrs.NewFormatError("tsmfile.Open", tsmerrs.ErrTruncated)
	}

	hdrBuf := make([]byte, headerSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		f.Close()
		return nil, err
	}

	if err := validateHeader(hdrBuf); err != nil {
		f.Close()
		return nil, err
	}

	footerBuf := make([]byte, footerSize)
	if _, err := f.ReadAt(footerBuf, st.Size-footerSize); err != nil {
		f.Close()
		return nil, err
	}

	indexStart := binary.BigEndian.Uint64(footerBuf)
	if indexStart < headerSize || int64(indexStart) > st.Size-footerSize {
		f.Close()
		return nil, tsmerrs.NewFormatError("tsmfile.Open", tsmerrs.ErrTruncated)
	}

	r := &Reader{
		backend: backend,
		path:    path,
		logger:  logger,
		file:    f,
		indexAt: indexStart,
	}

	if err := r.scanIndex(indexStart, uint64(st.Size)-footerSize); err != nil {
		f.Close()
		return nil, err
	}

	r.loadTombstones()

	return r, nil
}

func (r *Reader) scanIndex(start, end uint64) error {
	pos := start

	for pos < end {
		hdr := make([]byte, 3)
		if _, err := r.file.ReadAt(hdr, int64(pos)); err != nil {
			return tsmerrs.NewFormatError("tsmfile.scanIndex", tsmerrs.ErrTruncated)
		}

		keyLen := binary.BigEndian.Uint16(hdr[:2])
		typ := block.Type(hdr[2])

		key := make([]byte, keyLen)
		if keyLen > 0 {
			if _, err := r.file.ReadAt(key, int64(pos)+3); err != nil {
				return tsmerrs.NewFormatError("tsmfile.scanIndex", tsmerrs.ErrTruncated)
			}
		}

		entryStart := pos + 3 + uint64(keyLen)

		cntBuf := make([]byte, 2)
		if _, err := r.file.ReadAt(cntBuf, int64(entryStart)); err != nil {
			return tsmerrs.NewFormatError("tsmfile.scanIndex", tsmerrs.ErrTruncated)
		}

		count := binary.BigEndian.Uint16(cntBuf)

		r.sections = append(r.sections, keySection{offset: pos, key: key, typ: typ, entryStart: entryStart})
		r.offsets = append(r.offsets, pos)

		pos = entryStart + 2 + uint64(count)*indexEntrySize
	}

	return nil
}

// findSection performs a binary search over the key sections, returning
// the matching section index and true, or the insertion point and
// false.
func (r *Reader) findSection(key []byte) (int, bool) {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()

	n := len(r.sections)
	i := sort.Search(n, func(i int) bool {
		return bytes.Compare(r.sections[i].key, key) >= 0
	})

	if i < n && bytes.Equal(r.sections[i].key, key) {
		return i, true
	}

	return i, false
}

// Entries returns the index entries for key, sorted by min_time (the
// order they were written in, per the writer's append contract).
func (r *Reader) Entries(key []byte) ([]IndexEntry, error) {
	i, ok := r.findSection(key)
	if !ok {
		return nil, tsmerrs.ErrKeyNotFound
	}

	sec := r.sections[i]

	cntBuf := make([]byte, 2)
	if _, err := r.file.ReadAt(cntBuf, int64(sec.entryStart)); err != nil {
		return nil, tsmerrs.NewFormatError("tsmfile.Entries", tsmerrs.ErrTruncated)
	}

	count := binary.BigEndian.Uint16(cntBuf)
	buf := make([]byte, int(count)*indexEntrySize)

	if count > 0 {
		if _, err := r.file.ReadAt(buf, int64(sec.entryStart)+2); err != nil {
			return nil, tsmerrs.NewFormatError("tsmfile.Entries", tsmerrs.ErrTruncated)
		}
	}

	out := make([]IndexEntry, count)
	for i := range out {
		out[i] = decodeIndexEntry(buf[i*indexEntrySize : (i+1)*indexEntrySize])
	}

	return out, nil
}

// EntryAt returns the entry covering timestamp t for key, if any.
func (r *Reader) EntryAt(key []byte, t int64) (IndexEntry, bool, error) {
	entries, err := r.Entries(key)
	if err != nil {
		if err == tsmerrs.ErrKeyNotFound {
			return IndexEntry{}, false, nil
		}

		return IndexEntry{}, false, err
	}

	for _, e := range entries {
		if t >= e.MinTime && t <= e.MaxTime {
			return e, true, nil
		}
	}

	return IndexEntry{}, false, nil
}

// BlockType returns the type tag recorded for key.
func (r *Reader) BlockType(key []byte) (block.Type, bool) {
	i, ok := r.findSection(key)
	if !ok {
		return 0, false
	}

	return r.sections[i].typ, true
}

// Keys returns all keys in the file, in ascending order.
func (r *Reader) Keys() [][]byte {
	r.idxMu.RLock()
	defer r.idxMu.RUnlock()

	out := make([][]byte, len(r.sections))
	for i, s := range r.sections {
		out[i] = s.key
	}

	return out
}

// ReadBlock reads and CRC-validates the block at entry e. Tombstone
// filtering is the caller's responsibility: check RangeDeleted against
// the companion tombstone file before trusting a block's values.
func (r *Reader) ReadBlock(key []byte, e IndexEntry) (block.Type, []byte, []byte, error) {
	r.mu.Lock()
	buf := make([]byte, e.Size)
	_, err := r.file.ReadAt(buf, int64(e.Offset))
	r.mu.Unlock()

	if err != nil {
		return 0, nil, nil, tsmerrs.NewFormatError("tsmfile.ReadBlock", tsmerrs.ErrTruncated)
	}

	wantCRC := binary.BigEndian.Uint32(buf[:4])
	body := buf[4:]
	gotCRC := crc32.ChecksumIEEE(body)

	if gotCRC != wantCRC {
		return 0, nil, nil, tsmerrs.NewIntegrityError(key, int64(e.Offset), tsmerrs.ErrCRCMismatch)
	}

	typ, ts, val, err := block.Decode(body)
	if err != nil {
		return 0, nil, nil, err
	}

	return typ, ts, val, nil
}

// RangeDeleted reports whether [min, max] is fully covered by a single
// tombstone recorded for key (a whole-key delete or one recorded delete
// range). Ranges are not merged: a span covered only by the union of
// several recorded ranges reports false.
func (r *Reader) RangeDeleted(key []byte, minTime, maxTime int64) bool {
	if r.tombstoneFull[string(key)] {
		return true
	}

	for _, rg := range r.tombstoneRanges[string(key)] {
		if minTime >= rg[0] && maxTime <= rg[1] {
			return true
		}
	}

	return false
}

// loadTombstones reads the companion path+".tombstone" file written by
// Writer.WriteTombstones or AppendTombstones, if present. A missing
// companion file is not an error: most TSM files have no deletions.
func (r *Reader) loadTombstones() {
	ranges, err := readTombstoneRanges(r.backend, r.path+".tombstone")
	if err != nil {
		r.logger.Warn("tsmfile: reading tombstone file failed, treating as no deletions", zap.String("path", r.path), zap.Error(err))
		return
	}

	r.tombstoneRanges = make(map[string][][2]int64)
	r.tombstoneFull = make(map[string]bool)

	for key, rs := range ranges {
		for _, rg := range rs {
			if rg[0] == minInt64 && rg[1] == maxInt64 {
				r.tombstoneFull[key] = true
			} else {
				r.tombstoneRanges[key] = append(r.tombstoneRanges[key], rg)
			}
		}
	}
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Package tsmstore ties the series file, write cache, and TSM file
// format together into a storage engine: points arrive keyed by
// (series key, field name), are resolved against the series file,
// buffered in the cache, and periodically snapshotted into sorted,
// block-encoded TSM files.
package tsmstore

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/coreseries/tsmstore/block"
	"github.com/coreseries/tsmstore/cache"
	"github.com/coreseries/tsmstore/codec"
	"github.com/coreseries/tsmstore/seriesfile"
	"github.com/coreseries/tsmstore/storage"
	"github.com/coreseries/tsmstore/tsmerrs"
	"github.com/coreseries/tsmstore/tsmfile"
)

// fieldKeySeparator is the literal byte sequence separating a series
// key from a field name: "#!~#".
var fieldKeySeparator = []byte{0x23, 0x21, 0x7E, 0x23}

// FieldKey builds the composite indexing unit from a
// series key and a field name.
func FieldKey(seriesKey []byte, fieldName string) []byte {
	out := make([]byte, 0, len(seriesKey)+len(fieldKeySeparator)+len(fieldName))
	out = append(out, seriesKey...)
	out = append(out, fieldKeySeparator...)
	out = append(out, fieldName...)

	return out
}

// defaultBlockCapacity bounds the number of entries packed into a
// single TSM block; typically up to a few thousand.
const defaultBlockCapacity = 1000

// Store is the top-level convenience wrapper over a series file, a
// write cache, and the directory of TSM files produced by Flush.
type Store struct {
	backend       storage.Backend
	dir           string
	series        *seriesfile.SeriesFile
	cache         *cache.Cache
	logger        *zap.Logger
	blockCapacity int
}

type openConfig struct {
	seriesOpts    []seriesfile.Option
	logger        *zap.Logger
	blockCapacity int
}

// Option configures Open.
type Option func(*openConfig)

// WithPartitions overrides the series file's partition count.
func WithPartitions(p int) Option {
	return func(c *openConfig) { c.seriesOpts = append(c.seriesOpts, seriesfile.WithPartitions(p)) }
}

// WithLogger attaches a logger used for TSM-file and series-file
// operational events. Codec and cache operations never log, staying off
// the hot path.
func WithLogger(l *zap.Logger) Option {
	return func(c *openConfig) { c.logger = l }
}

// WithBlockCapacity overrides the default per-block entry cap used by
// Flush.
func WithBlockCapacity(n int) Option {
	return func(c *openConfig) { c.blockCapacity = n }
}

// Open opens (or creates) a store rooted at dir: a "series" subdirectory
// for the series file, and a flat directory of "*.tsm" files produced
// by Flush.
func Open(backend storage.Backend, dir string, opts ...Option) (*Store, error) {
	cfg := openConfig{logger: zap.NewNop(), blockCapacity: defaultBlockCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := backend.CreateDir(dir); err != nil {
		return nil, err
	}

	sf, err := seriesfile.Open(backend, dir+"/series", append(cfg.seriesOpts, seriesfile.WithLogger(cfg.logger))...)
	if err != nil {
		return nil, err
	}

	return &Store{
		backend:       backend,
		dir:           dir,
		series:        sf,
		cache:         cache.New(),
		logger:        cfg.logger,
		blockCapacity: cfg.blockCapacity,
	}, nil
}

// WritePoint resolves seriesKey to a series ID (creating one if unseen),
// and appends (t, value) to the write cache under the composite
// field-key. value must be one of float64, int64, uint64, bool, []byte.
func (s *Store) WritePoint(seriesKey []byte, fieldName string, t int64, value any) error {
	if _, err := s.series.CreateSeriesIfNotExists(seriesKey); err != nil {
		return err
	}

	fk := FieldKey(seriesKey, fieldName)

	var (
		typ block.Type
		pt  cache.Point
	)

	pt.Time = t

	switch v := value.(type) {
	case float64:
		typ, pt.F64 = block.TypeFloat, v
	case int64:
		typ, pt.I64 = block.TypeInteger, v
	case uint64:
		typ, pt.U64 = block.TypeUnsigned, v
	case bool:
		typ, pt.Bool = block.TypeBool, v
	case []byte:
		typ, pt.Bytes = block.TypeBytes, v
	default:
		return fmt.Errorf("tsmstore: unsupported value type %T", value)
	}

	return s.cache.Write(fk, typ, []cache.Point{pt})
}

// Delete removes every value for the given field-keys: pending cache
// entries are dropped immediately, and a whole-key tombstone is
// recorded against every already-flushed TSM file in dir so Read
// filters their blocks out afterward.
func (s *Store) Delete(fieldKeys [][]byte) error {
	for _, k := range fieldKeys {
		s.cache.Delete(k)
	}

	return s.tombstoneFlushedFiles(fieldKeys, nil, 0, 0)
}

// DeleteRange removes values in [minTime, maxTime] for the given
// field-keys from both the write cache and every already-flushed TSM
// file.
func (s *Store) DeleteRange(fieldKeys [][]byte, minTime, maxTime int64) error {
	for _, k := range fieldKeys {
		s.cache.DeleteRange(k, minTime, maxTime)
	}

	return s.tombstoneFlushedFiles(nil, fieldKeys, minTime, maxTime)
}

func (s *Store) tombstoneFlushedFiles(fullKeys, rangeKeys [][]byte, minTime, maxTime int64) error {
	if len(fullKeys) == 0 && len(rangeKeys) == 0 {
		return nil
	}

	names, err := s.backend.List(s.dir)
	if err != nil {
		return err
	}

	for _, name := range names {
		if !strings.HasSuffix(name, ".tsm") {
			continue
		}

		if err := tsmfile.AppendTombstones(s.backend, s.dir+"/"+name, fullKeys, rangeKeys, minTime, maxTime); err != nil {
			return err
		}
	}

	return nil
}

// Read returns the decoded, timestamp-sorted samples for fieldKey,
// merging the write cache with every flushed TSM file in dir and
// dropping any sample covered by a tombstone. ErrKeyNotFound is
// returned if fieldKey has no data anywhere.
func (s *Store) Read(fieldKey []byte) (block.Type, []cache.Point, error) {
	names, err := s.backend.List(s.dir)
	if err != nil {
		return 0, nil, err
	}

	var (
		typ   block.Type
		found bool
		pts   []cache.Point
	)

	for _, name := range names {
		if !strings.HasSuffix(name, ".tsm") {
			continue
		}

		filePts, fileTyp, ok, err := s.readFromFile(s.dir+"/"+name, fieldKey)
		if err != nil {
			return 0, nil, err
		}

		if !ok || len(filePts) == 0 {
			continue
		}

		typ, found = fileTyp, true
		pts = append(pts, filePts...)
	}

	if cacheTyp, cachePts, ok := s.cache.Read(fieldKey); ok {
		typ, found = cacheTyp, true
		pts = append(pts, cachePts...)
	}

	if !found {
		return 0, nil, tsmerrs.ErrKeyNotFound
	}

	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time < pts[j].Time })

	return typ, dedupeLastWinsByTime(pts), nil
}

// readFromFile decodes every non-tombstoned point for fieldKey out of
// the sealed TSM file at path. ok is false when fieldKey is not present
// in that file at all.
func (s *Store) readFromFile(path string, fieldKey []byte) (pts []cache.Point, typ block.Type, ok bool, err error) {
	r, err := tsmfile.Open(s.backend, path, s.logger)
	if err != nil {
		return nil, 0, false, err
	}
	defer r.Close()

	typ, ok = r.BlockType(fieldKey)
	if !ok {
		return nil, 0, false, nil
	}

	entries, err := r.Entries(fieldKey)
	if err != nil {
		return nil, 0, false, err
	}

	for _, e := range entries {
		if r.RangeDeleted(fieldKey, e.MinTime, e.MaxTime) {
			continue
		}

		_, tsBytes, valBytes, err := r.ReadBlock(fieldKey, e)
		if err != nil {
			return nil, 0, false, err
		}

		decoded, err := decodeBlockPoints(typ, tsBytes, valBytes)
		if err != nil {
			return nil, 0, false, err
		}

		for _, p := range decoded {
			if r.RangeDeleted(fieldKey, p.Time, p.Time) {
				continue
			}

			pts = append(pts, p)
		}
	}

	return pts, typ, true, nil
}

func decodeBlockPoints(typ block.Type, tsBytes, valBytes []byte) ([]cache.Point, error) {
	tsDec := codec.NewTimestampDecoder(tsBytes)

	var out []cache.Point

	switch typ {
	case block.TypeFloat:
		valDec := codec.NewFloatDecoder(valBytes)
		for tsDec.Next() && valDec.Next() {
			out = append(out, cache.Point{Time: tsDec.Value(), F64: valDec.Value()})
		}

		if err := valDec.Err(); err != nil {
			return nil, err
		}
	case block.TypeInteger:
		valDec := codec.NewIntegerDecoder(valBytes)
		for tsDec.Next() && valDec.Next() {
			out = append(out, cache.Point{Time: tsDec.Value(), I64: valDec.Value()})
		}

		if err := valDec.Err(); err != nil {
			return nil, err
		}
	case block.TypeUnsigned:
		valDec := codec.NewUnsignedDecoder(valBytes)
		for tsDec.Next() && valDec.Next() {
			out = append(out, cache.Point{Time: tsDec.Value(), U64: valDec.Value()})
		}

		if err := valDec.Err(); err != nil {
			return nil, err
		}
	case block.TypeBool:
		valDec := codec.NewBoolDecoder(valBytes)
		for tsDec.Next() && valDec.Next() {
			out = append(out, cache.Point{Time: tsDec.Value(), Bool: valDec.Value()})
		}

		if err := valDec.Err(); err != nil {
			return nil, err
		}
	case block.TypeBytes:
		valDec := codec.NewStringDecoder(valBytes)
		for tsDec.Next() && valDec.Next() {
			out = append(out, cache.Point{Time: tsDec.Value(), Bytes: append([]byte(nil), valDec.Value()...)})
		}

		if err := valDec.Err(); err != nil {
			return nil, err
		}
	default:
		return nil, tsmerrs.NewFormatError("tsmstore.decodeBlockPoints", tsmerrs.ErrTypeMismatch)
	}

	if err := tsDec.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// dedupeLastWinsByTime keeps the last point written for each timestamp,
// same convention as cache.Cache.Deduplicate. pts must already be
// sorted by Time.
func dedupeLastWinsByTime(pts []cache.Point) []cache.Point {
	if len(pts) < 2 {
		return pts
	}

	out := pts[:1]

	for _, p := range pts[1:] {
		if p.Time == out[len(out)-1].Time {
			out[len(out)-1] = p
			continue
		}

		out = append(out, p)
	}

	return out
}

// Flush snapshots the cache and writes a new sealed TSM file named path,
// chunking each field-key's deduplicated points into blocks of at most
// the configured block capacity.
func (s *Store) Flush(path string) error {
	parts := s.cache.Snapshot()

	type keyData struct {
		key string
		typ block.Type
		pts []cache.Point
	}

	var all []keyData

	for _, p := range parts {
		for _, k := range p.Keys() {
			typ, pts := p.Entry(k)
			if len(pts) == 0 {
				continue
			}

			all = append(all, keyData{key: k, typ: typ, pts: pts})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].key < all[j].key })

	w, err := tsmfile.Create(s.backend, path, s.logger)
	if err != nil {
		return err
	}

	for _, kd := range all {
		for start := 0; start < len(kd.pts); start += s.blockCapacity {
			end := start + s.blockCapacity
			if end > len(kd.pts) {
				end = len(kd.pts)
			}

			chunk := kd.pts[start:end]

			blk, err := encodeBlock(kd.typ, chunk)
			if err != nil {
				w.Remove()
				return err
			}

			minT, maxT := chunk[0].Time, chunk[len(chunk)-1].Time

			if err := w.WriteBlock([]byte(kd.key), kd.typ, minT, maxT, blk); err != nil {
				w.Remove()
				return err
			}
		}
	}

	if err := w.WriteTombstones(); err != nil {
		return err
	}

	return w.Close()
}

func encodeBlock(typ block.Type, pts []cache.Point) ([]byte, error) {
	tsEnc := codec.NewTimestampEncoder(len(pts))
	for _, p := range pts {
		tsEnc.Write(p.Time)
	}

	tsBytes := append([]byte(nil), tsEnc.Bytes()...)
	tsEnc.Finish()

	var valBytes []byte

	switch typ {
	case block.TypeFloat:
		enc := codec.NewFloatEncoder(len(pts))
		for _, p := range pts {
			enc.Write(p.F64)
		}

		valBytes = enc.Bytes()
		enc.Finish()
	case block.TypeInteger:
		enc := codec.NewIntegerEncoder(len(pts))
		for _, p := range pts {
			enc.Write(p.I64)
		}

		valBytes = enc.Bytes()
		enc.Finish()
	case block.TypeUnsigned:
		enc := codec.NewUnsignedEncoder(len(pts))
		for _, p := range pts {
			enc.Write(p.U64)
		}

		valBytes = enc.Bytes()
		enc.Finish()
	case block.TypeBool:
		enc := codec.NewBoolEncoder(len(pts))
		for _, p := range pts {
			enc.Write(p.Bool)
		}

		valBytes = enc.Bytes()
		enc.Finish()
	case block.TypeBytes:
		enc := codec.NewStringEncoder(len(pts))
		for _, p := range pts {
			enc.Write(p.Bytes)
		}

		valBytes = enc.Bytes()
		enc.Finish()
	default:
		return nil, tsmerrs.NewFormatError("tsmstore.encodeBlock", tsmerrs.ErrTypeMismatch)
	}

	return block.Encode(typ, tsBytes, valBytes)
}

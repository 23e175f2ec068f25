// Package seriesfile implements a series key directory sharded into a
// fixed power-of-two number of partitions, each an append-only segment
// log indexed by an in-memory Robin-Hood hash table plus an in-memory
// overlay of entries appended since the last rebuild. The hash table is
// not written to disk: on reopen, every segment is replayed into the
// overlay.
package seriesfile

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/coreseries/tsmstore/internal/hash"
	"github.com/coreseries/tsmstore/storage"
)

// DefaultPartitions is the typical partition count P.
const DefaultPartitions = 8

// SeriesFile resolves series keys to stable 64-bit IDs and back, sharded
// across P partitions selected by hash(key) mod P.
type SeriesFile struct {
	partitions []*partition
}

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	partitions int
	logger     *zap.Logger
}

// WithPartitions overrides the default partition count. p must be a
// power of two.
func WithPartitions(p int) Option {
	return func(c *openConfig) { c.partitions = p }
}

// WithLogger attaches a logger to every partition. Segment recovery and
// index rebuilds are not logged; no seriesfile code path writes to it.
func WithLogger(l *zap.Logger) Option {
	return func(c *openConfig) { c.logger = l }
}

// Open opens (or creates) a series file rooted at dir, one
// subdirectory per partition.
func Open(backend storage.Backend, dir string, opts ...Option) (*SeriesFile, error) {
	cfg := openConfig{partitions: DefaultPartitions, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.partitions <= 0 || cfg.partitions&(cfg.partitions-1) != 0 {
		return nil, fmt.Errorf("seriesfile: partition count %d is not a power of two", cfg.partitions)
	}

	if err := backend.CreateDir(dir); err != nil {
		return nil, err
	}

	sf := &SeriesFile{partitions: make([]*partition, cfg.partitions)}

	for i := 0; i < cfg.partitions; i++ {
		pdir := fmt.Sprintf("%s/%04x", dir, i)

		pt, err := newPartition(backend, pdir, uint16(i), uint16(cfg.partitions), cfg.logger)
		if err != nil {
			return nil, err
		}

		sf.partitions[i] = pt
	}

	return sf, nil
}

func (sf *SeriesFile) partitionFor(key []byte) *partition {
	h := hash.SeriesKey(key)
	return sf.partitions[h&uint64(len(sf.partitions)-1)]
}

func (sf *SeriesFile) partitionForID(id uint64) *partition {
	return sf.partitions[id&uint64(len(sf.partitions)-1)]
}

// CreateSeriesIfNotExists resolves key to a stable ID, assigning a new
// one if key has never been seen (or was tombstoned).
func (sf *SeriesFile) CreateSeriesIfNotExists(key []byte) (uint64, error) {
	return sf.partitionFor(key).createSeriesIfNotExists(key)
}

// FindIDByKey resolves key to its ID, or 0 if not present.
func (sf *SeriesFile) FindIDByKey(key []byte) uint64 {
	return sf.partitionFor(key).findIDByKey(key)
}

// FindOffsetByID resolves id to its packed segment offset.
func (sf *SeriesFile) FindOffsetByID(id uint64) (uint64, bool) {
	return sf.partitionForID(id).findOffsetByID(id)
}

// KeyForID resolves id back to its series key.
func (sf *SeriesFile) KeyForID(id uint64) ([]byte, bool) {
	return sf.partitionForID(id).keyForID(id)
}

// DeleteID tombstones id, preserving insertion order in the segment log.
func (sf *SeriesFile) DeleteID(id uint64) error {
	return sf.partitionForID(id).deleteID(id)
}

// Close closes every partition's open segment files.
func (sf *SeriesFile) Close() error {
	var first error

	for _, pt := range sf.partitions {
		for _, seg := range pt.segments {
			if err := seg.close(); err != nil && first == nil {
				first = err
			}
		}
	}

	return first
}

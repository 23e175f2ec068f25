// Package cache implements the write cache and snapshot-to-TSM path: a
// 16-partition in-memory map from field-key to typed, timestamp-ordered
// values, routed by murmur3(key) mod 16 and guarded per-partition by a
// reader/writer lock.
package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/coreseries/tsmstore/block"
	"github.com/coreseries/tsmstore/tsmerrs"
)

// ValueType distinguishes the five value kinds a cache entry may hold.
type ValueType = block.Type

// Point is one cached (timestamp, value) sample. Exactly one of the
// typed fields is meaningful, selected by the entry's ValueType.
type Point struct {
	Time  int64
	F64   float64
	I64   int64
	U64   uint64
	Bool  bool
	Bytes []byte
}

type entry struct {
	typ    ValueType
	values []Point
}

const partitionCount = 16

// Cache buffers unflushed points keyed by field-key, deduplicating and
// merging on read, and draining to TSM files on snapshot.
type Cache struct {
	partitions [partitionCount]struct {
		mu   sync.RWMutex
		data map[string]*entry
	}
}

// New creates an empty cache.
func New() *Cache {
	c := &Cache{}
	for i := range c.partitions {
		c.partitions[i].data = make(map[string]*entry)
	}

	return c
}

func partitionIndex(key []byte) int {
	h := murmur3.Sum32(key)
	return int(h % partitionCount)
}

// Write appends values under key, creating the entry (typed by the
// first value written) if absent. Writing a value whose type disagrees
// with the entry's established type is a programmer error and panics
// rather than returning an error.
func (c *Cache) Write(key []byte, typ ValueType, values []Point) error {
	if len(values) == 0 {
		return tsmerrs.ErrEmptyWrite
	}

	p := &c.partitions[partitionIndex(key)]

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.data[string(key)]
	if !ok {
		e = &entry{typ: typ}
		p.data[string(key)] = e
	} else if e.typ != typ {
		panic(fmt.Sprintf("cache: type mismatch writing to %q: entry is %s, write is %s", key, e.typ, typ))
	}

	e.values = append(e.values, values...)

	return nil
}

// Deduplicate sorts key's values by timestamp and keeps the last value
// written for each timestamp. It is idempotent: deduplicating twice in a
// row leaves the result unchanged.
func (c *Cache) Deduplicate(key []byte) {
	p := &c.partitions[partitionIndex(key)]

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.data[string(key)]
	if !ok {
		return
	}

	e.values = dedupeSortedLastWins(e.values)
}

func dedupeSortedLastWins(values []Point) []Point {
	if len(values) < 2 {
		return values
	}

	sort.SliceStable(values, func(i, j int) bool { return values[i].Time < values[j].Time })

	out := values[:1]

	for _, v := range values[1:] {
		if v.Time == out[len(out)-1].Time {
			out[len(out)-1] = v
			continue
		}

		out = append(out, v)
	}

	return out
}

// Read returns a deduplicated, timestamp-sorted snapshot of key's
// values and its type. It does not clear the entry.
func (c *Cache) Read(key []byte) (ValueType, []Point, bool) {
	c.Deduplicate(key)

	p := &c.partitions[partitionIndex(key)]

	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.data[string(key)]
	if !ok {
		return 0, nil, false
	}

	out := make([]Point, len(e.values))
	copy(out, e.values)

	return e.typ, out, true
}

// Delete drops key's entry entirely.
func (c *Cache) Delete(key []byte) {
	p := &c.partitions[partitionIndex(key)]

	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.data, string(key))
}

// DeleteRange removes values in [minTime, maxTime] from key's entry, if
// present. An entry left with no values is dropped.
func (c *Cache) DeleteRange(key []byte, minTime, maxTime int64) {
	p := &c.partitions[partitionIndex(key)]

	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.data[string(key)]
	if !ok {
		return
	}

	kept := e.values[:0]

	for _, v := range e.values {
		if v.Time >= minTime && v.Time <= maxTime {
			continue
		}

		kept = append(kept, v)
	}

	if len(kept) == 0 {
		delete(p.data, string(key))
		return
	}

	e.values = kept
}

// snapshotPartition is the deduplicated, about-to-be-flushed contents of
// one cache partition, captured under its write lock and then released
// for independent, lock-free encoding.
type snapshotPartition struct {
	entries map[string]*entry
}

// Snapshot atomically clears every partition and returns its
// deduplicated contents, ready to be chunked and encoded into TSM
// blocks by the caller (see tsmstore.Flush).
func (c *Cache) Snapshot() []snapshotPartition {
	out := make([]snapshotPartition, partitionCount)

	for i := range c.partitions {
		p := &c.partitions[i]

		p.mu.Lock()
		data := p.data
		p.data = make(map[string]*entry)
		p.mu.Unlock()

		for _, e := range data {
			e.values = dedupeSortedLastWins(e.values)
		}

		out[i] = snapshotPartition{entries: data}
	}

	return out
}

// Keys returns every field-key within snapshot partition sp, in ascending order.
func (sp snapshotPartition) Keys() []string {
	keys := make([]string, 0, len(sp.entries))
	for k := range sp.entries {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Entry returns the type and deduplicated values for key within sp.
func (sp snapshotPartition) Entry(key string) (ValueType, []Point) {
	e := sp.entries[key]
	return e.typ, e.values
}

package seriesfile

import (
	"bytes"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/coreseries/tsmstore/internal/hash"
	"github.com/coreseries/tsmstore/storage"
	"github.com/coreseries/tsmstore/tsmerrs"
)

// rebuildThreshold triggers an index rebuild once the in-memory overlay
// grows past this many entries, a fixed compile-time constant.
const rebuildThreshold = 128 * 1024

// partition owns one P-th of the series-key space: its own segment log,
// an in-memory Robin-Hood index, and an in-memory overlay of entries
// appended since the last rebuild. The index is not persisted; on
// reopen, every segment is replayed into the overlay.
type partition struct {
	id   uint16
	p    uint16 // total partition count, for ID stepping
	dir  string
	back storage.Backend
	log  *zap.Logger

	mu sync.RWMutex

	segments []*segment
	active   *segment

	keyHash *robinHood
	idHash  *robinHood

	overlayByKey map[string]uint64
	overlayByID  map[uint64]int64 // id -> packed offset
	tombstones   map[uint64]bool

	seq uint64
}

func newPartition(back storage.Backend, dir string, id, p uint16, logger *zap.Logger) (*partition, error) {
	// seq seeds the ID sequence for this partition. Routing is id&(p-1),
	// so stepping by p preserves partition membership; partition 0 must
	// not start at 0, since FindIDByKey uses 0 to mean "not present".
	seq := uint64(id)
	if id == 0 {
		seq = uint64(p)
	}

	pt := &partition{
		id:           id,
		p:            p,
		dir:          dir,
		back:         back,
		log:          logger,
		overlayByKey: make(map[string]uint64),
		overlayByID:  make(map[uint64]int64),
		tombstones:   make(map[uint64]bool),
		seq:          seq,
	}

	if err := back.CreateDir(dir); err != nil {
		return nil, err
	}

	names, err := back.List(dir)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		seg, err := createSegment(back, dir, 0)
		if err != nil {
			return nil, err
		}

		pt.segments = []*segment{seg}
		pt.active = seg
	} else {
		if err := pt.reopenSegments(); err != nil {
			return nil, err
		}
	}

	pt.keyHash = newRobinHood(1024, pt.keyIdealSlot)
	pt.idHash = newRobinHood(1024, pt.idIdealSlot)

	return pt, nil
}

// reopenSegments opens every existing segment file and replays its
// entries into the overlay, using the already-open segment handle
// rather than reopening each file a second time.
func (pt *partition) reopenSegments() error {
	var maxID uint16

	names, err := pt.back.List(pt.dir)
	if err != nil {
		return err
	}

	found := false

	for _, n := range names {
		if len(n) < 4 {
			continue
		}

		var id uint16

		if _, err := fmt.Sscanf(n, "%04x.sseg", &id); err == nil {
			found = true

			if id > maxID {
				maxID = id
			}
		}
	}

	if !found {
		seg, err := createSegment(pt.back, pt.dir, 0)
		if err != nil {
			return err
		}

		pt.segments = []*segment{seg}
		pt.active = seg

		return nil
	}

	for id := uint16(0); id <= maxID; id++ {
		seg, entries, err := openSegment(pt.back, pt.dir, id)
		if err != nil {
			return err
		}

		pt.segments = append(pt.segments, seg)
		pt.replay(seg.id, entries)
	}

	pt.active = pt.segments[len(pt.segments)-1]

	return nil
}

func (pt *partition) replay(segID uint16, entries []segmentEntry) {
	pos := int64(segmentHeaderSize)

	for _, e := range entries {
		off := offsetFor(segID, pos)

		switch e.Flag {
		case flagInsert:
			pt.overlayByKey[string(e.Key)] = e.ID
			pt.overlayByID[e.ID] = int64(off)

			if e.ID >= pt.seq {
				pt.seq = e.ID + uint64(pt.p)
			}
		case flagTombstone:
			pt.tombstones[e.ID] = true
		}

		pos += int64(len(encodeEntry(e.Flag, e.ID, e.Key)))
	}
}

func (pt *partition) keyIdealSlot(s slot) uint64 {
	e, err := pt.readEntryAt(uint64(s.offset))
	if err != nil {
		return 0
	}

	return hash.SeriesKey(e.Key)
}

func (pt *partition) idIdealSlot(s slot) uint64 {
	return hash.SeriesID(s.id)
}

func (pt *partition) readEntryAt(off uint64) (segmentEntry, error) {
	segID, pos := splitOffset(off)

	for _, seg := range pt.segments {
		if seg.id == segID {
			return seg.readAt(pos)
		}
	}

	return segmentEntry{}, tsmerrs.ErrSeriesNotFound
}

// createSeriesIfNotExists resolves key to a stable ID, creating one if
// key has not been seen before (or was tombstoned).
func (pt *partition) createSeriesIfNotExists(key []byte) (uint64, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if id, ok := pt.overlayByKey[string(key)]; ok && !pt.tombstones[id] {
		return id, nil
	}

	h := hash.SeriesKey(key)

	if s, ok := pt.keyHash.lookup(h, func(sl slot) bool {
		e, err := pt.readEntryAt(sl.offset)
		return err == nil && bytes.Equal(e.Key, key)
	}); ok && !pt.tombstones[s.id] {
		return s.id, nil
	}

	id := pt.seq
	pt.seq += uint64(pt.p)

	off, err := pt.appendInsert(id, key)
	if err != nil {
		return 0, err
	}

	pt.overlayByKey[string(key)] = id
	pt.overlayByID[id] = int64(off)

	if len(pt.overlayByKey) >= rebuildThreshold {
		pt.rebuildLocked()
	}

	return id, nil
}

func (pt *partition) appendInsert(id uint64, key []byte) (uint64, error) {
	off, ok, err := pt.active.append(flagInsert, id, key)
	if err != nil {
		return 0, err
	}

	if !ok {
		seg, err := createSegment(pt.back, pt.dir, pt.active.id+1)
		if err != nil {
			return 0, err
		}

		pt.segments = append(pt.segments, seg)
		pt.active = seg

		off, _, err = pt.active.append(flagInsert, id, key)
		if err != nil {
			return 0, err
		}
	}

	return offsetFor(pt.active.id, off), nil
}

// findIDByKey resolves key to an ID, or 0 if not present / tombstoned.
func (pt *partition) findIDByKey(key []byte) uint64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	if id, ok := pt.overlayByKey[string(key)]; ok {
		if pt.tombstones[id] {
			return 0
		}

		return id
	}

	h := hash.SeriesKey(key)

	s, ok := pt.keyHash.lookup(h, func(sl slot) bool {
		e, err := pt.readEntryAt(sl.offset)
		return err == nil && bytes.Equal(e.Key, key)
	})
	if !ok || pt.tombstones[s.id] {
		return 0
	}

	return s.id
}

// findOffsetByID resolves id to its packed segment offset.
func (pt *partition) findOffsetByID(id uint64) (uint64, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	if off, ok := pt.overlayByID[id]; ok {
		return uint64(off), true
	}

	s, ok := pt.idHash.lookup(hash.SeriesID(id), func(sl slot) bool { return sl.id == id })
	if !ok {
		return 0, false
	}

	return s.offset, true
}

// keyForID resolves id back to its series key.
func (pt *partition) keyForID(id uint64) ([]byte, bool) {
	off, ok := pt.findOffsetByID(id)
	if !ok {
		return nil, false
	}

	pt.mu.RLock()
	defer pt.mu.RUnlock()

	e, err := pt.readEntryAt(off)
	if err != nil {
		return nil, false
	}

	return e.Key, true
}

// deleteID tombstones id.
func (pt *partition) deleteID(id uint64) error {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if _, ok, err := pt.active.append(flagTombstone, id, nil); err == nil && !ok {
		seg, err := createSegment(pt.back, pt.dir, pt.active.id+1)
		if err != nil {
			return err
		}

		pt.segments = append(pt.segments, seg)
		pt.active = seg

		if _, _, err := pt.active.append(flagTombstone, id, nil); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	pt.tombstones[id] = true

	return nil
}

// rebuildLocked merges the overlay into the in-memory Robin-Hood tables
// and clears it.
// Caller must hold pt.mu. Unlike a production deployment, this runs
// synchronously on the calling goroutine rather than on a dedicated
// rebuild task; the data structures it produces are identical.
func (pt *partition) rebuildLocked() {
	newCap := uint64(len(pt.keyHash.slots))
	for newCap > 0 && float64(pt.keyHash.count+uint64(len(pt.overlayByKey)))/float64(newCap) > 0.5 {
		newCap *= 2
	}

	newKeyHash := newRobinHood(newCap, pt.keyIdealSlot)
	newIDHash := newRobinHood(newCap, pt.idIdealSlot)

	for i := range pt.keyHash.slots {
		s := pt.keyHash.slots[i]
		if s.offset != 0 {
			e, err := pt.readEntryAt(s.offset)
			if err == nil {
				newKeyHash.insert(hash.SeriesKey(e.Key), s)
			}
		}
	}

	for i := range pt.idHash.slots {
		s := pt.idHash.slots[i]
		if s.offset != 0 {
			newIDHash.insert(hash.SeriesID(s.id), s)
		}
	}

	for key, id := range pt.overlayByKey {
		off := uint64(pt.overlayByID[id])
		newKeyHash.insert(hash.SeriesKey([]byte(key)), slot{offset: off, id: id})
		newIDHash.insert(hash.SeriesID(id), slot{offset: off, id: id})
	}

	pt.keyHash = newKeyHash
	pt.idHash = newIDHash
	pt.overlayByKey = make(map[string]uint64)
	pt.overlayByID = make(map[uint64]int64)
}

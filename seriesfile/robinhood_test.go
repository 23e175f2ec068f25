package seriesfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func idealByID(s slot) uint64 { return s.id }

func TestRobinHood_InsertLookup_RoundTrip(t *testing.T) {
	h := newRobinHood(16, idealByID)

	for i := uint64(1); i <= 10; i++ {
		h.insert(i, slot{offset: i, id: i})
	}

	for i := uint64(1); i <= 10; i++ {
		s, ok := h.lookup(i, func(sl slot) bool { return sl.id == i })
		require.True(t, ok)
		require.Equal(t, i, s.offset)
	}
}

func TestRobinHood_Lookup_MissingKeyNotFound(t *testing.T) {
	h := newRobinHood(16, idealByID)
	h.insert(1, slot{offset: 1, id: 1})

	_, ok := h.lookup(99, func(sl slot) bool { return sl.id == 99 })
	require.False(t, ok)
}

func TestRobinHood_CollidingHashes_AllFindable(t *testing.T) {
	// Every key below collides on the home slot (hash & mask == 1), forcing
	// Robin-Hood displacement across the full probe sequence.
	const capacity = 8

	h := newRobinHood(capacity, idealByID)

	var ids []uint64
	for i := uint64(0); i < 6; i++ {
		id := i*capacity + 1
		ids = append(ids, id)
		h.insert(id, slot{offset: id, id: id})
	}

	for _, id := range ids {
		s, ok := h.lookup(id, func(sl slot) bool { return sl.id == id })
		require.True(t, ok, "id %d should be findable", id)
		require.Equal(t, id, s.offset)
	}
}

func TestRobinHood_LoadFactor(t *testing.T) {
	h := newRobinHood(16, idealByID)
	require.Equal(t, 0.0, h.loadFactor())

	h.insert(1, slot{offset: 1, id: 1})
	h.insert(2, slot{offset: 2, id: 2})

	require.InDelta(t, 2.0/16.0, h.loadFactor(), 1e-9)
}

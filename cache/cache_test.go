package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreseries/tsmstore/block"
)

func TestCache_Write_Read_RoundTrip(t *testing.T) {
	c := New()

	key := []byte("cpu,host=a#!~#usage")
	values := []Point{{Time: 2, F64: 2.0}, {Time: 1, F64: 1.0}}

	require.NoError(t, c.Write(key, block.TypeFloat, values))

	typ, got, ok := c.Read(key)
	require.True(t, ok)
	require.Equal(t, block.TypeFloat, typ)
	require.Equal(t, []Point{{Time: 1, F64: 1.0}, {Time: 2, F64: 2.0}}, got)
}

func TestCache_Write_EmptyValues_ReturnsError(t *testing.T) {
	c := New()
	err := c.Write([]byte("k"), block.TypeFloat, nil)
	require.Error(t, err)
}

func TestCache_Write_TypeMismatch_Panics(t *testing.T) {
	c := New()
	key := []byte("k")

	require.NoError(t, c.Write(key, block.TypeFloat, []Point{{Time: 1, F64: 1.0}}))

	require.Panics(t, func() {
		_ = c.Write(key, block.TypeInteger, []Point{{Time: 2, I64: 2}})
	})
}

func TestCache_Deduplicate_LastValueWinsPerTimestamp(t *testing.T) {
	c := New()
	key := []byte("k")

	require.NoError(t, c.Write(key, block.TypeFloat, []Point{
		{Time: 1, F64: 1.0},
		{Time: 1, F64: 99.0},
		{Time: 2, F64: 2.0},
	}))

	_, got, ok := c.Read(key)
	require.True(t, ok)
	require.Equal(t, []Point{{Time: 1, F64: 99.0}, {Time: 2, F64: 2.0}}, got)
}

func TestCache_Deduplicate_IsIdempotent(t *testing.T) {
	c := New()
	key := []byte("k")

	require.NoError(t, c.Write(key, block.TypeFloat, []Point{{Time: 2, F64: 2.0}, {Time: 1, F64: 1.0}}))

	c.Deduplicate(key)
	_, first, _ := c.Read(key)

	c.Deduplicate(key)
	_, second, _ := c.Read(key)

	require.Equal(t, first, second)
}

func TestCache_Read_MissingKey(t *testing.T) {
	c := New()
	_, _, ok := c.Read([]byte("missing"))
	require.False(t, ok)
}

func TestCache_Snapshot_ClearsPartitionsAndReturnsContents(t *testing.T) {
	c := New()

	require.NoError(t, c.Write([]byte("a"), block.TypeFloat, []Point{{Time: 1, F64: 1.0}}))
	require.NoError(t, c.Write([]byte("b"), block.TypeInteger, []Point{{Time: 1, I64: 7}}))

	partitions := c.Snapshot()

	var allKeys []string
	for _, p := range partitions {
		allKeys = append(allKeys, p.Keys()...)
	}
	require.ElementsMatch(t, []string{"a", "b"}, allKeys)

	_, _, ok := c.Read([]byte("a"))
	require.False(t, ok)
	_, _, ok = c.Read([]byte("b"))
	require.False(t, ok)
}

func TestCache_Delete_DropsEntry(t *testing.T) {
	c := New()
	key := []byte("k")

	require.NoError(t, c.Write(key, block.TypeFloat, []Point{{Time: 1, F64: 1.0}}))
	c.Delete(key)

	_, _, ok := c.Read(key)
	require.False(t, ok)
}

func TestCache_Delete_MissingKey_NoOp(t *testing.T) {
	c := New()
	c.Delete([]byte("missing"))
}

func TestCache_DeleteRange_FiltersValuesKeepingOthers(t *testing.T) {
	c := New()
	key := []byte("k")

	require.NoError(t, c.Write(key, block.TypeFloat, []Point{
		{Time: 1, F64: 1.0},
		{Time: 2, F64: 2.0},
		{Time: 3, F64: 3.0},
	}))

	c.DeleteRange(key, 2, 2)

	_, got, ok := c.Read(key)
	require.True(t, ok)
	require.Equal(t, []Point{{Time: 1, F64: 1.0}, {Time: 3, F64: 3.0}}, got)
}

func TestCache_DeleteRange_EmptiesEntry_DropsIt(t *testing.T) {
	c := New()
	key := []byte("k")

	require.NoError(t, c.Write(key, block.TypeFloat, []Point{{Time: 1, F64: 1.0}, {Time: 2, F64: 2.0}}))
	c.DeleteRange(key, 0, 10)

	_, _, ok := c.Read(key)
	require.False(t, ok)
}

func TestSnapshotPartition_Entry_ReturnsDedupedValues(t *testing.T) {
	c := New()
	require.NoError(t, c.Write([]byte("a"), block.TypeFloat, []Point{
		{Time: 2, F64: 2.0},
		{Time: 1, F64: 1.0},
		{Time: 1, F64: 10.0},
	}))

	partitions := c.Snapshot()

	for _, p := range partitions {
		for _, k := range p.Keys() {
			typ, values := p.Entry(k)
			require.Equal(t, block.TypeFloat, typ)
			require.Equal(t, []Point{{Time: 1, F64: 10.0}, {Time: 2, F64: 2.0}}, values)
		}
	}
}

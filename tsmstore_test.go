package tsmstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreseries/tsmstore/block"
	"github.com/coreseries/tsmstore/cache"
	"github.com/coreseries/tsmstore/codec"
	"github.com/coreseries/tsmstore/storage"
	"github.com/coreseries/tsmstore/tsmerrs"
	"github.com/coreseries/tsmstore/tsmfile"
)

func TestStore_WritePoint_Flush_RoundTrip(t *testing.T) {
	back := storage.NewLocal()
	dir := t.TempDir()

	s, err := Open(back, filepath.Join(dir, "store"))
	require.NoError(t, err)

	seriesKey := []byte("cpu,host=server01")

	require.NoError(t, s.WritePoint(seriesKey, "usage_idle", 100, 1.5))
	require.NoError(t, s.WritePoint(seriesKey, "usage_idle", 200, 2.5))
	require.NoError(t, s.WritePoint(seriesKey, "usage_idle", 300, 3.5))

	tsmPath := filepath.Join(dir, "000001.tsm")
	require.NoError(t, s.Flush(tsmPath))

	r, err := tsmfile.Open(back, tsmPath, nil)
	require.NoError(t, err)
	defer r.Close()

	fk := FieldKey(seriesKey, "usage_idle")

	entries, err := r.Entries(fk)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	typ, tsBytes, valBytes, err := r.ReadBlock(fk, entries[0])
	require.NoError(t, err)
	require.Equal(t, block.TypeFloat, typ)

	tsDec := codec.NewTimestampDecoder(tsBytes)
	var gotTS []int64
	for tsDec.Next() {
		gotTS = append(gotTS, tsDec.Value())
	}
	require.Equal(t, []int64{100, 200, 300}, gotTS)

	valDec := codec.NewFloatDecoder(valBytes)
	var gotVal []float64
	for valDec.Next() {
		gotVal = append(gotVal, valDec.Value())
	}
	require.Equal(t, []float64{1.5, 2.5, 3.5}, gotVal)
}

func TestStore_WritePoint_MultipleFieldsAndSeries(t *testing.T) {
	back := storage.NewLocal()
	dir := t.TempDir()

	s, err := Open(back, filepath.Join(dir, "store"))
	require.NoError(t, err)

	require.NoError(t, s.WritePoint([]byte("cpu,host=a"), "usage_idle", 1, 10.0))
	require.NoError(t, s.WritePoint([]byte("cpu,host=a"), "usage_user", 1, int64(5)))
	require.NoError(t, s.WritePoint([]byte("cpu,host=b"), "usage_idle", 1, 20.0))

	tsmPath := filepath.Join(dir, "000001.tsm")
	require.NoError(t, s.Flush(tsmPath))

	r, err := tsmfile.Open(back, tsmPath, nil)
	require.NoError(t, err)
	defer r.Close()

	require.Len(t, r.Keys(), 3)
}

func TestStore_Flush_ChunksByBlockCapacity(t *testing.T) {
	back := storage.NewLocal()
	dir := t.TempDir()

	s, err := Open(back, filepath.Join(dir, "store"), WithBlockCapacity(2))
	require.NoError(t, err)

	seriesKey := []byte("cpu,host=a")
	for i := int64(0); i < 5; i++ {
		require.NoError(t, s.WritePoint(seriesKey, "usage", i, float64(i)))
	}

	tsmPath := filepath.Join(dir, "000001.tsm")
	require.NoError(t, s.Flush(tsmPath))

	r, err := tsmfile.Open(back, tsmPath, nil)
	require.NoError(t, err)
	defer r.Close()

	entries, err := r.Entries(FieldKey(seriesKey, "usage"))
	require.NoError(t, err)
	require.Len(t, entries, 3) // 2, 2, 1
}

func TestStore_WritePoint_UnsupportedType_ReturnsError(t *testing.T) {
	back := storage.NewLocal()
	dir := t.TempDir()

	s, err := Open(back, filepath.Join(dir, "store"))
	require.NoError(t, err)

	err = s.WritePoint([]byte("cpu"), "usage", 1, "not supported")
	require.Error(t, err)
}

func TestStore_Read_MergesCacheAndFlushedFilesLastWins(t *testing.T) {
	back := storage.NewLocal()
	dir := t.TempDir()

	s, err := Open(back, filepath.Join(dir, "store"))
	require.NoError(t, err)

	seriesKey := []byte("cpu,host=a")
	fk := FieldKey(seriesKey, "usage")

	require.NoError(t, s.WritePoint(seriesKey, "usage", 1, 1.0))
	require.NoError(t, s.WritePoint(seriesKey, "usage", 2, 2.0))

	require.NoError(t, s.Flush(filepath.Join(dir, "store", "000001.tsm")))

	// Overwrite timestamp 2 and add a new one, both still in the cache.
	require.NoError(t, s.WritePoint(seriesKey, "usage", 2, 99.0))
	require.NoError(t, s.WritePoint(seriesKey, "usage", 3, 3.0))

	typ, pts, err := s.Read(fk)
	require.NoError(t, err)
	require.Equal(t, block.TypeFloat, typ)
	require.Equal(t, []cache.Point{
		{Time: 1, F64: 1.0},
		{Time: 2, F64: 99.0},
		{Time: 3, F64: 3.0},
	}, pts)
}

func TestStore_Read_MissingKey_ReturnsNotFound(t *testing.T) {
	back := storage.NewLocal()
	dir := t.TempDir()

	s, err := Open(back, filepath.Join(dir, "store"))
	require.NoError(t, err)

	_, _, err = s.Read(FieldKey([]byte("cpu"), "usage"))
	require.ErrorIs(t, err, tsmerrs.ErrKeyNotFound)
}

func TestStore_Delete_RemovesKeyEntirely(t *testing.T) {
	back := storage.NewLocal()
	dir := t.TempDir()

	s, err := Open(back, filepath.Join(dir, "store"))
	require.NoError(t, err)

	seriesKey := []byte("cpu,host=a")
	fk := FieldKey(seriesKey, "usage")

	require.NoError(t, s.WritePoint(seriesKey, "usage", 1, 1.0))
	require.NoError(t, s.Flush(filepath.Join(dir, "store", "000001.tsm")))

	require.NoError(t, s.WritePoint(seriesKey, "usage", 2, 2.0))

	require.NoError(t, s.Delete([][]byte{fk}))

	_, _, err = s.Read(fk)
	require.ErrorIs(t, err, tsmerrs.ErrKeyNotFound)
}

func TestStore_DeleteRange_FiltersCachedAndFlushedPoints(t *testing.T) {
	back := storage.NewLocal()
	dir := t.TempDir()

	s, err := Open(back, filepath.Join(dir, "store"))
	require.NoError(t, err)

	seriesKey := []byte("cpu,host=a")
	fk := FieldKey(seriesKey, "usage")

	require.NoError(t, s.WritePoint(seriesKey, "usage", 1, 1.0))
	require.NoError(t, s.WritePoint(seriesKey, "usage", 2, 2.0))
	require.NoError(t, s.Flush(filepath.Join(dir, "store", "000001.tsm")))

	require.NoError(t, s.WritePoint(seriesKey, "usage", 3, 3.0))

	require.NoError(t, s.DeleteRange([][]byte{fk}, 2, 3))

	_, pts, err := s.Read(fk)
	require.NoError(t, err)
	require.Equal(t, []cache.Point{{Time: 1, F64: 1.0}}, pts)
}

func TestFieldKey_CombinesSeriesKeyAndFieldName(t *testing.T) {
	fk := FieldKey([]byte("cpu,host=a"), "usage_idle")
	require.Contains(t, string(fk), "cpu,host=a")
	require.Contains(t, string(fk), "usage_idle")
}

package tsmfile

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coreseries/tsmstore/block"
	"github.com/coreseries/tsmstore/codec"
	"github.com/coreseries/tsmstore/storage"
)

func buildFloatBlock(t *testing.T, ts []int64, vs []float64) []byte {
	t.Helper()

	tsEnc := codec.NewTimestampEncoder(len(ts))
	tsEnc.WriteSlice(ts)
	tsBytes := append([]byte(nil), tsEnc.Bytes()...)
	tsEnc.Finish()

	valEnc := codec.NewFloatEncoder(len(vs))
	valEnc.WriteSlice(vs)
	valBytes := append([]byte(nil), valEnc.Bytes()...)
	valEnc.Finish()

	b, err := block.Encode(block.TypeFloat, tsBytes, valBytes)
	require.NoError(t, err)

	return b
}

func TestWriter_Reader_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.tsm")
	back := storage.NewLocal()

	w, err := Create(back, path, zap.NewNop())
	require.NoError(t, err)

	blk1 := buildFloatBlock(t, []int64{100, 200}, []float64{1.0, 2.0})
	require.NoError(t, w.WriteBlock([]byte("cpu,host=a#!~#usage"), block.TypeFloat, 100, 200, blk1))

	blk2 := buildFloatBlock(t, []int64{300, 400, 500}, []float64{3.0, 4.0, 5.0})
	require.NoError(t, w.WriteBlock([]byte("cpu,host=b#!~#usage"), block.TypeFloat, 300, 500, blk2))

	require.NoError(t, w.Close())

	r, err := Open(back, path, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	keys := r.Keys()
	require.Len(t, keys, 2)
	require.Equal(t, "cpu,host=a#!~#usage", string(keys[0]))
	require.Equal(t, "cpu,host=b#!~#usage", string(keys[1]))

	entries, err := r.Entries(keys[0])
	require.NoError(t, err)
	require.Len(t, entries, 1)

	typ, tsBytes, valBytes, err := r.ReadBlock(keys[0], entries[0])
	require.NoError(t, err)
	require.Equal(t, block.TypeFloat, typ)

	tsDec := codec.NewTimestampDecoder(tsBytes)
	var gotTS []int64
	for tsDec.Next() {
		gotTS = append(gotTS, tsDec.Value())
	}
	require.Equal(t, []int64{100, 200}, gotTS)

	valDec := codec.NewFloatDecoder(valBytes)
	var gotVal []float64
	for valDec.Next() {
		gotVal = append(gotVal, valDec.Value())
	}
	require.Equal(t, []float64{1.0, 2.0}, gotVal)
}

func TestReader_BlockType_ReturnsRecordedType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.tsm")
	back := storage.NewLocal()

	w, err := Create(back, path, zap.NewNop())
	require.NoError(t, err)

	blk := buildFloatBlock(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, w.WriteBlock([]byte("cpu,host=a#!~#v"), block.TypeFloat, 1, 10, blk))
	require.NoError(t, w.Close())

	r, err := Open(back, path, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	typ, ok := r.BlockType([]byte("cpu,host=a#!~#v"))
	require.True(t, ok)
	require.Equal(t, block.TypeFloat, typ)

	entries, err := r.Entries([]byte("cpu,host=a#!~#v"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, int64(1), entries[0].MinTime)
	require.Equal(t, int64(10), entries[0].MaxTime)

	_, ok = r.BlockType([]byte("no-such-key"))
	require.False(t, ok)
}

func TestAppendTombstones_MergesWithExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.tsm")
	back := storage.NewLocal()

	w, err := Create(back, path, zap.NewNop())
	require.NoError(t, err)

	blk := buildFloatBlock(t, []int64{1, 2}, []float64{1.0, 2.0})
	require.NoError(t, w.WriteBlock([]byte("a"), block.TypeFloat, 1, 2, blk))
	require.NoError(t, w.Close())

	require.NoError(t, AppendTombstones(back, path, nil, [][]byte{[]byte("a")}, 1, 1))
	require.NoError(t, AppendTombstones(back, path, [][]byte{[]byte("b")}, nil, 0, 0))

	r, err := Open(back, path, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.RangeDeleted([]byte("a"), 1, 1))
	require.False(t, r.RangeDeleted([]byte("a"), 1, 2))
	require.True(t, r.RangeDeleted([]byte("b"), -100, 100))
}

func TestWriter_WriteBlock_OutOfOrderKeyPanics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.tsm")
	back := storage.NewLocal()

	w, err := Create(back, path, zap.NewNop())
	require.NoError(t, err)
	defer w.Remove()

	blk := buildFloatBlock(t, []int64{1}, []float64{1.0})
	require.NoError(t, w.WriteBlock([]byte("b"), block.TypeFloat, 1, 1, blk))

	require.Panics(t, func() {
		_ = w.WriteBlock([]byte("a"), block.TypeFloat, 1, 1, blk)
	})
}

func TestReader_EntryAt_NotFoundReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.tsm")
	back := storage.NewLocal()

	w, err := Create(back, path, zap.NewNop())
	require.NoError(t, err)

	blk := buildFloatBlock(t, []int64{1, 2}, []float64{1.0, 2.0})
	require.NoError(t, w.WriteBlock([]byte("cpu"), block.TypeFloat, 1, 2, blk))
	require.NoError(t, w.Close())

	r, err := Open(back, path, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	_, ok, err := r.EntryAt([]byte("missing"), 1)
	require.NoError(t, err)
	require.False(t, ok)

	e, ok, err := r.EntryAt([]byte("cpu"), 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), e.MinTime)
}

func TestReader_ReadBlock_CRCMismatchReturnsIntegrityError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.tsm")
	back := storage.NewLocal()

	w, err := Create(back, path, zap.NewNop())
	require.NoError(t, err)

	blk := buildFloatBlock(t, []int64{1, 2}, []float64{1.0, 2.0})
	require.NoError(t, w.WriteBlock([]byte("cpu"), block.TypeFloat, 1, 2, blk))
	require.NoError(t, w.Close())

	f, err := back.Open(path)
	require.NoError(t, err)
	_, err = f.Seek(headerSize, io.SeekStart) // first block's CRC32
	require.NoError(t, err)
	_, err = f.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r, err := Open(back, path, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	entries, err := r.Entries([]byte("cpu"))
	require.NoError(t, err)

	_, _, _, err = r.ReadBlock([]byte("cpu"), entries[0])
	require.Error(t, err)
}

func TestWriter_Tombstones_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.tsm")
	back := storage.NewLocal()

	w, err := Create(back, path, zap.NewNop())
	require.NoError(t, err)

	blk := buildFloatBlock(t, []int64{1, 2}, []float64{1.0, 2.0})
	require.NoError(t, w.WriteBlock([]byte("cpu"), block.TypeFloat, 1, 2, blk))

	w.DeleteRange([][]byte{[]byte("cpu")}, 1, 2)
	require.NoError(t, w.WriteTombstones())
	require.NoError(t, w.Close())

	r, err := Open(back, path, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	require.True(t, r.RangeDeleted([]byte("cpu"), 1, 2))
	require.False(t, r.RangeDeleted([]byte("cpu"), 1, 3))
}

func TestOpen_TruncatedFile_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.tsm")
	back := storage.NewLocal()

	f, err := back.Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(back, path, zap.NewNop())
	require.Error(t, err)
}

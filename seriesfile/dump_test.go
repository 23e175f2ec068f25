package seriesfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreseries/tsmstore/storage"
)

func TestDumpSegment_ReturnsInsertAndTombstoneRecords(t *testing.T) {
	dir := t.TempDir()
	back := storage.NewLocal()

	seg, err := createSegment(back, dir, 0)
	require.NoError(t, err)
	_, _, err = seg.append(flagInsert, 1, []byte("cpu"))
	require.NoError(t, err)
	_, _, err = seg.append(flagTombstone, 1, nil)
	require.NoError(t, err)
	require.NoError(t, seg.close())

	records, err := DumpSegment(back, filepath.Join(dir, segmentName(0)))
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.True(t, records[0].Insert)
	require.Equal(t, "cpu", string(records[0].Key))

	require.False(t, records[1].Insert)
	require.Equal(t, uint64(1), records[1].ID)
}

func TestDumpSegment_BadMagic_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	back := storage.NewLocal()

	path := filepath.Join(dir, "bad.sseg")
	f, err := back.Create(path)
	require.NoError(t, err)
	_, err = f.Write([]byte("nope!"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = DumpSegment(back, path)
	require.Error(t, err)
}

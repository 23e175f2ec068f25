package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTripTimestamps(t *testing.T, values []int64) []int64 {
	t.Helper()

	enc := NewTimestampEncoder(len(values))
	enc.WriteSlice(values)
	data := enc.Bytes()
	enc.Finish()

	dec := NewTimestampDecoder(data)

	var got []int64
	for dec.Next() {
		got = append(got, dec.Value())
	}

	require.NoError(t, dec.Err())

	return got
}

func TestTimestampEncoder_Empty(t *testing.T) {
	enc := NewTimestampEncoder(0)
	require.Empty(t, enc.Bytes())
}

func TestTimestampEncoder_ConstantDelta_UsesRLE(t *testing.T) {
	values := []int64{1000, 2000, 3000, 4000, 5000}

	enc := NewTimestampEncoder(len(values))
	enc.WriteSlice(values)
	data := enc.Bytes()

	require.Equal(t, TimeRLE, int(data[0]>>4))
	require.Equal(t, values, roundTripTimestamps(t, values))
}

func TestTimestampEncoder_VariableDelta_RoundTrips(t *testing.T) {
	values := []int64{100, 150, 300, 305, 1000000}
	require.Equal(t, values, roundTripTimestamps(t, values))
}

func TestTimestampEncoder_SingleValue(t *testing.T) {
	values := []int64{42}
	require.Equal(t, values, roundTripTimestamps(t, values))
}

func TestTimestampEncoder_NegativeAndLargeValues(t *testing.T) {
	values := []int64{-500, 0, 500, 1 << 40, 1<<40 + 7}
	require.Equal(t, values, roundTripTimestamps(t, values))
}

func TestTimestampCount_MatchesDecodedLength(t *testing.T) {
	tests := [][]int64{
		{1, 2, 3, 4},
		{10, 20, 30},
		{5},
		{-100, 0, 100, 250, 900},
	}

	for _, values := range tests {
		enc := NewTimestampEncoder(len(values))
		enc.WriteSlice(values)
		data := enc.Bytes()
		enc.Finish()

		n, err := TimestampCount(data)
		require.NoError(t, err)
		require.Equal(t, len(values), n)
	}
}

func TestTimestampEncoder_WriteAfterFinishPanics(t *testing.T) {
	enc := NewTimestampEncoder(1)
	enc.Write(1)
	enc.Finish()

	require.Panics(t, func() { enc.Write(2) })
}

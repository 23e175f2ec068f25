package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTripBools(t *testing.T, values []bool) []bool {
	t.Helper()

	enc := NewBoolEncoder(len(values))
	enc.WriteSlice(values)
	data := enc.Bytes()
	enc.Finish()

	dec := NewBoolDecoder(data)

	var got []bool
	for dec.Next() {
		got = append(got, dec.Value())
	}

	require.NoError(t, dec.Err())

	return got
}

func TestBoolEncoder_Empty(t *testing.T) {
	enc := NewBoolEncoder(0)
	require.Empty(t, enc.Bytes())
}

func TestBoolEncoder_RoundTrip(t *testing.T) {
	values := []bool{true, false, false, true, true, true, false, false, true}
	require.Equal(t, values, roundTripBools(t, values))
}

func TestBoolEncoder_SingleValue(t *testing.T) {
	require.Equal(t, []bool{true}, roundTripBools(t, []bool{true}))
	require.Equal(t, []bool{false}, roundTripBools(t, []bool{false}))
}

func TestBoolEncoder_NonByteAlignedCount(t *testing.T) {
	values := []bool{true, false, true}
	require.Equal(t, values, roundTripBools(t, values))
}

func TestBoolDecoder_EmptyInput(t *testing.T) {
	dec := NewBoolDecoder(nil)
	require.False(t, dec.Next())
	require.NoError(t, dec.Err())
}

func TestBoolDecoder_UnknownVariant_ReportsError(t *testing.T) {
	dec := NewBoolDecoder([]byte{0xF0, 0x01, 0x00})
	require.False(t, dec.Next())
	require.Error(t, dec.Err())
}

package block

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreseries/tsmstore/codec"
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

	b, err := Encode(TypeFloat, tsBytes, valBytes)
	require.NoError(t, err)

	return b
}

func TestEncode_Decode_RoundTrip(t *testing.T) {
	ts := []int64{100, 200, 300}
	vs := []float64{1.5, 2.5, 3.5}

	b := buildFloatBlock(t, ts, vs)

	typ, tsBytes, valBytes, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, TypeFloat, typ)

	tsDec := codec.NewTimestampDecoder(tsBytes)
	var gotTS []int64
	for tsDec.Next() {
		gotTS = append(gotTS, tsDec.Value())
	}
	require.NoError(t, tsDec.Err())
	require.Equal(t, ts, gotTS)

	valDec := codec.NewFloatDecoder(valBytes)
	var gotVal []float64
	for valDec.Next() {
		gotVal = append(gotVal, valDec.Value())
	}
	require.NoError(t, valDec.Err())
	require.Equal(t, vs, gotVal)
}

func TestDecodeTyped_MismatchedType_ReturnsError(t *testing.T) {
	b := buildFloatBlock(t, []int64{1}, []float64{1.0})

	_, _, err := DecodeTyped(b, TypeInteger)
	require.Error(t, err)
}

func TestDecodeTyped_MatchingType_Succeeds(t *testing.T) {
	b := buildFloatBlock(t, []int64{1, 2}, []float64{9.0, 10.0})

	tsBytes, valBytes, err := DecodeTyped(b, TypeFloat)
	require.NoError(t, err)
	require.NotEmpty(t, tsBytes)
	require.NotEmpty(t, valBytes)
}

func TestEncode_RejectsEmptyTimestampStream(t *testing.T) {
	_, err := Encode(TypeFloat, nil, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecode_TruncatedInput_ReturnsError(t *testing.T) {
	_, _, _, err := Decode([]byte{byte(TypeFloat)})
	require.Error(t, err)
}

func TestCount_ReturnsEntryCount(t *testing.T) {
	b := buildFloatBlock(t, []int64{10, 20, 30, 40}, []float64{1, 2, 3, 4})

	n, err := Count(b)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestType_String(t *testing.T) {
	require.Equal(t, "float", TypeFloat.String())
	require.Equal(t, "integer", TypeInteger.String())
	require.Equal(t, "bool", TypeBool.String())
	require.Equal(t, "bytes", TypeBytes.String())
	require.Equal(t, "unsigned", TypeUnsigned.String())
	require.Equal(t, "unknown", Type(99).String())
}

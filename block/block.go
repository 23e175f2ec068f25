// Package block implements the TSM block layer: a type tag plus two
// codec outputs (a timestamp stream and a value stream) packed into one
// byte slice.
package block

import (
	"encoding/binary"

	"github.com/coreseries/tsmstore/codec"
	"github.com/coreseries/tsmstore/tsmerrs"
)

// Type tags a block's value stream, and doubles as the TSM index
// entry's type byte.
type Type uint8

const (
	TypeFloat    Type = 0
	TypeInteger  Type = 1
	TypeBool     Type = 2
	TypeBytes    Type = 3
	TypeUnsigned Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeFloat:
		return "float"
	case TypeInteger:
		return "integer"
	case TypeBool:
		return "bool"
	case TypeBytes:
		return "bytes"
	case TypeUnsigned:
		return "unsigned"
	default:
		return "unknown"
	}
}

// Encode packs a type tag and the already-encoded timestamp/value
// streams into one block:
//
//	type(1B) | varint ts-len | ts bytes | value bytes
//
// Encode rejects an empty timestamp stream; the caller is responsible
// for never producing mismatched stream lengths (the codecs enforce
// this by construction since both streams are built from the same
// value count).
func Encode(t Type, tsBytes, valBytes []byte) ([]byte, error) {
	if len(tsBytes) == 0 {
		return nil, tsmerrs.ErrEmptyWrite
	}

	var vbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(vbuf[:], uint64(len(tsBytes)))

	out := make([]byte, 0, 1+n+len(tsBytes)+len(valBytes))
	out = append(out, byte(t))
	out = append(out, vbuf[:n]...)
	out = append(out, tsBytes...)
	out = append(out, valBytes...)

	return out, nil
}

// Decode splits a block into its type tag and the two codec payloads.
// The returned slices alias b and are valid as long as b is not
// mutated.
func Decode(b []byte) (t Type, tsBytes, valBytes []byte, err error) {
	if len(b) < 2 {
		return 0, nil, nil, tsmerrs.NewFormatError("block.Decode", tsmerrs.ErrTruncated)
	}

	t = Type(b[0])

	tsLen, n := binary.Uvarint(b[1:])
	if n <= 0 {
		return 0, nil, nil, tsmerrs.NewFormatError("block.Decode", tsmerrs.ErrTruncated)
	}

	rest := b[1+n:]
	if uint64(len(rest)) < tsLen {
		return 0, nil, nil, tsmerrs.NewFormatError("block.Decode", tsmerrs.ErrTruncated)
	}

	tsBytes = rest[:tsLen]
	valBytes = rest[tsLen:]

	return t, tsBytes, valBytes, nil
}

// DecodeTyped decodes a block and validates its type against want,
// reporting a mismatch.
func DecodeTyped(b []byte, want Type) (tsBytes, valBytes []byte, err error) {
	t, ts, val, err := Decode(b)
	if err != nil {
		return nil, nil, err
	}

	if t != want {
		return nil, nil, tsmerrs.NewFormatError("block.DecodeTyped", tsmerrs.ErrTypeMismatch)
	}

	return ts, val, nil
}

// Count returns the number of (timestamp, value) entries in block b, by
// delegating to the timestamp codec's count helper rather than decoding
// either stream in full.
func Count(b []byte) (int, error) {
	_, tsBytes, _, err := Decode(b)
	if err != nil {
		return 0, err
	}

	return codec.TimestampCount(tsBytes)
}

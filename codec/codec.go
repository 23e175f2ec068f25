// Package codec implements the per-type value codecs: an
// adaptive timestamp codec (RLE / simple8b-packed / raw), a zigzag+delta
// integer codec sharing the same three-variant shape, an unsigned codec
// that delegates to the integer codec, Gorilla XOR float compression,
// bit-packed booleans, and Snappy-framed (or optionally zstd/S2/LZ4
// framed) strings.
//
// Every encoder follows the same small lifecycle: Write/WriteSlice
// accumulate values, Bytes/Len/Size report the encoded form, Reset
// clears state for reuse, and Finish releases pooled resources — after
// Finish the encoder is single-use and a further Write or WriteSlice
// panics.
package codec

// Encoder is the write-side contract shared by every value codec.
type Encoder[T any] interface {
	// Write encodes a single value.
	Write(v T)
	// WriteSlice encodes a slice of values; equivalent to calling Write
	// in a loop but may be more efficient.
	WriteSlice(vs []T)
	// Bytes returns the encoded block. The returned slice is valid until
	// the next Write/WriteSlice/Reset/Finish call.
	Bytes() []byte
	// Len returns the number of values written since the last Reset.
	Len() int
	// Size returns len(Bytes()).
	Size() int
	// Reset clears encoder state but keeps underlying buffers for reuse.
	Reset()
	// Finish releases pooled resources. The encoder must not be used
	// afterwards.
	Finish()
}

// Decoder is the forward-only cursor contract: Next
// advances and reports whether a value is available, Value returns the
// value most recently made available by Next, and Err reports whether
// the last Next call detected corruption. Callers always call Next
// before Value, exactly once per value.
type Decoder[T any] interface {
	Next() bool
	Value() T
	Err() error
}

func log10Uint64(v uint64) uint8 {
	var n uint8
	for v >= 10 {
		v /= 10
		n++
	}

	return n
}

func pow10Uint64(n uint8) uint64 {
	v := uint64(1)
	for i := uint8(0); i < n; i++ {
		v *= 10
	}

	return v
}

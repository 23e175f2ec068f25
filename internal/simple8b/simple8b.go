// Package simple8b packs 1–240 unsigned integers, each no larger than 60
// bits, into 64-bit words. Sixteen fixed (count, bit-width) "selectors"
// trade off element count against per-element width; the encoder always
// prefers the selector packing the most values per word.
//
// Grounded on the original TSM engine's simple8b codec
// (original_source/.../encoding/simple8b_encoder.rs), which itself is a
// Go-to-Rust port of InfluxDB's tsdb/engine/tsm1/simple8b.go.
package simple8b

import "github.com/coreseries/tsmstore/tsmerrs"

// MaxValue is the largest integer this codec can pack (1<<60 - 1).
const MaxValue = (1 << 60) - 1

// selector describes one of the 16 packings available in a word's top 4
// bits: n values of bit-width bits each (240 and 120 use a 0-bit all-ones
// special case below).
type selector struct {
	n   int
	bit uint
}

var selectors = [16]selector{
	{240, 0}, {120, 0},
	{60, 1}, {30, 2}, {20, 3}, {15, 4}, {12, 5}, {10, 6},
	{8, 7}, {7, 8}, {6, 10}, {5, 12}, {4, 15}, {3, 20}, {2, 30}, {1, 60},
}

func canPack(src []uint64, n int, bit uint) bool {
	if len(src) < n {
		return false
	}

	if bit == 0 {
		// Selectors 0 and 1 are special: 0 stored bits, but only valid
		// when every packed value is exactly 1 (a run of ones).
		for i := 0; i < n; i++ {
			if src[i] != 1 {
				return false
			}
		}

		return true
	}

	max := uint64(1) << bit
	for i := 0; i < n; i++ {
		if src[i] >= max {
			return false
		}
	}

	return true
}

func pack(src []uint64, n int, bit uint) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v |= src[i] << (bit * uint(i))
	}

	return v
}

// Encode packs as many leading values from src into a single word as
// possible, trying selectors from the largest count down. It returns the
// packed word, the number of values consumed, and an error if the
// leading value exceeds MaxValue (no selector can hold it).
func Encode(src []uint64) (uint64, int, error) {
	for sel := 0; sel < 16; sel++ {
		s := selectors[sel]
		if canPack(src, s.n, s.bit) {
			if s.bit == 0 {
				return uint64(sel) << 60, s.n, nil
			}

			return uint64(sel)<<60 | pack(src, s.n, s.bit), s.n, nil
		}
	}

	if len(src) > 0 {
		return 0, 0, tsmerrs.NewFormatError("simple8b.Encode", tsmerrs.ErrUnknownVariant)
	}

	return 0, 0, nil
}

// Count returns the number of values packed into word without unpacking
// them, by reading the selector alone.
func Count(word uint64) (int, error) {
	sel := int(word >> 60)
	if sel >= 16 {
		return 0, tsmerrs.NewFormatError("simple8b.Count", tsmerrs.ErrUnknownVariant)
	}

	return selectors[sel].n, nil
}

// Unpack decodes word into dst, which must have length >= Count(word).
// It returns the number of values written.
func Unpack(word uint64, dst []uint64) (int, error) {
	sel := int(word >> 60)
	if sel >= 16 {
		return 0, tsmerrs.NewFormatError("simple8b.Unpack", tsmerrs.ErrUnknownVariant)
	}

	s := selectors[sel]
	if len(dst) < s.n {
		return 0, tsmerrs.NewFormatError("simple8b.Unpack", tsmerrs.ErrTruncated)
	}

	if s.bit == 0 {
		for i := 0; i < s.n; i++ {
			dst[i] = 1
		}

		return s.n, nil
	}

	mask := uint64(1)<<s.bit - 1
	for i := 0; i < s.n; i++ {
		dst[i] = (word >> (s.bit * uint(i))) & mask
	}

	return s.n, nil
}

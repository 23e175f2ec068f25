package codec

import (
	"encoding/binary"

	"github.com/coreseries/tsmstore/internal/pool"
	"github.com/coreseries/tsmstore/internal/simple8b"
	"github.com/coreseries/tsmstore/tsmerrs"
)

// Timestamp encoding variants, stored in the top 4 bits of the block's
// first byte. The bottom 4 bits hold log10 of the scaling divisor for
// variants 1 and 2.
const (
	TimeUncompressed = 0
	TimePackedSimple = 1
	TimeRLE          = 2
)

// maxScaleDivisor caps the scaling factor search at 10^12.
const maxScaleDivisor = uint64(1_000_000_000_000)

// TimestampEncoder encodes a batch of non-decreasing i64 nanosecond
// timestamps, choosing RLE, simple8b-packed, or raw encoding once the
// full batch is known — unlike a streaming codec, the variant choice
// needs to see every delta before it can commit, so values are buffered
// until Bytes/Finish rather than encoded incrementally.
type TimestampEncoder struct {
	values []int64
	cached []byte
}

var _ Encoder[int64] = (*TimestampEncoder)(nil)

// NewTimestampEncoder creates a timestamp encoder with capacity hint sz.
func NewTimestampEncoder(sz int) *TimestampEncoder {
	return &TimestampEncoder{values: make([]int64, 0, sz)}
}

// Write appends a single timestamp. Values must be written in
// non-decreasing order; the encoder does not enforce this itself, and
// neither does the block or TSM file layer (callers supply sorted input).
func (e *TimestampEncoder) Write(v int64) {
	if e.values == nil {
		panic("codec: TimestampEncoder used after Finish()")
	}

	e.values = append(e.values, v)
	e.cached = nil
}

// WriteSlice appends a slice of timestamps.
func (e *TimestampEncoder) WriteSlice(vs []int64) {
	if e.values == nil {
		panic("codec: TimestampEncoder used after Finish()")
	}

	e.values = append(e.values, vs...)
	e.cached = nil
}

func (e *TimestampEncoder) Len() int { return len(e.values) }

func (e *TimestampEncoder) Size() int { return len(e.Bytes()) }

// Bytes finalizes and returns the encoded block. The encoding is chosen
// adaptively:
//   - all deltas equal and count > 1: run-length encoded (variant 2)
//   - every unscaled delta fits in 60 bits: simple8b-packed (variant 1)
//   - otherwise: one raw 8-byte word per timestamp (variant 0)
func (e *TimestampEncoder) Bytes() []byte {
	if e.cached != nil {
		return e.cached
	}

	n := len(e.values)
	if n == 0 {
		e.cached = []byte{}
		return e.cached
	}

	if n == 1 {
		e.cached = e.encodePacked(maxScaleDivisor, nil)
		return e.cached
	}

	deltas := make([]uint64, n-1)
	var max uint64
	divisor := maxScaleDivisor
	rle := true

	for i := 1; i < n; i++ {
		d := uint64(e.values[i] - e.values[i-1])
		deltas[i-1] = d

		if d > max {
			max = d
		}

		for divisor > 1 && d%divisor != 0 {
			divisor /= 10
		}

		if d != deltas[0] {
			rle = false
		}
	}

	if rle {
		e.cached = e.encodeRLE(deltas[0], divisor)
		return e.cached
	}

	if max > simple8b.MaxValue {
		e.cached = e.encodeRaw()
		return e.cached
	}

	e.cached = e.encodePacked(divisor, deltas)

	return e.cached
}

func (e *TimestampEncoder) encodeRaw() []byte {
	buf := make([]byte, 1+len(e.values)*8)
	buf[0] = TimeUncompressed << 4

	for i, v := range e.values {
		binary.BigEndian.PutUint64(buf[1+i*8:], uint64(v))
	}

	return buf
}

func (e *TimestampEncoder) encodePacked(divisor uint64, deltas []uint64) []byte {
	buf := pool.GetBlockBuffer()
	defer pool.PutBlockBuffer(buf)

	buf.WriteByte(TimePackedSimple<<4 | log10Uint64(divisor))

	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(e.values[0]))
	buf.Write(tmp[:])

	scaled := deltas
	if divisor > 1 {
		scaled = make([]uint64, len(deltas))
		for i, d := range deltas {
			scaled[i] = d / divisor
		}
	}

	i := 0
	for i < len(scaled) {
		word, consumed, err := simple8b.Encode(scaled[i:])
		if err != nil {
			panic(err) // programmer error: caller promised values <= simple8b.MaxValue
		}

		binary.BigEndian.PutUint64(tmp[:], word)
		buf.Write(tmp[:])
		i += consumed
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())

	return out
}

func (e *TimestampEncoder) encodeRLE(delta, divisor uint64) []byte {
	buf := make([]byte, 0, 1+8+10+10)
	buf = append(buf, TimeRLE<<4|log10Uint64(divisor))

	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(e.values[0]))
	buf = append(buf, tmp[:]...)

	var vbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(vbuf[:], delta/divisor)
	buf = append(buf, vbuf[:n]...)

	n = binary.PutUvarint(vbuf[:], uint64(len(e.values)))
	buf = append(buf, vbuf[:n]...)

	return buf
}

// Reset clears all buffered timestamps.
func (e *TimestampEncoder) Reset() {
	e.values = e.values[:0]
	e.cached = nil
}

// Finish releases the encoder. It must not be used afterward.
func (e *TimestampEncoder) Finish() {
	e.values = nil
	e.cached = nil
}

// TimestampDecoder is a forward-only cursor over a timestamp block.
type TimestampDecoder struct {
	variant int
	div     uint64

	// raw
	raw    []byte
	rawPos int

	// rle
	rleFirst  int64
	rleDelta  int64
	rleRepeat uint64
	rleStep   int64

	// packed
	pkFirst   int64
	pkBytes   []byte
	pkBStep   int
	pkValues  [240]uint64
	pkVStep   int
	pkVLen    int

	cur int64
	err error
}

var _ Decoder[int64] = (*TimestampDecoder)(nil)

// NewTimestampDecoder creates a cursor over an encoded timestamp block.
func NewTimestampDecoder(data []byte) *TimestampDecoder {
	d := &TimestampDecoder{}
	if len(data) == 0 {
		d.variant = -1
		return d
	}

	d.variant = int(data[0] >> 4)
	d.div = pow10Uint64(data[0] & 0x0F)
	body := data[1:]

	switch d.variant {
	case TimeUncompressed:
		d.raw = body
	case TimePackedSimple:
		if len(body) < 8 {
			d.err = tsmerrs.NewFormatError("codec.TimestampDecoder", tsmerrs.ErrTruncated)
			return d
		}

		d.pkFirst = int64(binary.BigEndian.Uint64(body[:8]))
		d.pkBytes = body[8:]
	case TimeRLE:
		if len(body) < 8 {
			d.err = tsmerrs.NewFormatError("codec.TimestampDecoder", tsmerrs.ErrTruncated)
			return d
		}

		d.rleFirst = int64(binary.BigEndian.Uint64(body[:8]))

		delta, n := binary.Uvarint(body[8:])
		if n <= 0 {
			d.err = tsmerrs.NewFormatError("codec.TimestampDecoder", tsmerrs.ErrTruncated)
			return d
		}

		d.rleDelta = int64(delta * d.div)

		repeat, n2 := binary.Uvarint(body[8+n:])
		if n2 <= 0 {
			d.err = tsmerrs.NewFormatError("codec.TimestampDecoder", tsmerrs.ErrTruncated)
			return d
		}

		d.rleRepeat = repeat
		d.rleStep = -1
	default:
		d.err = tsmerrs.NewFormatError("codec.TimestampDecoder", tsmerrs.ErrUnknownVariant)
	}

	return d
}

// Next advances the cursor. It returns false once exhausted or once a
// corrupt block has been detected (check Err in that case).
func (d *TimestampDecoder) Next() bool {
	if d.err != nil || d.variant < 0 {
		return false
	}

	switch d.variant {
	case TimeUncompressed:
		if d.rawPos+8 > len(d.raw) {
			return false
		}

		d.cur = int64(binary.BigEndian.Uint64(d.raw[d.rawPos:]))
		d.rawPos += 8

		return true
	case TimeRLE:
		d.rleStep++
		if uint64(d.rleStep) >= d.rleRepeat {
			return false
		}

		if d.rleStep > 0 {
			d.rleFirst += d.rleDelta
		}

		d.cur = d.rleFirst

		return true
	case TimePackedSimple:
		return d.nextPacked()
	}

	return false
}

func (d *TimestampDecoder) nextPacked() bool {
	if d.pkBStep == 0 {
		d.pkBStep = 8
		d.cur = d.pkFirst

		return true
	}

	if d.pkVLen > 0 && d.pkVStep < d.pkVLen-1 {
		d.pkVStep++
		d.pkFirst += int64(d.pkValues[d.pkVStep] * d.div)
		d.cur = d.pkFirst

		return true
	}

	pos := d.pkBStep - 8
	if pos == len(d.pkBytes) {
		return false
	}

	if pos+8 > len(d.pkBytes) {
		d.err = tsmerrs.NewFormatError("codec.TimestampDecoder", tsmerrs.ErrTruncated)
		return false
	}

	word := binary.BigEndian.Uint64(d.pkBytes[pos : pos+8])

	n, err := simple8b.Unpack(word, d.pkValues[:])
	if err != nil {
		d.err = err
		return false
	}

	if n == 0 {
		d.err = tsmerrs.NewFormatError("codec.TimestampDecoder", tsmerrs.ErrTruncated)
		return false
	}

	d.pkVLen = n
	d.pkVStep = 0
	d.pkFirst += int64(d.pkValues[0] * d.div)
	d.pkBStep += 8
	d.cur = d.pkFirst

	return true
}

// Value returns the timestamp most recently made available by Next.
func (d *TimestampDecoder) Value() int64 { return d.cur }

// Err reports corruption detected by the last Next call.
func (d *TimestampDecoder) Err() error { return d.err }

// TimestampCount reports how many timestamps are encoded in data without
// decoding any of them, by reading the RLE repeat field or running
// simple8b words through Count instead of Unpack. Used by the TSM block
// layer's block_count.
func TimestampCount(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	variant := int(data[0] >> 4)
	body := data[1:]

	switch variant {
	case TimeUncompressed:
		if len(body)%8 != 0 {
			return 0, tsmerrs.NewFormatError("codec.TimestampCount", tsmerrs.ErrTruncated)
		}

		return len(body) / 8, nil
	case TimeRLE:
		if len(body) < 8 {
			return 0, tsmerrs.NewFormatError("codec.TimestampCount", tsmerrs.ErrTruncated)
		}

		_, n := binary.Uvarint(body[8:])
		if n <= 0 {
			return 0, tsmerrs.NewFormatError("codec.TimestampCount", tsmerrs.ErrTruncated)
		}

		repeat, n2 := binary.Uvarint(body[8+n:])
		if n2 <= 0 {
			return 0, tsmerrs.NewFormatError("codec.TimestampCount", tsmerrs.ErrTruncated)
		}

		return int(repeat), nil
	case TimePackedSimple:
		if len(body) < 8 {
			return 0, tsmerrs.NewFormatError("codec.TimestampCount", tsmerrs.ErrTruncated)
		}

		words := body[8:]
		if len(words)%8 != 0 {
			return 0, tsmerrs.NewFormatError("codec.TimestampCount", tsmerrs.ErrTruncated)
		}

		count := 1 // the unpacked first value

		for i := 0; i < len(words); i += 8 {
			word := binary.BigEndian.Uint64(words[i : i+8])

			n, err := simple8b.Count(word)
			if err != nil {
				return 0, err
			}

			count += n
		}

		return count, nil
	default:
		return 0, tsmerrs.NewFormatError("codec.TimestampCount", tsmerrs.ErrUnknownVariant)
	}
}

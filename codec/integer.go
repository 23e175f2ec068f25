package codec

import (
	"encoding/binary"

	"github.com/coreseries/tsmstore/internal/simple8b"
	"github.com/coreseries/tsmstore/tsmerrs"
)

// Integer encoding variants. Unlike the timestamp codec there is no
// scaling divisor: the low 4 bits of the header byte are currently
// unused and reserved (per the original engine's comment: "room for 16
// total encoding slots").
const (
	IntUncompressed = 0
	IntPackedSimple = 1
	IntRLE          = 2
)

// IntegerEncoder encodes i64 values by delta-encoding them and then
// zig-zag encoding each delta; the values themselves are not zig-zag
// encoded before the deltas are taken.
type IntegerEncoder struct {
	values []int64
}

var _ Encoder[int64] = (*IntegerEncoder)(nil)

// NewIntegerEncoder creates an integer encoder with capacity hint sz.
func NewIntegerEncoder(sz int) *IntegerEncoder {
	return &IntegerEncoder{values: make([]int64, 0, sz)}
}

func (e *IntegerEncoder) Write(v int64) {
	if e.values == nil {
		panic("codec: IntegerEncoder used after Finish()")
	}

	e.values = append(e.values, v)
}

func (e *IntegerEncoder) WriteSlice(vs []int64) {
	if e.values == nil {
		panic("codec: IntegerEncoder used after Finish()")
	}

	e.values = append(e.values, vs...)
}

func (e *IntegerEncoder) Len() int { return len(e.values) }

func (e *IntegerEncoder) Size() int { return len(e.Bytes()) }

func zigZagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigZagDecode(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}

// Bytes finalizes and returns the encoded block.
func (e *IntegerEncoder) Bytes() []byte {
	n := len(e.values)
	if n == 0 {
		return []byte{}
	}

	zz := make([]uint64, n)
	var prev int64
	rle := true

	for i, v := range e.values {
		delta := v - prev
		prev = v
		zz[i] = zigZagEncode(delta)

		if i > 1 && zz[i] != zz[i-1] {
			rle = false
		}
	}

	if rle && n > 2 {
		return e.encodeRLE(zz)
	}

	for _, v := range zz {
		if v > simple8b.MaxValue {
			return e.encodeRaw()
		}
	}

	return e.encodePacked(zz)
}

func (e *IntegerEncoder) encodeRaw() []byte {
	buf := make([]byte, 1+len(e.values)*8)
	buf[0] = IntUncompressed << 4

	for i, v := range e.values {
		binary.BigEndian.PutUint64(buf[1+i*8:], uint64(v))
	}

	return buf
}

func (e *IntegerEncoder) encodePacked(zz []uint64) []byte {
	buf := make([]byte, 0, 1+8+len(zz))
	buf = append(buf, IntPackedSimple<<4)

	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], zz[0])
	buf = append(buf, tmp[:]...)

	i := 1
	for i < len(zz) {
		word, consumed, err := simple8b.Encode(zz[i:])
		if err != nil {
			panic(err)
		}

		binary.BigEndian.PutUint64(tmp[:], word)
		buf = append(buf, tmp[:]...)
		i += consumed
	}

	return buf
}

func (e *IntegerEncoder) encodeRLE(zz []uint64) []byte {
	buf := make([]byte, 0, 1+8+10+10)
	buf = append(buf, IntRLE<<4)

	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], zz[0])
	buf = append(buf, tmp[:]...)

	var vbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(vbuf[:], zz[1])
	buf = append(buf, vbuf[:n]...)

	n = binary.PutUvarint(vbuf[:], uint64(len(zz)))
	buf = append(buf, vbuf[:n]...)

	return buf
}

func (e *IntegerEncoder) Reset() {
	e.values = e.values[:0]
}

func (e *IntegerEncoder) Finish() {
	e.values = nil
}

// IntegerDecoder is a forward-only cursor over an encoded integer block.
type IntegerDecoder struct {
	variant int

	raw    []byte
	rawPos int

	rleFirst  uint64
	rleDelta  uint64
	rleRepeat uint64
	rleStep   int64
	rlePrev   int64

	pkFirst  uint64
	pkPrev   int64
	pkBytes  []byte
	pkBStep  int
	pkValues [240]uint64
	pkVStep  int
	pkVLen   int

	cur int64
	err error
}

var _ Decoder[int64] = (*IntegerDecoder)(nil)

// NewIntegerDecoder creates a cursor over an encoded integer block.
func NewIntegerDecoder(data []byte) *IntegerDecoder {
	d := &IntegerDecoder{}
	if len(data) == 0 {
		d.variant = -1
		return d
	}

	d.variant = int(data[0] >> 4)
	body := data[1:]

	switch d.variant {
	case IntUncompressed:
		d.raw = body
	case IntPackedSimple:
		if len(body) < 8 {
			d.err = tsmerrs.NewFormatError("codec.IntegerDecoder", tsmerrs.ErrTruncated)
			return d
		}

		d.pkFirst = binary.BigEndian.Uint64(body[:8])
		d.pkBytes = body[8:]
	case IntRLE:
		if len(body) < 8 {
			d.err = tsmerrs.NewFormatError("codec.IntegerDecoder", tsmerrs.ErrTruncated)
			return d
		}

		d.rleFirst = binary.BigEndian.Uint64(body[:8])

		delta, n := binary.Uvarint(body[8:])
		if n <= 0 {
			d.err = tsmerrs.NewFormatError("codec.IntegerDecoder", tsmerrs.ErrTruncated)
			return d
		}

		d.rleDelta = delta

		repeat, n2 := binary.Uvarint(body[8+n:])
		if n2 <= 0 {
			d.err = tsmerrs.NewFormatError("codec.IntegerDecoder", tsmerrs.ErrTruncated)
			return d
		}

		d.rleRepeat = repeat
		d.rleStep = -1
	default:
		d.err = tsmerrs.NewFormatError("codec.IntegerDecoder", tsmerrs.ErrUnknownVariant)
	}

	return d
}

func (d *IntegerDecoder) Next() bool {
	if d.err != nil || d.variant < 0 {
		return false
	}

	switch d.variant {
	case IntUncompressed:
		if d.rawPos+8 > len(d.raw) {
			return false
		}

		d.cur = int64(binary.BigEndian.Uint64(d.raw[d.rawPos:]))
		d.rawPos += 8

		return true
	case IntRLE:
		d.rleStep++
		if uint64(d.rleStep) >= d.rleRepeat {
			return false
		}

		if d.rleStep == 0 {
			d.rlePrev = zigZagDecode(d.rleFirst)
		} else {
			d.rlePrev += zigZagDecode(d.rleDelta)
		}

		d.cur = d.rlePrev

		return true
	case IntPackedSimple:
		return d.nextPacked()
	}

	return false
}

func (d *IntegerDecoder) nextPacked() bool {
	if d.pkBStep == 0 {
		d.pkBStep = 8
		d.pkPrev = zigZagDecode(d.pkFirst)
		d.cur = d.pkPrev

		return true
	}

	if d.pkVLen > 0 && d.pkVStep < d.pkVLen-1 {
		d.pkVStep++
		d.pkPrev += zigZagDecode(d.pkValues[d.pkVStep])
		d.cur = d.pkPrev

		return true
	}

	pos := d.pkBStep - 8
	if pos == len(d.pkBytes) {
		return false
	}

	if pos+8 > len(d.pkBytes) {
		d.err = tsmerrs.NewFormatError("codec.IntegerDecoder", tsmerrs.ErrTruncated)
		return false
	}

	word := binary.BigEndian.Uint64(d.pkBytes[pos : pos+8])

	n, err := simple8b.Unpack(word, d.pkValues[:])
	if err != nil {
		d.err = err
		return false
	}

	if n == 0 {
		d.err = tsmerrs.NewFormatError("codec.IntegerDecoder", tsmerrs.ErrTruncated)
		return false
	}

	d.pkVLen = n
	d.pkVStep = 0
	d.pkPrev += zigZagDecode(d.pkValues[0])
	d.pkBStep += 8
	d.cur = d.pkPrev

	return true
}

func (d *IntegerDecoder) Value() int64 { return d.cur }
func (d *IntegerDecoder) Err() error   { return d.err }

// UnsignedEncoder reinterprets u64 values as i64 and delegates to the
// integer codec.
type UnsignedEncoder struct {
	inner *IntegerEncoder
}

var _ Encoder[uint64] = (*UnsignedEncoder)(nil)

// NewUnsignedEncoder creates an unsigned encoder with capacity hint sz.
func NewUnsignedEncoder(sz int) *UnsignedEncoder {
	return &UnsignedEncoder{inner: NewIntegerEncoder(sz)}
}

func (e *UnsignedEncoder) Write(v uint64) { e.inner.Write(int64(v)) }
func (e *UnsignedEncoder) WriteSlice(vs []uint64) {
	for _, v := range vs {
		e.inner.Write(int64(v))
	}
}
func (e *UnsignedEncoder) Bytes() []byte { return e.inner.Bytes() }
func (e *UnsignedEncoder) Len() int      { return e.inner.Len() }
func (e *UnsignedEncoder) Size() int     { return e.inner.Size() }
func (e *UnsignedEncoder) Reset()        { e.inner.Reset() }
func (e *UnsignedEncoder) Finish()       { e.inner.Finish() }

// UnsignedDecoder reinterprets the integer codec's decoded bits as u64.
type UnsignedDecoder struct {
	inner *IntegerDecoder
}

var _ Decoder[uint64] = (*UnsignedDecoder)(nil)

// NewUnsignedDecoder creates a cursor over an encoded unsigned block.
func NewUnsignedDecoder(data []byte) *UnsignedDecoder {
	return &UnsignedDecoder{inner: NewIntegerDecoder(data)}
}

func (d *UnsignedDecoder) Next() bool    { return d.inner.Next() }
func (d *UnsignedDecoder) Value() uint64 { return uint64(d.inner.Value()) }
func (d *UnsignedDecoder) Err() error    { return d.inner.Err() }

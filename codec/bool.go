package codec

import (
	"encoding/binary"

	"github.com/coreseries/tsmstore/tsmerrs"
)

// boolHeader is the single boolean variant byte.
const boolHeader = 0x10

// BoolEncoder bit-packs booleans, most-significant-bit first, per byte.
type BoolEncoder struct {
	values []bool
}

var _ Encoder[bool] = (*BoolEncoder)(nil)

// NewBoolEncoder creates a boolean encoder with capacity hint sz.
func NewBoolEncoder(sz int) *BoolEncoder {
	return &BoolEncoder{values: make([]bool, 0, sz)}
}

func (e *BoolEncoder) Write(v bool) {
	if e.values == nil {
		panic("codec: BoolEncoder used after Finish()")
	}

	e.values = append(e.values, v)
}

func (e *BoolEncoder) WriteSlice(vs []bool) {
	if e.values == nil {
		panic("codec: BoolEncoder used after Finish()")
	}

	e.values = append(e.values, vs...)
}

func (e *BoolEncoder) Len() int { return len(e.values) }

func (e *BoolEncoder) Size() int { return len(e.Bytes()) }

// Bytes finalizes and returns the encoded block: header, varint count,
// then ceil(count/8) packed bytes.
func (e *BoolEncoder) Bytes() []byte {
	n := len(e.values)
	if n == 0 {
		return []byte{}
	}

	var vbuf [binary.MaxVarintLen64]byte
	vn := binary.PutUvarint(vbuf[:], uint64(n))

	packedLen := (n + 7) / 8
	buf := make([]byte, 1+vn+packedLen)
	buf[0] = boolHeader
	copy(buf[1:], vbuf[:vn])

	packed := buf[1+vn:]
	for i, v := range e.values {
		if v {
			packed[i/8] |= 1 << uint(7-i%8)
		}
	}

	return buf
}

func (e *BoolEncoder) Reset() {
	e.values = e.values[:0]
}

func (e *BoolEncoder) Finish() {
	e.values = nil
}

// BoolDecoder is a forward-only cursor over a bit-packed boolean block.
type BoolDecoder struct {
	packed []byte
	count  int
	step   int
	cur    bool
	err    error
}

var _ Decoder[bool] = (*BoolDecoder)(nil)

// NewBoolDecoder creates a cursor over an encoded boolean block.
func NewBoolDecoder(data []byte) *BoolDecoder {
	d := &BoolDecoder{step: -1}
	if len(data) == 0 {
		d.count = -1
		return d
	}

	if data[0]>>4 != boolHeader>>4 {
		d.err = tsmerrs.NewFormatError("codec.BoolDecoder", tsmerrs.ErrUnknownVariant)
		return d
	}

	count, n := binary.Uvarint(data[1:])
	if n <= 0 {
		d.err = tsmerrs.NewFormatError("codec.BoolDecoder", tsmerrs.ErrTruncated)
		return d
	}

	want := (int(count) + 7) / 8
	packed := data[1+n:]
	if len(packed) < want {
		d.err = tsmerrs.NewFormatError("codec.BoolDecoder", tsmerrs.ErrTruncated)
		return d
	}

	d.packed = packed
	d.count = int(count)

	return d
}

func (d *BoolDecoder) Next() bool {
	if d.err != nil || d.count < 0 {
		return false
	}

	d.step++
	if d.step >= d.count {
		return false
	}

	b := d.packed[d.step/8]
	d.cur = (b>>uint(7-d.step%8))&1 == 1

	return true
}

func (d *BoolDecoder) Value() bool { return d.cur }
func (d *BoolDecoder) Err() error  { return d.err }

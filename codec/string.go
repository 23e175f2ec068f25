package codec

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/coreseries/tsmstore/tsmerrs"
)

// Compression selects the block-compression backend used by the string
// codec. Variant 1 (Snappy) is the mandated default; the others
// are an additive expansion reusing the same (varint length, bytes)
// payload shape with a different compressor underneath.
type Compression uint8

const (
	CompressionSnappy Compression = 1
	CompressionZstd   Compression = 2
	CompressionS2     Compression = 3
	CompressionLZ4    Compression = 4
)

// StringOption configures a StringEncoder.
type StringOption func(*StringEncoder)

// WithStringCompression selects an alternate compression backend for the
// string codec's payload. The default is CompressionSnappy.
func WithStringCompression(c Compression) StringOption {
	return func(e *StringEncoder) {
		e.compression = c
	}
}

// StringEncoder encodes a sequence of byte strings as a length-prefixed
// concatenation, then compresses the whole payload with the selected
// backend (Snappy by default).
type StringEncoder struct {
	values      [][]byte
	compression Compression
}

var _ Encoder[[]byte] = (*StringEncoder)(nil)

// NewStringEncoder creates a string encoder with capacity hint sz and
// the given options applied.
func NewStringEncoder(sz int, opts ...StringOption) *StringEncoder {
	e := &StringEncoder{
		values:      make([][]byte, 0, sz),
		compression: CompressionSnappy,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *StringEncoder) Write(v []byte) {
	if e.values == nil {
		panic("codec: StringEncoder used after Finish()")
	}

	e.values = append(e.values, v)
}

func (e *StringEncoder) WriteSlice(vs [][]byte) {
	if e.values == nil {
		panic("codec: StringEncoder used after Finish()")
	}

	e.values = append(e.values, vs...)
}

func (e *StringEncoder) Len() int { return len(e.values) }

func (e *StringEncoder) Size() int { return len(e.Bytes()) }

// Bytes finalizes and returns the encoded block.
func (e *StringEncoder) Bytes() []byte {
	n := len(e.values)
	if n == 0 {
		return []byte{}
	}

	var raw bytes.Buffer

	var vbuf [binary.MaxVarintLen64]byte
	for _, v := range e.values {
		vn := binary.PutUvarint(vbuf[:], uint64(len(v)))
		raw.Write(vbuf[:vn])
		raw.Write(v)
	}

	compressed := compressPayload(e.compression, raw.Bytes())

	out := make([]byte, 1+len(compressed))
	out[0] = byte(e.compression) << 4
	copy(out[1:], compressed)

	return out
}

func compressPayload(c Compression, raw []byte) []byte {
	switch c {
	case CompressionZstd:
		enc, _ := zstd.NewWriter(nil)
		defer enc.Close()

		return enc.EncodeAll(raw, nil)
	case CompressionS2:
		return s2.Encode(nil, raw)
	case CompressionLZ4:
		var buf bytes.Buffer

		w := lz4.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			panic(err)
		}

		if err := w.Close(); err != nil {
			panic(err)
		}

		return buf.Bytes()
	default:
		return snappy.Encode(nil, raw)
	}
}

func decompressPayload(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()

		return dec.DecodeAll(data, nil)
	case CompressionS2:
		return s2.Decode(nil, data)
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(data))

		out, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}

		return out, nil
	case CompressionSnappy:
		return snappy.Decode(nil, data)
	default:
		return nil, tsmerrs.NewFormatError("codec.StringDecoder", tsmerrs.ErrUnknownVariant)
	}
}

func (e *StringEncoder) Reset() {
	e.values = e.values[:0]
}

func (e *StringEncoder) Finish() {
	e.values = nil
}

// StringDecoder is a forward-only cursor over a compressed string block.
type StringDecoder struct {
	raw []byte
	pos int
	cur []byte
	err error
}

var _ Decoder[[]byte] = (*StringDecoder)(nil)

// NewStringDecoder creates a cursor over an encoded string block.
func NewStringDecoder(data []byte) *StringDecoder {
	d := &StringDecoder{}
	if len(data) == 0 {
		d.pos = -1
		return d
	}

	compression := Compression(data[0] >> 4)

	raw, err := decompressPayload(compression, data[1:])
	if err != nil {
		d.err = tsmerrs.NewFormatError("codec.StringDecoder", tsmerrs.ErrTruncated)
		d.pos = -1

		return d
	}

	d.raw = raw

	return d
}

func (d *StringDecoder) Next() bool {
	if d.err != nil || d.pos < 0 {
		return false
	}

	if d.pos >= len(d.raw) {
		return false
	}

	length, n := binary.Uvarint(d.raw[d.pos:])
	if n <= 0 {
		d.err = tsmerrs.NewFormatError("codec.StringDecoder", tsmerrs.ErrTruncated)
		return false
	}

	d.pos += n

	end := d.pos + int(length)
	if end > len(d.raw) {
		d.err = tsmerrs.NewFormatError("codec.StringDecoder", tsmerrs.ErrTruncated)
		return false
	}

	d.cur = d.raw[d.pos:end]
	d.pos = end

	return true
}

func (d *StringDecoder) Value() []byte { return d.cur }
func (d *StringDecoder) Err() error    { return d.err }

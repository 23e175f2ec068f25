package codec

import (
	"math"
	"math/bits"

	"github.com/coreseries/tsmstore/tsmerrs"
)

// floatHeader is the single float variant byte.
const floatHeader = 0x10

// floatTerminator is the reserved NaN bit pattern that closes every
// encoded float stream. Because it is reserved, it can never collide
// with a real value written by a caller.
const floatTerminator = uint64(0x7FF8000000000001)

// FloatEncoder compresses float64 values with Gorilla XOR compression.
// The stream is self-terminating: it ends with the reserved NaN bit
// pattern encoded like any other value, so a decoder with no prior
// knowledge of the value count can still find the end.
type FloatEncoder struct {
	bw        bitWriter
	prevBits  uint64
	prevLead  int
	prevTrail int
	haveBlock bool
	count     int
	started   bool
	done      bool
}

var _ Encoder[float64] = (*FloatEncoder)(nil)

// NewFloatEncoder creates a float encoder with capacity hint sz.
func NewFloatEncoder(sz int) *FloatEncoder {
	return &FloatEncoder{bw: newBitWriter(sz)}
}

func (e *FloatEncoder) Write(v float64) {
	if e.done {
		panic("codec: FloatEncoder used after Finish()")
	}

	e.writeBits(math.Float64bits(v))
	e.count++
}

func (e *FloatEncoder) WriteSlice(vs []float64) {
	for _, v := range vs {
		e.Write(v)
	}
}

func (e *FloatEncoder) writeBits(valBits uint64) {
	if !e.started {
		e.started = true
		e.prevBits = valBits
		e.bw.writeBits(valBits, 64)

		return
	}

	xor := valBits ^ e.prevBits
	e.prevBits = valBits

	if xor == 0 {
		e.bw.writeBit(0)
		return
	}

	e.bw.writeBit(1)

	leading := bits.LeadingZeros64(xor)
	trailing := bits.TrailingZeros64(xor)
	if leading > 31 {
		leading = 31
	}

	blockSize := 64 - leading - trailing

	if e.haveBlock && leading >= e.prevLead && trailing >= e.prevTrail {
		reuseSize := 64 - e.prevLead - e.prevTrail
		e.bw.writeBit(0)
		e.bw.writeBits(xor>>e.prevTrail, reuseSize)

		return
	}

	e.bw.writeBit(1)
	e.bw.writeBits(uint64(leading), 5)
	e.bw.writeBits(uint64(blockSize-1), 6)
	e.bw.writeBits(xor>>trailing, blockSize)

	e.prevLead = leading
	e.prevTrail = trailing
	e.haveBlock = true
}

func (e *FloatEncoder) Len() int { return e.count }

func (e *FloatEncoder) Size() int { return len(e.Bytes()) }

// Bytes finalizes and returns the encoded block, appending the
// terminator sentinel so the decoder can find the end without an
// external count.
func (e *FloatEncoder) Bytes() []byte {
	if e.count == 0 {
		return []byte{}
	}

	if !e.done {
		e.writeBits(floatTerminator)
		e.done = true
	}

	out := make([]byte, 1+len(e.bw.bytes()))
	out[0] = floatHeader
	copy(out[1:], e.bw.bytes())

	return out
}

// Reset clears all buffered values.
func (e *FloatEncoder) Reset() {
	e.bw = newBitWriter(0)
	e.prevBits = 0
	e.prevLead = 0
	e.prevTrail = 0
	e.haveBlock = false
	e.count = 0
	e.started = false
	e.done = false
}

// Finish releases the encoder. It must not be used afterward.
func (e *FloatEncoder) Finish() {
	e.done = true
}

// FloatDecoder is a forward-only cursor over a Gorilla-encoded float
// block. It stops at the terminator sentinel rather than an external
// count.
type FloatDecoder struct {
	br        *bitReader
	prevBits  uint64
	prevLead  int
	prevTrail int
	haveBlock bool
	started   bool
	done      bool
	cur       float64
	err       error
}

var _ Decoder[float64] = (*FloatDecoder)(nil)

// NewFloatDecoder creates a cursor over an encoded float block.
func NewFloatDecoder(data []byte) *FloatDecoder {
	d := &FloatDecoder{}
	if len(data) == 0 {
		d.done = true
		return d
	}

	if data[0]>>4 != floatHeader>>4 {
		d.err = tsmerrs.NewFormatError("codec.FloatDecoder", tsmerrs.ErrUnknownVariant)
		d.done = true

		return d
	}

	d.br = newBitReader(data[1:])

	return d
}

func (d *FloatDecoder) Next() bool {
	if d.done || d.err != nil {
		return false
	}

	if !d.started {
		bits64, ok := d.br.readBits(64)
		if !ok {
			d.done = true
			return false
		}

		d.started = true
		d.prevBits = bits64

		if bits64 == floatTerminator {
			d.done = true
			return false
		}

		d.cur = math.Float64frombits(bits64)

		return true
	}

	control, ok := d.br.readBit()
	if !ok {
		d.err = tsmerrs.NewFormatError("codec.FloatDecoder", tsmerrs.ErrTruncated)
		return false
	}

	if control == 0 {
		d.cur = math.Float64frombits(d.prevBits)
		return true
	}

	reuse, ok := d.br.readBit()
	if !ok {
		d.err = tsmerrs.NewFormatError("codec.FloatDecoder", tsmerrs.ErrTruncated)
		return false
	}

	var leading, blockSize int

	if reuse == 0 {
		if !d.haveBlock {
			d.err = tsmerrs.NewFormatError("codec.FloatDecoder", tsmerrs.ErrTruncated)
			return false
		}

		leading = d.prevLead
		blockSize = 64 - d.prevLead - d.prevTrail
	} else {
		l, ok := d.br.readBits(5)
		if !ok {
			d.err = tsmerrs.NewFormatError("codec.FloatDecoder", tsmerrs.ErrTruncated)
			return false
		}

		sz, ok := d.br.readBits(6)
		if !ok {
			d.err = tsmerrs.NewFormatError("codec.FloatDecoder", tsmerrs.ErrTruncated)
			return false
		}

		leading = int(l)
		blockSize = int(sz) + 1
		d.prevLead = leading
		d.prevTrail = 64 - leading - blockSize
		d.haveBlock = true
	}

	trailing := 64 - leading - blockSize

	meaningful, ok := d.br.readBits(blockSize)
	if !ok {
		d.err = tsmerrs.NewFormatError("codec.FloatDecoder", tsmerrs.ErrTruncated)
		return false
	}

	valBits := d.prevBits ^ (meaningful << uint(trailing))
	d.prevBits = valBits

	if valBits == floatTerminator {
		d.done = true
		return false
	}

	d.cur = math.Float64frombits(valBits)

	return true
}

func (d *FloatDecoder) Value() float64 { return d.cur }
func (d *FloatDecoder) Err() error     { return d.err }

// bitWriter accumulates bits MSB-first into a growable byte slice.
type bitWriter struct {
	buf      []byte
	bitBuf   uint64
	bitCount int
}

func newBitWriter(sizeHint int) bitWriter {
	return bitWriter{buf: make([]byte, 0, sizeHint)}
}

func (w *bitWriter) writeBit(b uint64) {
	w.writeBits(b, 1)
}

func (w *bitWriter) writeBits(v uint64, n int) {
	if n == 0 {
		return
	}

	if n < 64 {
		v &= (1 << uint(n)) - 1
	}

	available := 64 - w.bitCount
	if n <= available {
		w.bitBuf = (w.bitBuf << uint(n)) | v
		w.bitCount += n

		if w.bitCount == 64 {
			w.flush()
		}

		return
	}

	high := n - available
	w.bitBuf = (w.bitBuf << uint(available)) | (v >> uint(high))
	w.bitCount = 64
	w.flush()

	w.bitBuf = v & ((1 << uint(high)) - 1)
	w.bitCount = high
}

func (w *bitWriter) flush() {
	if w.bitCount == 0 {
		return
	}

	nbytes := (w.bitCount + 7) / 8
	aligned := w.bitBuf << uint(64-w.bitCount)

	for i := 0; i < nbytes; i++ {
		w.buf = append(w.buf, byte(aligned>>uint(56-i*8)))
	}

	w.bitBuf = 0
	w.bitCount = 0
}

func (w *bitWriter) bytes() []byte {
	w.flush()
	return w.buf
}

// bitReader reads bits MSB-first from a byte slice.
type bitReader struct {
	data     []byte
	pos      int
	bitBuf   uint64
	bitCount int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) fill() bool {
	if r.pos >= len(r.data) {
		return false
	}

	avail := len(r.data) - r.pos
	n := 8
	if n > avail {
		n = avail
	}

	var buf uint64
	for i := 0; i < n; i++ {
		buf = (buf << 8) | uint64(r.data[r.pos])
		r.pos++
	}

	buf <<= uint((8 - n) * 8)
	r.bitBuf = buf
	r.bitCount = n * 8

	return true
}

func (r *bitReader) readBit() (uint64, bool) {
	if r.bitCount == 0 && !r.fill() {
		return 0, false
	}

	bit := r.bitBuf >> 63
	r.bitBuf <<= 1
	r.bitCount--

	return bit, true
}

func (r *bitReader) readBits(n int) (uint64, bool) {
	if n == 0 {
		return 0, true
	}

	if n <= r.bitCount {
		shift := 64 - n
		res := r.bitBuf >> uint(shift)
		r.bitBuf <<= uint(n)
		r.bitCount -= n

		return res, true
	}

	var result uint64

	for n > 0 {
		if r.bitCount == 0 && !r.fill() {
			return 0, false
		}

		take := n
		if take > r.bitCount {
			take = r.bitCount
		}

		shift := 64 - take
		piece := r.bitBuf >> uint(shift)
		result = (result << uint(take)) | piece
		r.bitBuf <<= uint(take)
		r.bitCount -= take
		n -= take
	}

	return result, true
}

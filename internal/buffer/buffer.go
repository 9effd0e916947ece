// Package buffer implements the producer/consumer byte buffers used by the
// wire codec. A producer buffer accumulates bytes (or, in non-contiguous
// mode, references to already-allocated segments) up to a configured
// capacity; a consumer buffer is a read cursor over a single contiguous
// slice. The read methods do not read across the segments of a
// non-contiguous buffer.
package buffer

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrWouldNotFit is returned by a producer-side write that would exceed the
// buffer's capacity. The caller is expected to revert to its last mark,
// flush, and retry (possibly in fragment mode).
var ErrWouldNotFit = errors.New("buffer: write would not fit")

// Buffer is a producer/consumer byte buffer.
//
// In contiguous mode (the default) it behaves like a capacity-bounded
// growable []byte. In non-contiguous mode it is a chain of slices: appended
// segments are referenced, not copied, which avoids duplicating large
// payloads (e.g. a buffer handed back by a shared-memory provider).
type Buffer struct {
	contiguous bool
	cap        int // 0 means unbounded (used for scratch/fragmentation buffers)

	segs   [][]byte // non-contiguous mode
	buf    []byte   // contiguous mode
	length int      // total logical length across all segments

	mark      int // contiguous mode: byte offset
	markSegs  int // non-contiguous mode: segment count
	markTotal int // non-contiguous mode: total length at mark

	off int // consumer read cursor, contiguous mode only
}

// NewContiguous returns a producer buffer backed by a single growable slice
// bounded by capacity (0 means unbounded, used for scratch encode buffers).
func NewContiguous(capacity int) *Buffer {
	return &Buffer{contiguous: true, cap: capacity}
}

// NewNonContiguous returns a producer buffer that chains appended segments
// rather than copying them.
func NewNonContiguous(capacity int) *Buffer {
	return &Buffer{contiguous: false, cap: capacity}
}

// NewConsumer returns a consumer buffer reading a single already-decoded slice.
func NewConsumer(b []byte) *Buffer {
	return &Buffer{contiguous: true, buf: b}
}

// Len returns the total number of logical bytes written so far.
func (b *Buffer) Len() int {
	return b.length
}

// Remaining reports unread bytes left in a consumer buffer.
func (b *Buffer) Remaining() int {
	if b.contiguous {
		return len(b.buf) - b.off
	}
	n := 0
	for _, s := range b.segs {
		n += len(s)
	}
	return n - b.off
}

func (b *Buffer) fits(n int) bool {
	return b.cap == 0 || b.length+n <= b.cap
}

// Write appends p, copying it into the buffer. It returns false without
// mutating the buffer if p would not fit within the configured capacity.
func (b *Buffer) Write(p []byte) bool {
	if !b.fits(len(p)) {
		return false
	}
	if b.contiguous {
		b.buf = append(b.buf, p...)
	} else {
		cp := append([]byte(nil), p...)
		b.segs = append(b.segs, cp)
	}
	b.length += len(p)
	return true
}

// Append references p without copying it (non-contiguous mode only). The
// caller must not mutate p afterwards. Falls back to Write in contiguous mode.
func (b *Buffer) Append(p []byte) bool {
	if !b.fits(len(p)) {
		return false
	}
	if b.contiguous {
		b.buf = append(b.buf, p...)
	} else {
		b.segs = append(b.segs, p)
	}
	b.length += len(p)
	return true
}

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(v byte) bool {
	return b.Write([]byte{v})
}

// WriteUint16 appends v in big-endian order.
func (b *Buffer) WriteUint16(v uint16) bool {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return b.Write(tmp[:])
}

// WriteUint32 appends v in big-endian order.
func (b *Buffer) WriteUint32(v uint32) bool {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return b.Write(tmp[:])
}

// Mark bookmarks the current write position for a later RevertToMark.
func (b *Buffer) Mark() {
	if b.contiguous {
		b.mark = len(b.buf)
	} else {
		b.markSegs = len(b.segs)
		b.markTotal = b.length
	}
}

// RevertToMark discards everything written since the last Mark.
func (b *Buffer) RevertToMark() {
	if b.contiguous {
		b.length -= len(b.buf) - b.mark
		b.buf = b.buf[:b.mark]
	} else {
		dropped := 0
		for _, s := range b.segs[b.markSegs:] {
			dropped += len(s)
		}
		b.segs = b.segs[:b.markSegs]
		b.length = b.markTotal
		_ = dropped
	}
}

// Bytes returns the accumulated bytes as a single contiguous slice, copying
// segments together if the buffer is non-contiguous.
func (b *Buffer) Bytes() []byte {
	if b.contiguous {
		return b.buf
	}
	out := make([]byte, 0, b.length)
	for _, s := range b.segs {
		out = append(out, s...)
	}
	return out
}

// Segments returns the raw segment chain (non-contiguous mode); for
// contiguous buffers it returns a single-element slice.
func (b *Buffer) Segments() [][]byte {
	if b.contiguous {
		return [][]byte{b.buf}
	}
	return b.segs
}

// --- consumer side ---

// ReadByte consumes and returns a single byte.
func (b *Buffer) ReadByte() (byte, error) {
	if b.off >= len(b.buf) {
		return 0, errors.Wrap(ErrShortBuffer, "ReadByte")
	}
	v := b.buf[b.off]
	b.off++
	return v, nil
}

// ErrShortBuffer is returned when a read runs past the end of a consumer buffer.
var ErrShortBuffer = errors.New("buffer: short buffer")

// ReadN consumes and returns the next n bytes.
func (b *Buffer) ReadN(n int) ([]byte, error) {
	if b.off+n > len(b.buf) {
		return nil, errors.Wrap(ErrShortBuffer, "ReadN")
	}
	v := b.buf[b.off : b.off+n]
	b.off += n
	return v, nil
}

// PeekByte returns the next byte without consuming it.
func (b *Buffer) PeekByte() (byte, error) {
	if b.off >= len(b.buf) {
		return 0, errors.Wrap(ErrShortBuffer, "PeekByte")
	}
	return b.buf[b.off], nil
}

// ReadUint16 consumes a big-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.ReadN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

// ReadUint32 consumes a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.ReadN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

// Cursor returns the current read offset, used by callers that need to
// confirm the decoded length matches the consumed byte count.
func (b *Buffer) Cursor() int {
	return b.off
}

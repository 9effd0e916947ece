// Package encoding implements the primitive wire types shared by
// internal/frames: variable-length integers, peer identifiers, locators,
// resource keys and the channel (priority, reliability) encoding.
package encoding

import (
	"github.com/pkg/errors"

	"github.com/janu-io/janu-go/internal/buffer"
)

// ErrVarintOverflow is returned when a decoded ZInt would not fit in 64 bits.
var ErrVarintOverflow = errors.New("encoding: zint overflows 64 bits")

// WriteZInt appends v to buf as a variable-length integer: 7 payload bits
// per byte, MSB is the continuation flag, least-significant group first.
func WriteZInt(buf *buffer.Buffer, v uint64) bool {
	buf.Mark()
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		if !buf.WriteByte(b) {
			buf.RevertToMark()
			return false
		}
		if v == 0 {
			return true
		}
	}
}

// ReadZInt decodes a variable-length integer from buf.
func ReadZInt(buf *buffer.Buffer) (uint64, error) {
	var v uint64
	var shift uint
	for i := 0; i < 10; i++ {
		b, err := buf.ReadByte()
		if err != nil {
			return 0, errors.Wrap(err, "ReadZInt")
		}
		if shift >= 63 && b > 1 {
			return 0, ErrVarintOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, nil
		}
		shift += 7
	}
	return 0, ErrVarintOverflow
}

// ZIntLen returns the number of bytes v would occupy when varint-encoded.
func ZIntLen(v uint64) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}

// WriteString writes a length-prefixed UTF-8 string: a ZInt length followed
// by the raw bytes.
func WriteString(buf *buffer.Buffer, s string) bool {
	buf.Mark()
	if !WriteZInt(buf, uint64(len(s))) {
		buf.RevertToMark()
		return false
	}
	if !buf.Write([]byte(s)) {
		buf.RevertToMark()
		return false
	}
	return true
}

// ReadString reads a length-prefixed UTF-8 string.
func ReadString(buf *buffer.Buffer) (string, error) {
	n, err := ReadZInt(buf)
	if err != nil {
		return "", errors.Wrap(err, "ReadString: length")
	}
	p, err := buf.ReadN(int(n))
	if err != nil {
		return "", errors.Wrap(err, "ReadString: body")
	}
	return string(p), nil
}

// WriteBytes writes a length-prefixed byte string.
func WriteBytes(buf *buffer.Buffer, p []byte) bool {
	buf.Mark()
	if !WriteZInt(buf, uint64(len(p))) {
		buf.RevertToMark()
		return false
	}
	if !buf.Write(p) {
		buf.RevertToMark()
		return false
	}
	return true
}

// ReadBytes reads a length-prefixed byte string.
func ReadBytes(buf *buffer.Buffer) ([]byte, error) {
	n, err := ReadZInt(buf)
	if err != nil {
		return nil, errors.Wrap(err, "ReadBytes: length")
	}
	p, err := buf.ReadN(int(n))
	if err != nil {
		return nil, errors.Wrap(err, "ReadBytes: body")
	}
	return append([]byte(nil), p...), nil
}

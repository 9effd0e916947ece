package encoding

import (
	"github.com/pkg/errors"

	"github.com/janu-io/janu-go/internal/buffer"
)

// ResKey identifies a resource either by a previously-declared numeric id,
// by name, or by id+suffix. Hash/equality is structural (spec.md §3).
type ResKey struct {
	ID     uint64
	Suffix string
}

// HasID reports whether k carries a numeric id component.
func (k ResKey) HasID() bool {
	return k.ID != 0
}

// HasSuffix reports whether k carries a string-name component.
func (k ResKey) HasSuffix() bool {
	return k.Suffix != ""
}

// Equal reports structural equality: same id and same suffix.
func (k ResKey) Equal(other ResKey) bool {
	return k.ID == other.ID && k.Suffix == other.Suffix
}

const (
	resKeyFlagHasID     = 0x01
	resKeyFlagHasSuffix = 0x02
)

// WriteResKey encodes k using a flag byte selecting which of {id, suffix}
// are present, per the "optional fields" codec rule in spec.md §4.1.
func WriteResKey(buf *buffer.Buffer, k ResKey) bool {
	buf.Mark()
	var flags byte
	if k.HasID() {
		flags |= resKeyFlagHasID
	}
	if k.HasSuffix() {
		flags |= resKeyFlagHasSuffix
	}
	if !buf.WriteByte(flags) {
		buf.RevertToMark()
		return false
	}
	if k.HasID() && !WriteZInt(buf, k.ID) {
		buf.RevertToMark()
		return false
	}
	if k.HasSuffix() && !WriteString(buf, k.Suffix) {
		buf.RevertToMark()
		return false
	}
	return true
}

// ErrEmptyResKey is returned when neither an id nor a suffix is present.
var ErrEmptyResKey = errors.New("encoding: reskey has neither id nor suffix")

// ReadResKey decodes a ResKey written by WriteResKey.
func ReadResKey(buf *buffer.Buffer) (ResKey, error) {
	flags, err := buf.ReadByte()
	if err != nil {
		return ResKey{}, errors.Wrap(err, "ReadResKey: flags")
	}
	var k ResKey
	if flags&resKeyFlagHasID != 0 {
		id, err := ReadZInt(buf)
		if err != nil {
			return ResKey{}, errors.Wrap(err, "ReadResKey: id")
		}
		k.ID = id
	}
	if flags&resKeyFlagHasSuffix != 0 {
		s, err := ReadString(buf)
		if err != nil {
			return ResKey{}, errors.Wrap(err, "ReadResKey: suffix")
		}
		k.Suffix = s
	}
	if !k.HasID() && !k.HasSuffix() {
		return ResKey{}, ErrEmptyResKey
	}
	return k, nil
}

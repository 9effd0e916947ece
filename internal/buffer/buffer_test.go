package buffer

import "testing"

func TestWriteWouldNotFit(t *testing.T) {
	b := NewContiguous(4)
	if !b.Write([]byte{1, 2}) {
		t.Fatal("expected write to fit")
	}
	b.Mark()
	if b.Write([]byte{3, 4, 5}) {
		t.Fatal("expected write to fail: exceeds capacity")
	}
	b.RevertToMark()
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2", b.Len())
	}
	if !b.Write([]byte{3, 4}) {
		t.Fatal("expected write to fit after revert")
	}
	if b.Len() != 4 {
		t.Fatalf("Len = %d, want 4", b.Len())
	}
}

func TestMarkRevertNonContiguous(t *testing.T) {
	b := NewNonContiguous(0)
	b.Append([]byte{1, 2, 3})
	b.Mark()
	b.Append([]byte{4, 5})
	if b.Len() != 5 {
		t.Fatalf("Len = %d, want 5", b.Len())
	}
	b.RevertToMark()
	if b.Len() != 3 {
		t.Fatalf("Len = %d, want 3", b.Len())
	}
	if got := b.Bytes(); string(got) != "\x01\x02\x03" {
		t.Fatalf("Bytes = %v", got)
	}
}

func TestConsumerRoundTrip(t *testing.T) {
	p := NewContiguous(0)
	p.WriteByte(0x07)
	p.WriteUint16(0x1234)
	p.WriteUint32(0xdeadbeef)

	c := NewConsumer(p.Bytes())
	b, err := c.ReadByte()
	if err != nil || b != 0x07 {
		t.Fatalf("ReadByte = %d, %v", b, err)
	}
	u16, err := c.ReadUint16()
	if err != nil || u16 != 0x1234 {
		t.Fatalf("ReadUint16 = %x, %v", u16, err)
	}
	u32, err := c.ReadUint32()
	if err != nil || u32 != 0xdeadbeef {
		t.Fatalf("ReadUint32 = %x, %v", u32, err)
	}
	if c.Remaining() != 0 {
		t.Fatalf("Remaining = %d, want 0", c.Remaining())
	}
}

func TestReadPastEndIsShortBuffer(t *testing.T) {
	c := NewConsumer([]byte{1})
	if _, err := c.ReadN(4); err == nil {
		t.Fatal("expected short buffer error")
	}
}

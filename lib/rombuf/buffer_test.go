package rombuf

import (
	"bytes"
	"testing"
)

func TestReadWriteRoundTrip(t *testing.T) {
	buf, err := NewOfSize(8)
	if err != nil {
		t.Fatalf("NewOfSize: %v", err)
	}
	buf.SetOrder(BigEndian)
	if err := buf.WriteU32(0x01020304); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	if err := buf.WriteU16(0xBEEF); err != nil {
		t.Fatalf("WriteU16: %v", err)
	}
	if err := buf.WriteU16(0x0102); err != nil {
		t.Fatalf("WriteU16: %v", err)
	}

	if err := buf.Seek(0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got, err := buf.ReadU32(); err != nil || got != 0x01020304 {
		t.Fatalf("ReadU32: got (%#x, %v), want (0x01020304, nil)", got, err)
	}
	if got, err := buf.ReadU16(); err != nil || got != 0xBEEF {
		t.Fatalf("ReadU16: got (%#x, %v), want (0xBEEF, nil)", got, err)
	}
}

func TestLittleEndian(t *testing.T) {
	buf, _ := NewOfSize(4)
	buf.SetOrder(LittleEndian)
	if err := buf.WriteU32(0x01020304); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	want := []byte{0x04, 0x03, 0x02, 0x01}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("Bytes: got %x, want %x", buf.Bytes(), want)
	}
}

func TestNoPartialMutationOnFailure(t *testing.T) {
	buf, _ := NewOfSize(2)
	if err := buf.WriteU32(0xFFFFFFFF); err == nil {
		t.Fatalf("WriteU32: want an error writing 4 bytes into a 2-byte buffer")
	}
	want := []byte{0x00, 0x00}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("Bytes after failed write: got %x, want %x (no partial mutation)", buf.Bytes(), want)
	}
	if buf.Cursor() != 0 {
		t.Fatalf("Cursor after failed write: got %d, want 0", buf.Cursor())
	}

	// The buffer must remain usable for a subsequent, in-bounds operation.
	if err := buf.WriteU16(0xABCD); err != nil {
		t.Fatalf("WriteU16 after prior failure: %v", err)
	}
}

func TestReadStringTruncatesAtNUL(t *testing.T) {
	buf := New([]byte{'h', 'i', 0x00, 'X', 'X'})
	s, err := buf.ReadString(5)
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if s != "hi" {
		t.Fatalf("ReadString: got %q, want %q", s, "hi")
	}
	if buf.Cursor() != 5 {
		t.Fatalf("Cursor: got %d, want 5 (cursor advances by n regardless of truncation)", buf.Cursor())
	}
}

func TestWriteStringPadsAndTruncates(t *testing.T) {
	buf, _ := NewOfSize(4)
	if err := buf.WriteString("ab", 4); err != nil {
		t.Fatalf("WriteString pad: %v", err)
	}
	if want := []byte{'a', 'b', 0, 0}; !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("padded: got %x, want %x", buf.Bytes(), want)
	}

	buf2, _ := NewOfSize(2)
	if err := buf2.WriteString("abcd", 2); err != nil {
		t.Fatalf("WriteString truncate: %v", err)
	}
	if want := []byte{'a', 'b'}; !bytes.Equal(buf2.Bytes(), want) {
		t.Fatalf("truncated: got %x, want %x", buf2.Bytes(), want)
	}
}

func TestSliceIsIndependent(t *testing.T) {
	buf := New([]byte{1, 2, 3, 4, 5})
	sl, err := buf.Slice(1, 3)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if !bytes.Equal(sl.Bytes(), []byte{2, 3, 4}) {
		t.Fatalf("Slice bytes: got %x, want %x", sl.Bytes(), []byte{2, 3, 4})
	}
	if err := sl.Seek(0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if err := sl.WriteU8(0xFF); err != nil {
		t.Fatalf("WriteU8: %v", err)
	}
	if buf.Bytes()[1] != 2 {
		t.Fatalf("original buffer mutated by slice write: got %d, want 2", buf.Bytes()[1])
	}
}

func TestCopyTo(t *testing.T) {
	src := New([]byte{0xAA, 0xBB, 0xCC, 0xDD})
	dst, _ := NewOfSize(4)
	if err := src.CopyTo(dst, 1, 2, 0); err != nil {
		t.Fatalf("CopyTo: %v", err)
	}
	if want := []byte{0xBB, 0xCC, 0x00, 0x00}; !bytes.Equal(dst.Bytes(), want) {
		t.Fatalf("CopyTo result: got %x, want %x", dst.Bytes(), want)
	}
}

func TestPushPopCursor(t *testing.T) {
	buf := New([]byte{1, 2, 3, 4})
	if err := buf.Seek(2); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf.PushCursor()
	if err := buf.Seek(0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if err := buf.PopCursor(); err != nil {
		t.Fatalf("PopCursor: %v", err)
	}
	if buf.Cursor() != 2 {
		t.Fatalf("Cursor after PopCursor: got %d, want 2", buf.Cursor())
	}
	if err := buf.PopCursor(); err == nil {
		t.Fatalf("PopCursor on empty stack: want an error")
	}
}

func TestOutOfBounds(t *testing.T) {
	buf := New([]byte{1, 2, 3})
	if err := buf.Seek(10); err != ErrOutOfBounds {
		t.Fatalf("Seek past end: got %v, want ErrOutOfBounds", err)
	}
	if _, err := buf.ReadBytes(10); err != ErrEndOfFile {
		t.Fatalf("ReadBytes past end: got %v, want ErrEndOfFile", err)
	}
}

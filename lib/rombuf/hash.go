package rombuf

import "github.com/retropatch/rompatcher/lib/hashkit"

// hashRange resolves the half-open byte range [start, start+length) against
// this buffer's length, defaulting length to Size()-start when omitted.
func (b *Buffer) hashRange(start int, length []int) ([]byte, error) {
	n := len(b.data) - start
	if len(length) > 0 {
		n = length[0]
	}
	if err := b.checkRange(start, n); err != nil {
		return nil, err
	}
	return b.data[start : start+n], nil
}

// CRC32 computes the CRC32 of [start, start+length), defaulting length to
// the rest of the buffer.
func (b *Buffer) CRC32(start int, length ...int) (uint32, error) {
	p, err := b.hashRange(start, length)
	if err != nil {
		return 0, err
	}
	return hashkit.CRC32(p), nil
}

// Adler32 computes the Adler-32 checksum of [start, start+length).
func (b *Buffer) Adler32(start int, length ...int) (uint32, error) {
	p, err := b.hashRange(start, length)
	if err != nil {
		return 0, err
	}
	return hashkit.Adler32(p), nil
}

// CRC16 computes the CRC-16/CCITT-FALSE checksum of [start, start+length).
func (b *Buffer) CRC16(start int, length ...int) (uint16, error) {
	p, err := b.hashRange(start, length)
	if err != nil {
		return 0, err
	}
	return hashkit.CRC16(p), nil
}

// MD5 computes the MD5 digest of [start, start+length).
func (b *Buffer) MD5(start int, length ...int) ([16]byte, error) {
	p, err := b.hashRange(start, length)
	if err != nil {
		return [16]byte{}, err
	}
	return hashkit.MD5(p), nil
}

// SHA1 computes the SHA-1 digest of [start, start+length).
func (b *Buffer) SHA1(start int, length ...int) ([20]byte, error) {
	p, err := b.hashRange(start, length)
	if err != nil {
		return [20]byte{}, err
	}
	return hashkit.SHA1(p), nil
}

// Package ups implements the UPS ROM patch format: a reversible, XOR-based
// format with CRC32 checksums over the source, the target, and the patch
// itself.
//
// Wire format (little-endian): "UPS1" + VLV sizeInput + VLV sizeOutput +
// records... + u32 crcInput + u32 crcOutput + u32 crcPatch. Each record is a
// VLV relative offset followed by a non-empty run of non-zero XOR bytes
// terminated by a single 0x00 byte.
package ups

import (
	"errors"
	"fmt"

	"github.com/retropatch/rompatcher/lib/hashkit"
	"github.com/retropatch/rompatcher/lib/vlv"
)

var (
	ErrInvalidMagic           = errors.New("ups: invalid magic")
	ErrInvalidRecord          = errors.New("ups: invalid record")
	ErrSourceChecksumMismatch = errors.New("ups: source checksum mismatch")
	ErrTargetChecksumMismatch = errors.New("ups: target checksum mismatch")
	ErrPatchChecksumMismatch  = errors.New("ups: patch checksum mismatch")
)

const magic = "UPS1"

// Record is one UPS record: a relative offset (counted from one byte past
// the end of the previous record's XOR run, which skips the slot of its
// 0x00 terminator; from 0 for the first record) and a run of non-zero XOR
// bytes.
type Record struct {
	RelativeOffset uint64
	XOR            []byte
}

// Patch is a parsed or constructed UPS patch.
type Patch struct {
	SizeInput      uint64
	SizeOutput     uint64
	Records        []Record
	ChecksumInput  uint32
	ChecksumOutput uint32
	ChecksumPatch  uint32
}

// Parse decodes a UPS patch from its wire representation.
func Parse(p []byte) (*Patch, error) {
	if len(p) < len(magic)+12 {
		return nil, fmt.Errorf("%w: too short", ErrInvalidMagic)
	}
	if string(p[:len(magic)]) != magic {
		return nil, ErrInvalidMagic
	}

	pos := len(magic)
	sizeInput, n, err := vlv.Decode(p[pos:])
	if err != nil {
		return nil, fmt.Errorf("%w: sizeInput: %v", ErrInvalidRecord, err)
	}
	pos += n
	sizeOutput, n, err := vlv.Decode(p[pos:])
	if err != nil {
		return nil, fmt.Errorf("%w: sizeOutput: %v", ErrInvalidRecord, err)
	}
	pos += n
	if sizeInput == 0 || sizeOutput == 0 {
		return nil, fmt.Errorf("%w: zero size", ErrInvalidRecord)
	}

	pat := &Patch{SizeInput: sizeInput, SizeOutput: sizeOutput}

	bodyEnd := len(p) - 12
	for pos < bodyEnd {
		off, n, err := vlv.Decode(p[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: relativeOffset: %v", ErrInvalidRecord, err)
		}
		pos += n

		start := pos
		for pos < len(p) && p[pos] != 0 {
			pos++
		}
		if pos >= len(p) {
			return nil, fmt.Errorf("%w: unterminated XOR run", ErrInvalidRecord)
		}
		xor := make([]byte, pos-start)
		copy(xor, p[start:pos])
		pos++ // consume the terminating 0x00.

		if len(xor) == 0 {
			return nil, fmt.Errorf("%w: empty XOR run", ErrInvalidRecord)
		}
		pat.Records = append(pat.Records, Record{RelativeOffset: off, XOR: xor})
	}
	if pos != bodyEnd {
		return nil, fmt.Errorf("%w: record overruns trailer", ErrInvalidRecord)
	}

	pat.ChecksumInput = readU32LE(p[bodyEnd:])
	pat.ChecksumOutput = readU32LE(p[bodyEnd+4:])
	pat.ChecksumPatch = readU32LE(p[bodyEnd+8:])

	if hashkit.CRC32(p[:len(p)-4]) != pat.ChecksumPatch {
		return nil, ErrPatchChecksumMismatch
	}
	return pat, nil
}

func readU32LE(p []byte) uint32 {
	return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
}

func putU32LE(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

// Apply applies the patch to rom. When validate is true, the source and
// (if it checks out) target CRC32s are enforced; without validation, best
// effort application proceeds, including the historical "Rom Patcher JS PR
// #40" glitch: when the provided rom is larger than the declared
// sizeInput, both the effective input and output sizes are widened to
// match, bit-for-bit compatible with that long-standing tool.
func (pat *Patch) Apply(rom []byte, validate bool) ([]byte, error) {
	if validate {
		if hashkit.CRC32(rom) != pat.ChecksumInput {
			return nil, ErrSourceChecksumMismatch
		}
	}

	inputSize := int(pat.SizeInput)
	outputSize := int(pat.SizeOutput)
	if !validate && len(rom) > inputSize {
		grow := len(rom) - inputSize
		inputSize = len(rom)
		outputSize += grow
	}

	target := make([]byte, outputSize)
	n := inputSize
	if n > len(rom) {
		n = len(rom)
	}
	copy(target, rom[:n])

	c := uint64(0)
	for _, r := range pat.Records {
		c += r.RelativeOffset
		for i, x := range r.XOR {
			idx := int(c) + i
			if idx >= len(target) {
				return nil, fmt.Errorf("%w: record writes past target", ErrInvalidRecord)
			}
			src := byte(0)
			if idx < len(rom) {
				src = rom[idx]
			}
			target[idx] = src ^ x
		}
		c += uint64(len(r.XOR)) + 1
	}

	if validate {
		if hashkit.CRC32(target) != pat.ChecksumOutput {
			return nil, ErrTargetChecksumMismatch
		}
	}
	return target, nil
}

// Build diffs original against modified and returns the UPS patch that maps
// one to the other; the result is reversible (applying it to either
// original or modified yields the other).
func Build(original, modified []byte) *Patch {
	pat := &Patch{
		SizeInput:      uint64(len(original)),
		SizeOutput:     uint64(len(modified)),
		ChecksumInput:  hashkit.CRC32(original),
		ChecksumOutput: hashkit.CRC32(modified),
	}

	at := func(buf []byte, i int) byte {
		if i < len(buf) {
			return buf[i]
		}
		return 0
	}

	longer := len(modified)
	if len(original) > longer {
		longer = len(original)
	}

	previousSeek := 0
	p := 0
	for p < longer {
		if at(original, p) == at(modified, p) {
			p++
			continue
		}
		start := p
		var xor []byte
		for p < longer && at(original, p) != at(modified, p) {
			xor = append(xor, at(original, p)^at(modified, p))
			p++
		}
		pat.Records = append(pat.Records, Record{
			RelativeOffset: uint64(start - previousSeek),
			XOR:            xor,
		})
		previousSeek = p + 1
	}

	return pat
}

// Export serializes the patch to its wire representation, including the
// trailing CRC32 of the patch itself (everything written before it).
func (pat *Patch) Export() []byte {
	out := make([]byte, 0, 64)
	out = append(out, magic...)
	out = vlv.Encode(out, pat.SizeInput)
	out = vlv.Encode(out, pat.SizeOutput)
	for _, r := range pat.Records {
		out = vlv.Encode(out, r.RelativeOffset)
		out = append(out, r.XOR...)
		out = append(out, 0x00)
	}

	trailer := make([]byte, 12)
	putU32LE(trailer[0:4], pat.ChecksumInput)
	putU32LE(trailer[4:8], pat.ChecksumOutput)
	out = append(out, trailer[:8]...)

	crcPatch := hashkit.CRC32(out)
	putU32LE(trailer[8:12], crcPatch)
	out = append(out, trailer[8:12]...)
	return out
}

// Package bps implements the BPS ROM patch format: a copy-instruction-based
// format with four action kinds (SourceRead, TargetRead, SourceCopy,
// TargetCopy) and three CRC32 checksums (source, target, patch).
//
// Wire format (little-endian): "BPS1" + VLV sourceSize + VLV targetSize +
// VLV metadataLen + metadata bytes + actions... + u32 sourceChecksum +
// u32 targetChecksum + u32 patchChecksum. Each action is a VLV whose low 2
// bits select the action kind and whose remaining bits are (length-1).
// SourceCopy and TargetCopy are followed by a second VLV carrying a signed
// relative offset (low bit is the sign).
package bps

import (
	"errors"
	"fmt"

	"github.com/retropatch/rompatcher/lib/hashkit"
	"github.com/retropatch/rompatcher/lib/vlv"
)

var (
	ErrInvalidMagic           = errors.New("bps: invalid magic")
	ErrInvalidRecord          = errors.New("bps: invalid record")
	ErrInvalidMetadata        = errors.New("bps: invalid metadata")
	ErrSourceChecksumMismatch = errors.New("bps: source checksum mismatch")
	ErrTargetChecksumMismatch = errors.New("bps: target checksum mismatch")
	ErrPatchChecksumMismatch  = errors.New("bps: patch checksum mismatch")
	ErrPatchFailed            = errors.New("bps: patch failed")
)

const magic = "BPS1"

// ActionKind identifies one of BPS's four action kinds.
type ActionKind uint8

const (
	SourceRead ActionKind = 0
	TargetRead ActionKind = 1
	SourceCopy ActionKind = 2
	TargetCopy ActionKind = 3
)

// Action is one BPS action. Bytes is populated only for TargetRead;
// RelativeOffset is populated only for SourceCopy and TargetCopy.
type Action struct {
	Kind           ActionKind
	Length         int
	Bytes          []byte
	RelativeOffset int64
}

// Patch is a parsed or constructed BPS patch.
type Patch struct {
	SourceSize     int
	TargetSize     int
	Metadata       string
	Actions        []Action
	SourceChecksum uint32
	TargetChecksum uint32
	PatchChecksum  uint32
}

// Parse decodes a BPS patch from its wire representation.
func Parse(p []byte) (*Patch, error) {
	if len(p) < len(magic)+12 || string(p[:len(magic)]) != magic {
		return nil, ErrInvalidMagic
	}

	pos := len(magic)
	sourceSize, n, err := vlv.Decode(p[pos:])
	if err != nil {
		return nil, fmt.Errorf("%w: sourceSize: %v", ErrInvalidRecord, err)
	}
	pos += n
	targetSize, n, err := vlv.Decode(p[pos:])
	if err != nil {
		return nil, fmt.Errorf("%w: targetSize: %v", ErrInvalidRecord, err)
	}
	pos += n
	metadataLen, n, err := vlv.Decode(p[pos:])
	if err != nil {
		return nil, fmt.Errorf("%w: metadataLen: %v", ErrInvalidRecord, err)
	}
	pos += n

	if pos+int(metadataLen) > len(p) {
		return nil, fmt.Errorf("%w: truncated metadata", ErrInvalidMetadata)
	}
	metadata := string(p[pos : pos+int(metadataLen)])
	pos += int(metadataLen)

	pat := &Patch{
		SourceSize: int(sourceSize),
		TargetSize: int(targetSize),
		Metadata:   metadata,
	}

	bodyEnd := len(p) - 12
	producedLen := 0
	for pos < bodyEnd {
		header, n, err := vlv.Decode(p[pos:])
		if err != nil {
			return nil, fmt.Errorf("%w: action header: %v", ErrInvalidRecord, err)
		}
		pos += n

		kind := ActionKind(header & 3)
		length := int(header>>2) + 1
		act := Action{Kind: kind, Length: length}

		switch kind {
		case TargetRead:
			if pos+length > len(p) {
				return nil, fmt.Errorf("%w: truncated TargetRead", ErrInvalidRecord)
			}
			act.Bytes = make([]byte, length)
			copy(act.Bytes, p[pos:pos+length])
			pos += length
		case SourceCopy, TargetCopy:
			off, n, err := vlv.DecodeSigned(p[pos:])
			if err != nil {
				return nil, fmt.Errorf("%w: relative offset: %v", ErrInvalidRecord, err)
			}
			pos += n
			act.RelativeOffset = off
		case SourceRead:
			// No extra payload.
		default:
			return nil, fmt.Errorf("%w: unknown action kind %d", ErrInvalidRecord, kind)
		}

		pat.Actions = append(pat.Actions, act)
		producedLen += length
	}
	if pos != bodyEnd {
		return nil, fmt.Errorf("%w: action overruns trailer", ErrInvalidRecord)
	}
	if producedLen != pat.TargetSize {
		return nil, fmt.Errorf("%w: action lengths do not sum to targetSize", ErrInvalidRecord)
	}

	pat.SourceChecksum = readU32LE(p[bodyEnd:])
	pat.TargetChecksum = readU32LE(p[bodyEnd+4:])
	pat.PatchChecksum = readU32LE(p[bodyEnd+8:])

	if hashkit.CRC32(p[:len(p)-4]) != pat.PatchChecksum {
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

// Apply applies the patch to source and returns the target buffer. When
// validate is true, the source checksum is checked before and the target
// checksum after.
func (pat *Patch) Apply(source []byte, validate bool) ([]byte, error) {
	if validate {
		n := pat.SourceSize
		if n > len(source) {
			n = len(source)
		}
		if hashkit.CRC32(source[:n]) != pat.SourceChecksum {
			return nil, ErrSourceChecksumMismatch
		}
	}

	target := make([]byte, pat.TargetSize)
	c := 0

	// sourceGap and targetGap are carried across actions and perturbed only
	// by their own copy kind's relative offset; the read position for a
	// copy action is always the current cursor plus its gap, so a Source-
	// or TargetRead in between two copies shifts the read position along
	// with c without needing its own bookkeeping.
	sourceGap := 0
	targetGap := 0

	for _, act := range pat.Actions {
		switch act.Kind {
		case SourceRead:
			if c+act.Length > pat.SourceSize || c+act.Length > len(source) {
				return nil, fmt.Errorf("%w: SourceRead out of bounds", ErrInvalidRecord)
			}
			copy(target[c:c+act.Length], source[c:c+act.Length])
			c += act.Length

		case TargetRead:
			copy(target[c:c+act.Length], act.Bytes)
			c += act.Length

		case SourceCopy:
			sourceGap += int(act.RelativeOffset)
			start := c + sourceGap
			if start < 0 || start+act.Length > len(source) {
				return nil, fmt.Errorf("%w: SourceCopy out of bounds", ErrInvalidRecord)
			}
			copy(target[c:c+act.Length], source[start:start+act.Length])
			c += act.Length

		case TargetCopy:
			targetGap += int(act.RelativeOffset)
			start := c + targetGap
			if start < 0 {
				return nil, fmt.Errorf("%w: TargetCopy out of bounds", ErrInvalidRecord)
			}
			// Forward byte-by-byte copy, deliberately not a bulk copy()/
			// memmove: when start < c, the source and destination ranges
			// overlap and this loop must re-read bytes it just wrote,
			// producing a repeating pattern of period c - start. A bulk
			// copy would read the stale, pre-overlap bytes instead and
			// silently produce the wrong pattern.
			for i := 0; i < act.Length; i++ {
				if start+i >= len(target) || c+i >= len(target) {
					return nil, fmt.Errorf("%w: TargetCopy out of bounds", ErrInvalidRecord)
				}
				target[c+i] = target[start+i]
			}
			c += act.Length

		default:
			return nil, fmt.Errorf("%w: unknown action kind %d", ErrInvalidRecord, act.Kind)
		}
	}

	if c != pat.TargetSize {
		return nil, fmt.Errorf("%w: actions did not produce targetSize bytes", ErrInvalidRecord)
	}

	if validate {
		if hashkit.CRC32(target) != pat.TargetChecksum {
			return nil, ErrTargetChecksumMismatch
		}
	}
	return target, nil
}

// Strategy selects a BuildBPS construction algorithm.
type Strategy int

const (
	// StrategyLinear finds, for each target position, the longest run
	// shared with the corresponding source position, falling back to a
	// pending TargetRead otherwise. This is the only implemented strategy.
	StrategyLinear Strategy = iota

	// StrategyDelta would use a suffix-array/hash-chain search to find
	// SourceCopy/TargetCopy matches anywhere in source or in the
	// already-emitted target, not just at the same offset, for a smaller
	// patch. It is a documented extension point, not implemented: callers
	// that select it get the linear strategy's output, which is correct
	// (interoperable on Apply) but not as compact.
	StrategyDelta
)

// Build diffs source against target using the given strategy and returns
// the BPS patch that turns source into target.
func Build(source, target []byte, strategy Strategy) (*Patch, error) {
	// Delta mode is a documented extension point (see Strategy); for now
	// both strategies share the linear implementation.
	_ = strategy

	pat := &Patch{
		SourceSize:     len(source),
		TargetSize:     len(target),
		SourceChecksum: hashkit.CRC32(source),
		TargetChecksum: hashkit.CRC32(target),
	}

	var pending []byte
	flush := func() {
		if len(pending) == 0 {
			return
		}
		bytesCopy := make([]byte, len(pending))
		copy(bytesCopy, pending)
		pat.Actions = append(pat.Actions, Action{Kind: TargetRead, Length: len(bytesCopy), Bytes: bytesCopy})
		pending = nil
	}

	i := 0
	for i < len(target) {
		matchLen := commonRunLength(source, target, i)
		if matchLen > 0 {
			flush()
			pat.Actions = append(pat.Actions, Action{Kind: SourceRead, Length: matchLen})
			i += matchLen
			continue
		}
		pending = append(pending, target[i])
		i++
	}
	flush()

	total := 0
	for _, act := range pat.Actions {
		total += act.Length
	}
	if total != len(target) {
		return nil, fmt.Errorf("%w: internal: action lengths do not sum to targetSize", ErrPatchFailed)
	}
	return pat, nil
}

// commonRunLength returns the length of the longest run starting at i that
// is equal in both source and target, stopping at target's end.
func commonRunLength(source, target []byte, i int) int {
	n := 0
	for (i+n) < len(target) && (i+n) < len(source) && source[i+n] == target[i+n] {
		n++
	}
	return n
}

// Export serializes the patch to its wire representation, including the
// VLV-packed action headers, the signed relative-offset VLVs, and the
// trailing CRC32 of the patch itself.
func (pat *Patch) Export() []byte {
	out := make([]byte, 0, 64)
	out = append(out, magic...)
	out = vlv.Encode(out, uint64(pat.SourceSize))
	out = vlv.Encode(out, uint64(pat.TargetSize))
	out = vlv.Encode(out, uint64(len(pat.Metadata)))
	out = append(out, pat.Metadata...)

	for _, act := range pat.Actions {
		header := (uint64(act.Length-1) << 2) | uint64(act.Kind)
		out = vlv.Encode(out, header)
		switch act.Kind {
		case TargetRead:
			out = append(out, act.Bytes...)
		case SourceCopy, TargetCopy:
			out = vlv.EncodeSigned(out, act.RelativeOffset)
		}
	}

	trailer := make([]byte, 12)
	putU32LE(trailer[0:4], pat.SourceChecksum)
	putU32LE(trailer[4:8], pat.TargetChecksum)
	out = append(out, trailer[:8]...)

	patchChecksum := hashkit.CRC32(out)
	putU32LE(trailer[8:12], patchChecksum)
	out = append(out, trailer[8:12]...)
	return out
}

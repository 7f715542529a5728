package ups

import (
	"bytes"
	"testing"
)

func TestBuildAndRoundTrip(t *testing.T) {
	a := []byte{0x41, 0x42, 0x43, 0x44}
	b := []byte{0x41, 0x42, 0x47, 0x44}

	pat := Build(a, b)
	if len(pat.Records) != 1 {
		t.Fatalf("Build: got %d records, want 1", len(pat.Records))
	}
	if pat.Records[0].RelativeOffset != 2 || !bytes.Equal(pat.Records[0].XOR, []byte{0x04}) {
		t.Fatalf("Build: got record %+v, want {RelativeOffset:2 XOR:[0x04]}", pat.Records[0])
	}

	toB, err := pat.Apply(a, true)
	if err != nil {
		t.Fatalf("Apply(a): %v", err)
	}
	if !bytes.Equal(toB, b) {
		t.Fatalf("Apply(a): got %x, want %x", toB, b)
	}

	toA, err := pat.Apply(b, false)
	if err != nil {
		t.Fatalf("Apply(b): %v", err)
	}
	if !bytes.Equal(toA, a) {
		t.Fatalf("Apply(b): got %x, want %x", toA, a)
	}
}

func TestBuildChecksumsMatch(t *testing.T) {
	a := []byte{0x41, 0x42, 0x43, 0x44}
	b := []byte{0x41, 0x42, 0x47, 0x44}
	pat := Build(a, b)

	exported := pat.Export()
	reparsed, err := Parse(exported)
	if err != nil {
		t.Fatalf("Parse(Export()): %v", err)
	}
	if reparsed.ChecksumInput != pat.ChecksumInput || reparsed.ChecksumOutput != pat.ChecksumOutput {
		t.Fatalf("checksum mismatch after round trip: got in=%#x out=%#x, want in=%#x out=%#x",
			reparsed.ChecksumInput, reparsed.ChecksumOutput, pat.ChecksumInput, pat.ChecksumOutput)
	}
}

func TestApplyValidateRejectsWrongSource(t *testing.T) {
	a := []byte{0x41, 0x42, 0x43, 0x44}
	b := []byte{0x41, 0x42, 0x47, 0x44}
	pat := Build(a, b)

	wrong := []byte{0, 0, 0, 0}
	if _, err := pat.Apply(wrong, true); err != ErrSourceChecksumMismatch {
		t.Fatalf("Apply(wrong, true): got %v, want ErrSourceChecksumMismatch", err)
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	buf := make([]byte, 20)
	copy(buf, "NOT1")
	if _, err := Parse(buf); err != ErrInvalidMagic {
		t.Fatalf("Parse: got %v, want ErrInvalidMagic", err)
	}
}

func TestParseRejectsBadPatchChecksum(t *testing.T) {
	a := []byte{0x41, 0x42, 0x43, 0x44}
	b := []byte{0x41, 0x42, 0x47, 0x44}
	exported := Build(a, b).Export()
	exported[len(exported)-1] ^= 0xFF

	if _, err := Parse(exported); err != ErrPatchChecksumMismatch {
		t.Fatalf("Parse(corrupted): got %v, want ErrPatchChecksumMismatch", err)
	}
}

func TestApplyNonValidatingSizeGlitch(t *testing.T) {
	a := []byte{0x41, 0x42, 0x43, 0x44}
	b := []byte{0x41, 0x42, 0x47, 0x44}
	pat := Build(a, b)

	// A larger-than-declared ROM, applied without validation, widens both
	// input and output size by the excess and preserves the extra tail
	// bytes verbatim (the "Rom Patcher JS PR #40" glitch).
	grown := append(append([]byte{}, a...), 0xEE, 0xEE)
	got, err := pat.Apply(grown, false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	want := append(append([]byte{}, b...), 0xEE, 0xEE)
	if !bytes.Equal(got, want) {
		t.Fatalf("Apply(grown, false): got %x, want %x", got, want)
	}
}

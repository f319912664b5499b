package digest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lukechampine.com/blake3"
)

func TestBytes(t *testing.T) {
	data := []byte("hello world")

	d := Bytes(data)

	expected := blake3.Sum256(data)
	if !bytes.Equal(d.Bytes(), expected[:]) {
		t.Errorf("hash mismatch: got %x, want %x", d.Bytes(), expected[:])
	}

	if len(d.String()) != Size*2 {
		t.Errorf("string length mismatch: got %d, want %d", len(d.String()), Size*2)
	}

	if d.String() != strings.ToLower(d.String()) {
		t.Errorf("digest string must be lowercase: %s", d.String())
	}
}

func TestBytesDeterministic(t *testing.T) {
	data := []byte("determinism check")

	a := Bytes(data)
	b := Bytes(data)

	if !a.Equal(b) {
		t.Errorf("hashing the same bytes twice produced different digests: %s != %s", a, b)
	}
}

func TestReaderMatchesBytes(t *testing.T) {
	data := []byte("stream this through a reader")

	want := Bytes(data)
	got, err := Reader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Reader returned error: %v", err)
	}

	if !want.Equal(got) {
		t.Errorf("Reader digest mismatch: got %s, want %s", got, want)
	}
}

func TestFileMatchesBytes(t *testing.T) {
	data := []byte("hash me from disk")
	path := filepath.Join(t.TempDir(), "input.bin")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	want := Bytes(data)
	got, err := File(path)
	if err != nil {
		t.Fatalf("File returned error: %v", err)
	}

	if !want.Equal(got) {
		t.Errorf("File digest mismatch: got %s, want %s", got, want)
	}
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "does-not-exist.bin"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestIncrementalMatchesBytes(t *testing.T) {
	part1 := []byte("first half ")
	part2 := []byte("second half")

	h := NewIncremental()
	h.Update(part1)
	h.Update(part2)
	got := h.Finalize()

	want := Bytes(append(append([]byte{}, part1...), part2...))
	if !want.Equal(got) {
		t.Errorf("incremental digest mismatch: got %s, want %s", got, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	d := Bytes([]byte("round trip"))

	parsed, err := Parse(d.String())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !d.Equal(parsed) {
		t.Errorf("parsed digest mismatch: got %s, want %s", parsed, d)
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"",
		"too-short",
		strings.Repeat("zz", Size), // right length, not hex
	}

	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", c)
		}
	}
}

func TestFromBytesInvalidLength(t *testing.T) {
	if _, err := FromBytes(make([]byte, 16)); err == nil {
		t.Error("expected error for invalid byte length, got nil")
	}
}

func TestZeroIsZero(t *testing.T) {
	if !Zero.IsZero() {
		t.Error("Zero.IsZero() must be true")
	}

	d := Bytes([]byte("not zero"))
	if d.IsZero() {
		t.Error("non-zero digest reported as zero")
	}
}

func TestCompareOrdersByBytes(t *testing.T) {
	a, err := FromBytes(bytes.Repeat([]byte{0x01}, Size))
	if err != nil {
		t.Fatal(err)
	}
	b, err := FromBytes(bytes.Repeat([]byte{0x02}, Size))
	if err != nil {
		t.Fatal(err)
	}

	if a.Compare(b) >= 0 {
		t.Errorf("expected a < b, got Compare=%d", a.Compare(b))
	}
	if b.Compare(a) <= 0 {
		t.Errorf("expected b > a, got Compare=%d", b.Compare(a))
	}
	if a.Compare(a) != 0 {
		t.Errorf("expected a == a, got Compare=%d", a.Compare(a))
	}
}

package chunk

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/duskvault/duskvault/pkg/digest"
)

func TestFixedChunkingExactMultiple(t *testing.T) {
	data := make([]byte, 3*1024)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Strategy: Fixed, FixedSize: 1024}
	chunks, err := All(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatalf("All returned error: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Size != 1024 {
			t.Errorf("chunk %d size = %d, want 1024", i, c.Size)
		}
		if c.Offset != int64(i*1024) {
			t.Errorf("chunk %d offset = %d, want %d", i, c.Offset, i*1024)
		}
	}
}

func TestFixedChunkingTrailingShort(t *testing.T) {
	data := make([]byte, 2500)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Strategy: Fixed, FixedSize: 1024}
	chunks, err := All(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatalf("All returned error: %v", err)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[2].Size != 452 {
		t.Errorf("trailing chunk size = %d, want 452", chunks[2].Size)
	}
}

func TestFixedChunkingReproducible(t *testing.T) {
	data := make([]byte, 10000)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Strategy: Fixed, FixedSize: 777}
	a, err := All(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := All(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if len(a) != len(b) {
		t.Fatalf("chunk count differs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Digest != b[i].Digest {
			t.Errorf("chunk %d digest differs between runs", i)
		}
	}
}

func TestCDCChunkingWithinBounds(t *testing.T) {
	data := make([]byte, 8*1024*1024)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Strategy: ContentDefined, MinSize: 64 * 1024, AvgSize: 128 * 1024, MaxSize: 512 * 1024}
	chunks, err := All(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatalf("All returned error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}

	for i, c := range chunks {
		if i < len(chunks)-1 && c.Size < cfg.MinSize {
			t.Errorf("non-trailing chunk %d size %d below MinSize %d", i, c.Size, cfg.MinSize)
		}
		if c.Size > cfg.MaxSize {
			t.Errorf("chunk %d size %d exceeds MaxSize %d", i, c.Size, cfg.MaxSize)
		}
	}
}

func TestCDCChunkingReproducible(t *testing.T) {
	data := make([]byte, 4*1024*1024)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Strategy: ContentDefined, MinSize: 64 * 1024, AvgSize: 128 * 1024, MaxSize: 512 * 1024}
	a, err := All(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatal(err)
	}
	b, err := All(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatal(err)
	}

	if len(a) != len(b) {
		t.Fatalf("chunk count differs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Digest != b[i].Digest || a[i].Size != b[i].Size {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestCDCInsertionOnlyShiftsLocalChunks(t *testing.T) {
	base := make([]byte, 2*1024*1024)
	if _, err := rand.Read(base); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Strategy: ContentDefined, MinSize: 32 * 1024, AvgSize: 64 * 1024, MaxSize: 256 * 1024}

	original, err := All(bytes.NewReader(base), cfg)
	if err != nil {
		t.Fatal(err)
	}

	insertion := bytes.Repeat([]byte{0xAB}, 4096)
	modified := append(append(append([]byte{}, base[:1024*1024]...), insertion...), base[1024*1024:]...)

	changed, err := All(bytes.NewReader(modified), cfg)
	if err != nil {
		t.Fatal(err)
	}

	originalDigests := map[digest.Digest]bool{}
	for _, c := range original {
		originalDigests[c.Digest] = true
	}

	shared := 0
	for _, c := range changed {
		if originalDigests[c.Digest] {
			shared++
		}
	}

	if shared == 0 {
		t.Error("expected at least some chunks to survive a local insertion unchanged")
	}
}

func TestReassembleRoundTrip(t *testing.T) {
	data := make([]byte, 50000)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Strategy: Fixed, FixedSize: 4096}
	chunks, err := All(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatal(err)
	}

	out, err := Reassemble(chunks)
	if err != nil {
		t.Fatalf("Reassemble failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("reassembled data does not match original")
	}
}

func TestReassembleDetectsCorruption(t *testing.T) {
	data := make([]byte, 10000)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	cfg := Config{Strategy: Fixed, FixedSize: 4096}
	chunks, err := All(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatal(err)
	}

	chunks[0].Data[0] ^= 0xFF

	if _, err := Reassemble(chunks); err == nil {
		t.Error("expected integrity error for corrupted chunk")
	}
}

func TestChunkerPropagatesReaderError(t *testing.T) {
	errReader := errorReader{err: io.ErrClosedPipe}

	ck := New(errReader, Config{Strategy: Fixed, FixedSize: 1024})
	_, err := ck.Next()
	if err == nil || err == io.EOF {
		t.Fatalf("expected propagated reader error, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid fixed", Config{Strategy: Fixed, FixedSize: DefaultFixedSize}, true},
		{"fixed too small", Config{Strategy: Fixed, FixedSize: 1}, false},
		{"fixed too large", Config{Strategy: Fixed, FixedSize: MaxFixedSize + 1}, false},
		{"valid cdc", Config{Strategy: ContentDefined, MinSize: DefaultCDCMin, AvgSize: DefaultCDCAvg, MaxSize: DefaultCDCMax}, true},
		{"cdc bad ordering", Config{Strategy: ContentDefined, MinSize: 100, AvgSize: 50, MaxSize: 200}, false},
	}

	for _, c := range cases {
		err := c.cfg.Validate()
		if c.ok && err != nil {
			t.Errorf("%s: expected valid, got error %v", c.name, err)
		}
		if !c.ok && err == nil {
			t.Errorf("%s: expected error, got nil", c.name)
		}
	}
}

type errorReader struct {
	err error
}

func (r errorReader) Read(p []byte) (int, error) {
	return 0, r.err
}

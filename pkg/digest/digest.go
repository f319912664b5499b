// Package digest implements the 256-bit content digest used throughout
// duskvault: chunk identity, file identity, and manifest identity all
// reduce to a Digest.
package digest

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"lukechampine.com/blake3"
)

// Size is the length in bytes of a Digest (BLAKE3-256).
const Size = 32

// Digest is an opaque 256-bit content identifier. Equality and
// ordering are defined over the raw bytes; the canonical textual form
// is lowercase hex, always 64 characters.
type Digest [Size]byte

// Zero is the all-zero digest, used as a sentinel for "no digest yet".
var Zero Digest

// String returns the canonical lowercase hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Bytes returns a copy of the raw digest bytes.
func (d Digest) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, d[:])
	return out
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Zero
}

// Equal reports whether two digests hold the same bytes.
func (d Digest) Equal(other Digest) bool {
	return bytes.Equal(d[:], other[:])
}

// Compare orders two digests by their raw bytes, for use in sorted
// chunk lists and deterministic test fixtures.
func (d Digest) Compare(other Digest) int {
	return bytes.Compare(d[:], other[:])
}

// Parse decodes a canonical 64-character hex string into a Digest.
func Parse(s string) (Digest, error) {
	if len(s) != Size*2 {
		return Digest{}, fmt.Errorf("digest: invalid length %d, want %d", len(s), Size*2)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("digest: invalid hex: %w", err)
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// FromBytes builds a Digest from a raw 32-byte slice, copying it.
func FromBytes(raw []byte) (Digest, error) {
	if len(raw) != Size {
		return Digest{}, fmt.Errorf("digest: invalid byte length %d, want %d", len(raw), Size)
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// Bytes hashes a byte buffer and returns its Digest. Pure and
// deterministic: the same bytes always produce the same Digest.
func Bytes(buf []byte) Digest {
	return Digest(blake3.Sum256(buf))
}

// Reader streams r and returns its Digest, using bounded memory
// regardless of the size of r. Fails only on I/O error from r.
func Reader(r io.Reader) (Digest, error) {
	h := blake3.New(Size, nil)
	if _, err := io.Copy(h, r); err != nil {
		return Digest{}, fmt.Errorf("digest: read failed: %w", err)
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// File opens path and returns its Digest, a convenience over Reader
// for callers that only have a path.
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, fmt.Errorf("digest: open failed: %w", err)
	}
	defer f.Close()
	return Reader(f)
}

// Hasher accumulates bytes incrementally and produces a Digest on
// Finalize. The zero value is not usable; use NewIncremental.
type Hasher struct {
	h *blake3.Hasher
}

// NewIncremental returns a fresh incremental Hasher.
func NewIncremental() *Hasher {
	return &Hasher{h: blake3.New(Size, nil)}
}

// Update folds buf into the running hash state.
func (h *Hasher) Update(buf []byte) {
	h.h.Write(buf)
}

// Finalize returns the Digest of everything written so far. The
// Hasher remains usable for further Update/Finalize calls, matching
// blake3.Hasher's semantics.
func (h *Hasher) Finalize() Digest {
	var d Digest
	copy(d[:], h.h.Sum(nil))
	return d
}

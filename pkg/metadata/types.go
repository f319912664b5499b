package metadata

import (
	"time"

	"github.com/duskvault/duskvault/pkg/digest"
	"github.com/google/uuid"
)

// EncryptionMode discriminates how a FileRecord's path field is
// stored, so legacy plaintext rows can coexist with encrypted ones
// during migration.
type EncryptionMode int

const (
	// EncryptionNone stores path as plaintext.
	EncryptionNone EncryptionMode = iota
	// EncryptionAEAD stores path as AEAD ciphertext plus a nonce.
	EncryptionAEAD
)

// Snapshot is one completed backup run.
type Snapshot struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
	TotalFiles  uint64
	TotalBytes  uint64
}

// FileRecord is one file captured by a Snapshot.
type FileRecord struct {
	ID             uuid.UUID
	SnapshotID     uuid.UUID
	Path           string
	Size           uint64
	ModifiedAt     time.Time
	FileDigest     digest.Digest
	ChunkList      []digest.Digest
	ChunkSizes     []uint64
	EncryptionMode EncryptionMode
	PathNonce      []byte
}

// ChunkMeta is the bookkeeping row for one chunk digest: how many
// live FileRecords reference it, and when it was last touched.
type ChunkMeta struct {
	Digest       digest.Digest
	Size         uint64
	FirstSeenAt  time.Time
	RefCount     uint64
	LastAccessAt time.Time
}

// Stats aggregates totals across every snapshot and chunk row.
type Stats struct {
	SnapshotCount uint64
	FileCount     uint64
	ChunkCount    uint64
	TotalBytes    uint64
}

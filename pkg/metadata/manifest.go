package metadata

import (
	"github.com/google/uuid"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/codec/cborcanon"
)

// Manifest is a portable, canonically-encoded snapshot: the Snapshot
// row plus every FileRecord it owns, chunk lists included. It carries
// a snapshot's shape without the SQL database — e.g. a manifest
// shipped alongside a snapshot's chunks to a second store, which loads
// it with ImportManifest. `verify --export-manifest` writes one; verify
// and restore themselves read the metadata database, not a Manifest.
type Manifest struct {
	Snapshot Snapshot
	Files    []FileRecord
}

// ExportManifest builds a Manifest for a snapshot from its current
// database rows and encodes it with the same canonical CBOR encoding
// the transfer handshake uses, so the bytes are deterministic across
// runs for an unchanged snapshot.
func (s *Store) ExportManifest(snapshotID uuid.UUID) ([]byte, error) {
	snap, err := s.GetSnapshot(snapshotID)
	if err != nil {
		return nil, err
	}

	files, err := s.ListFiles(snapshotID)
	if err != nil {
		return nil, err
	}
	for i, f := range files {
		chunks, err := s.chunkList(f.ID)
		if err != nil {
			return nil, err
		}
		files[i].ChunkList = chunks
	}

	data, err := cborcanon.Marshal(Manifest{Snapshot: snap, Files: files})
	if err != nil {
		return nil, apperr.New(apperr.KindProtocolError, "export manifest: encode", err)
	}
	return data, nil
}

// ImportManifest decodes a Manifest produced by ExportManifest and
// inserts its snapshot and file records as new rows, returning the
// inserted Snapshot. Chunk rows referenced by the manifest's
// FileRecords must already exist in the destination's content store;
// ImportManifest only registers the metadata side of the relationship,
// the same way InsertFile does for a locally-produced snapshot.
func (s *Store) ImportManifest(data []byte) (Snapshot, error) {
	var m Manifest
	if err := cborcanon.Unmarshal(data, &m); err != nil {
		return Snapshot{}, apperr.New(apperr.KindProtocolError, "import manifest: decode", err)
	}

	snap, err := s.CreateSnapshot(m.Snapshot.Name, m.Snapshot.Description)
	if err != nil {
		return Snapshot{}, err
	}

	for _, f := range m.Files {
		f.ID = uuid.Nil
		f.SnapshotID = snap.ID
		if _, err := s.InsertFile(f); err != nil {
			return Snapshot{}, err
		}
	}

	return s.GetSnapshot(snap.ID)
}

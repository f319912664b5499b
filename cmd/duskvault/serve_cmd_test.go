package main

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/duskvault/duskvault/pkg/digest"
	"github.com/duskvault/duskvault/pkg/metadata"
	"github.com/duskvault/duskvault/pkg/store"
	"github.com/duskvault/duskvault/pkg/transfer"
)

func newTestStoresForSink(t *testing.T) (*store.Store, *metadata.Store) {
	t.Helper()
	dir := t.TempDir()

	chunks, err := store.Open(filepath.Join(dir, "content"), nil)
	if err != nil {
		t.Fatalf("open content store: %v", err)
	}
	t.Cleanup(func() { chunks.Close() })

	meta, err := metadata.Open(filepath.Join(dir, "metadata.db"), nil)
	if err != nil {
		t.Fatalf("open metadata store: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	return chunks, meta
}

func TestChunkSinkPersistsChunksAndFileRecord(t *testing.T) {
	chunks, meta := newTestStoresForSink(t)

	snap, err := meta.CreateSnapshot("incoming", "")
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}

	first := []byte("hello ")
	second := []byte("world")
	content := append(append([]byte{}, first...), second...)
	wantDigest := digest.Bytes(content)

	sink := newChunkSink(chunks, meta, snap.ID, transfer.IncomingFile{
		Path: "greeting.txt",
		Size: uint64(len(content)),
	})

	if err := sink.WriteChunk(uint64(len(first)), second); err != nil {
		t.Fatalf("write second chunk out of order: %v", err)
	}
	if err := sink.WriteChunk(0, first); err != nil {
		t.Fatalf("write first chunk: %v", err)
	}
	if err := sink.Finalize(uint64(len(content)), wantDigest); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	files, err := meta.ListFiles(snap.ID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected 1 file record, got %d", len(files))
	}
	rec, err := meta.GetFile(files[0].ID)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if rec.Path != "greeting.txt" {
		t.Fatalf("unexpected path %q", rec.Path)
	}
	if rec.FileDigest != wantDigest {
		t.Fatalf("file digest mismatch")
	}
	if len(rec.ChunkList) != 2 {
		t.Fatalf("expected 2 chunks recorded, got %d", len(rec.ChunkList))
	}

	for _, d := range rec.ChunkList {
		if ok, err := chunks.Exists(d); err != nil || !ok {
			t.Fatalf("chunk %s missing from content store: ok=%v err=%v", d, ok, err)
		}
	}
}

func TestChunkSinkResumeOffsetIsAlwaysZero(t *testing.T) {
	chunks, meta := newTestStoresForSink(t)
	sink := newChunkSink(chunks, meta, uuid.New(), transfer.IncomingFile{Path: "f"})

	offset, err := sink.ResumeOffset()
	if err != nil {
		t.Fatalf("resume offset: %v", err)
	}
	if offset != 0 {
		t.Fatalf("expected resume offset 0, got %d", offset)
	}
}

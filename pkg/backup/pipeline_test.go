package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/duskvault/duskvault/pkg/chunk"
	"github.com/duskvault/duskvault/pkg/collaborator"
	"github.com/duskvault/duskvault/pkg/metadata"
	"github.com/duskvault/duskvault/pkg/store"
)

func newTestStores(t *testing.T) (*store.Store, *metadata.Store) {
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

func writeSourceTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"a.txt":         "hello world",
		"nested/b.txt":  "the quick brown fox jumps over the lazy dog",
		"nested/c.bin":  string(make([]byte, 4096)),
	}
	for rel, content := range files {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	return root
}

func TestRunBacksUpEveryFile(t *testing.T) {
	chunks, meta := newTestStores(t)
	source := writeSourceTree(t)

	p := New(chunks, meta, nil, nil)
	opts := Options{Chunking: chunk.Config{Strategy: chunk.Fixed, FixedSize: chunk.MinFixedSize}}

	result, err := p.Run(context.Background(), source, "nightly", opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got errors: %+v", result.Errors)
	}
	if result.FilesProcessed != 3 {
		t.Fatalf("expected 3 files processed, got %d", result.FilesProcessed)
	}

	snaps, err := meta.ListSnapshots()
	if err != nil {
		t.Fatalf("list snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].TotalFiles != 3 {
		t.Fatalf("expected snapshot to record 3 files, got %d", snaps[0].TotalFiles)
	}

	files, err := meta.ListFiles(snaps[0].ID)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	for _, listed := range files {
		f, err := meta.GetFile(listed.ID)
		if err != nil {
			t.Fatalf("get file: %v", err)
		}
		for _, d := range f.ChunkList {
			ok, err := chunks.Exists(d)
			if err != nil {
				t.Fatalf("exists: %v", err)
			}
			if !ok {
				t.Fatalf("chunk %s referenced by file %s is missing from content store", d, f.Path)
			}
		}
	}
}

func TestRunRejectsInvalidChunkConfig(t *testing.T) {
	chunks, meta := newTestStores(t)
	source := writeSourceTree(t)

	p := New(chunks, meta, nil, nil)
	opts := Options{Chunking: chunk.Config{Strategy: chunk.Fixed, FixedSize: 1}}

	if _, err := p.Run(context.Background(), source, "bad", opts); err == nil {
		t.Fatalf("expected an error for an out-of-range fixed chunk size")
	}
}

func TestRunRecordsPerFileErrorsWithoutAbortingWalk(t *testing.T) {
	chunks, meta := newTestStores(t)
	source := writeSourceTree(t)

	// Remove read permission on one file so it fails to open, while the
	// others should still back up successfully.
	unreadable := filepath.Join(source, "a.txt")
	if err := os.Chmod(unreadable, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	defer os.Chmod(unreadable, 0o644)

	if os.Geteuid() == 0 {
		t.Skip("running as root, file permissions are not enforced")
	}

	p := New(chunks, meta, nil, nil)
	opts := Options{Chunking: chunk.Config{Strategy: chunk.Fixed, FixedSize: chunk.MinFixedSize}}

	result, err := p.Run(context.Background(), source, "partial", opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Success {
		t.Fatalf("expected Success=false when a file could not be read")
	}
	if result.FilesProcessed != 2 {
		t.Fatalf("expected the other 2 files to still be processed, got %d", result.FilesProcessed)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected exactly 1 recorded error, got %+v", result.Errors)
	}
}

func TestRunWithEncryptionIsSearchable(t *testing.T) {
	chunks, meta := newTestStores(t)
	source := writeSourceTree(t)

	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcde"))
	keys := collaborator.NewStaticKeyProvider(key)
	encrypted := store.NewEncryptedStore(chunks, keys)

	p := New(encrypted, meta, nil, nil)
	opts := Options{
		Chunking:    chunk.Config{Strategy: chunk.Fixed, FixedSize: chunk.MinFixedSize},
		KeyProvider: keys,
	}

	result, err := p.Run(context.Background(), source, "encrypted", opts)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got errors: %+v", result.Errors)
	}

	matches, err := meta.SearchFiles(keys, "nested")
	if err != nil {
		t.Fatalf("search files: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 files under nested/, got %d: %+v", len(matches), matches)
	}

	for _, rec := range matches {
		for _, d := range rec.ChunkList {
			plain, err := encrypted.Get(d)
			if err != nil {
				t.Fatalf("get encrypted chunk: %v", err)
			}
			if len(plain) == 0 && rec.Size > 0 {
				t.Fatalf("expected non-empty plaintext for %s", rec.Path)
			}
		}
	}
}

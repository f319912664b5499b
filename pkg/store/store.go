// Package store implements the content-addressed chunk store: a
// fan-out directory layout on disk, an index mapping digests to
// paths, atomic writes, and garbage collection.
package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/digest"
	"github.com/sirupsen/logrus"
)

// MaxChunkSize is the largest buffer Put will accept.
const MaxChunkSize = 64 * 1024 * 1024

// Stats reports aggregate totals across the store.
type Stats struct {
	Count      uint64
	TotalBytes uint64
}

// Store is a content-addressed chunk store rooted at a directory.
// All exported methods are safe for concurrent use.
type Store struct {
	root string
	log  *logrus.Entry

	mu     sync.RWMutex
	index  map[digest.Digest]string // digest -> relative path
	sizes  map[digest.Digest]int64
	closed bool
}

// Open loads (or initializes) a Store rooted at dir. dir/storage/chunks
// holds chunk files; dir/storage/index.txt holds the persisted
// digest->path index.
func Open(dir string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := os.MkdirAll(filepath.Join(dir, "storage", "chunks"), 0o755); err != nil {
		return nil, apperr.New(apperr.KindIoFailed, "create storage directory", err)
	}

	s := &Store{
		root:  dir,
		log:   log.WithField("component", "store"),
		index: make(map[digest.Digest]string),
		sizes: make(map[digest.Digest]int64),
	}

	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// relPath returns the two-level fan-out path for d: the first byte of
// the hex digest as a directory, then the remaining 62 hex characters
// as the filename (storage/chunks/<hex[0:2]>/<hex[2:64]>).
func relPath(d digest.Digest) string {
	hexStr := d.String()
	return filepath.Join("storage", "chunks", hexStr[:2], hexStr[2:])
}

// Put stores buf, idempotent under its content digest, and returns
// that digest. Concurrent Puts of the same bytes race to one winner;
// the other callers discard their tempfile and observe the existing
// file.
func (s *Store) Put(buf []byte) (digest.Digest, error) {
	if len(buf) == 0 {
		return digest.Digest{}, apperr.New(apperr.KindInvalidInput, "put: empty buffer", nil)
	}
	if len(buf) > MaxChunkSize {
		return digest.Digest{}, apperr.New(apperr.KindInvalidInput, "put: buffer exceeds max chunk size", nil)
	}

	d := digest.Bytes(buf)

	s.mu.RLock()
	closed := s.closed
	_, exists := s.index[d]
	s.mu.RUnlock()
	if closed {
		return digest.Digest{}, apperr.New(apperr.KindClosed, "put on closed store", nil)
	}
	if exists {
		return d, nil
	}

	rel := relPath(d)
	full := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return digest.Digest{}, apperr.New(apperr.KindIoFailed, "put: mkdir", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return digest.Digest{}, apperr.New(apperr.KindIoFailed, "put: create tempfile", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return digest.Digest{}, apperr.New(apperr.KindIoFailed, "put: write tempfile", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return digest.Digest{}, apperr.New(apperr.KindIoFailed, "put: sync tempfile", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return digest.Digest{}, apperr.New(apperr.KindIoFailed, "put: close tempfile", err)
	}

	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		if _, statErr := os.Stat(full); statErr == nil {
			s.mu.Lock()
			s.index[d] = rel
			s.sizes[d] = int64(len(buf))
			s.mu.Unlock()
			return d, nil
		}
		return digest.Digest{}, apperr.New(apperr.KindIoFailed, "put: rename tempfile", err)
	}

	s.mu.Lock()
	s.index[d] = rel
	s.sizes[d] = int64(len(buf))
	s.mu.Unlock()

	if err := s.appendIndexEntry(d, rel, int64(len(buf))); err != nil {
		s.log.WithError(err).Warn("index append failed after successful write")
	}

	return d, nil
}

// Get returns the bytes stored under d, rehashing them before return
// and failing IntegrityFailed on mismatch, never recovering silently.
func (s *Store) Get(d digest.Digest) ([]byte, error) {
	s.mu.RLock()
	closed := s.closed
	rel, ok := s.index[d]
	s.mu.RUnlock()
	if closed {
		return nil, apperr.New(apperr.KindClosed, "get on closed store", nil)
	}
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "get: digest not found", nil)
	}

	buf, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.New(apperr.KindNotFound, "get: chunk file missing from disk", err)
		}
		return nil, apperr.New(apperr.KindIoFailed, "get: read chunk file", err)
	}

	if digest.Bytes(buf) != d {
		return nil, apperr.New(apperr.KindIntegrityFailed, "get: digest mismatch on read", nil)
	}
	return buf, nil
}

// Exists reports whether d is present, an O(1) index lookup.
func (s *Store) Exists(d digest.Digest) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, apperr.New(apperr.KindClosed, "exists on closed store", nil)
	}
	_, ok := s.index[d]
	return ok, nil
}

// Count returns the current number of distinct chunks.
func (s *Store) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, apperr.New(apperr.KindClosed, "count on closed store", nil)
	}
	return uint64(len(s.index)), nil
}

// Stats returns cardinality and aggregate size.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Stats{}, apperr.New(apperr.KindClosed, "stats on closed store", nil)
	}
	var total uint64
	for _, sz := range s.sizes {
		total += uint64(sz)
	}
	return Stats{Count: uint64(len(s.index)), TotalBytes: total}, nil
}

// GC removes every chunk not present in liveSet and returns the count
// removed. The caller is responsible for liveSet being a valid
// superset of the reachable set at some linearisation point: typically
// a snapshot read inside one metadata store transaction.
func (s *Store) GC(liveSet map[digest.Digest]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, apperr.New(apperr.KindClosed, "gc on closed store", nil)
	}

	removed := 0
	for d, rel := range s.index {
		if _, live := liveSet[d]; live {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, rel)); err != nil && !os.IsNotExist(err) {
			return removed, apperr.New(apperr.KindIoFailed, "gc: remove chunk file", err)
		}
		delete(s.index, d)
		delete(s.sizes, d)
		removed++
	}

	if err := s.rewriteIndex(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Close marks the store closed; subsequent operations fail with
// Closed. Nothing is flushed: Put appends each new entry to the index
// file as it goes, and GC rewrites it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return nil
}

// indexPath is the path to the persisted digest->path index file,
// storage/index.txt.
func (s *Store) indexPath() string {
	return filepath.Join(s.root, "storage", "index.txt")
}

// loadIndex rebuilds the in-memory index from the on-disk index file,
// tolerating a missing file (fresh store). Chunk sizes are recovered
// by stat'ing each referenced file, since the index text format
// carries only digest and path.
func (s *Store) loadIndex() error {
	entries, err := readIndexFile(s.indexPath())
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.index[e.digest] = e.path
		if fi, statErr := os.Stat(filepath.Join(s.root, e.path)); statErr == nil {
			s.sizes[e.digest] = fi.Size()
		}
	}
	return nil
}

// appendIndexEntry appends one line to the on-disk index, the cheap
// path for the common case of a single new chunk.
func (s *Store) appendIndexEntry(d digest.Digest, rel string, size int64) error {
	f, err := os.OpenFile(s.indexPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperr.New(apperr.KindIoFailed, "open index file for append", err)
	}
	defer f.Close()
	return writeIndexLine(f, indexEntry{digest: d, path: rel})
}

// rewriteIndex regenerates the on-disk index file from the current
// in-memory map, used after GC removes entries.
func (s *Store) rewriteIndex() error {
	tmp, err := os.CreateTemp(filepath.Join(s.root, "storage"), ".index-*")
	if err != nil {
		return apperr.New(apperr.KindIoFailed, "rewrite index: create tempfile", err)
	}
	tmpName := tmp.Name()

	for d, rel := range s.index {
		if err := writeIndexLine(tmp, indexEntry{digest: d, path: rel}); err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return apperr.New(apperr.KindIoFailed, "rewrite index: write line", err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperr.New(apperr.KindIoFailed, "rewrite index: close tempfile", err)
	}
	if err := os.Rename(tmpName, s.indexPath()); err != nil {
		os.Remove(tmpName)
		return apperr.New(apperr.KindIoFailed, "rewrite index: rename tempfile", err)
	}
	return nil
}

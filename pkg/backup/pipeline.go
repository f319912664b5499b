package backup

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/chunk"
	"github.com/duskvault/duskvault/pkg/collaborator"
	"github.com/duskvault/duskvault/pkg/digest"
	"github.com/duskvault/duskvault/pkg/metadata"
	"github.com/duskvault/duskvault/pkg/store"
)

// Pipeline runs BackupPipeline: it creates a Snapshot, walks a source
// tree with a bounded pool of workers, and for each regular file
// chunks it, writes each chunk to a ContentStore, and records the
// resulting FileRecord in a MetadataStore.
type Pipeline struct {
	chunks store.ChunkStore
	meta   *metadata.Store
	clock  collaborator.Clock
	log    collaborator.Logger
}

// New builds a Pipeline over a content store and a metadata store.
// clock and log may be nil, in which case collaborator.SystemClock and
// collaborator.NewDefaultLogger("info") are used.
func New(chunks store.ChunkStore, meta *metadata.Store, clock collaborator.Clock, log collaborator.Logger) *Pipeline {
	if clock == nil {
		clock = collaborator.SystemClock{}
	}
	return &Pipeline{chunks: chunks, meta: meta, clock: clock, log: log}
}

// Run walks sourceDir and backs every regular file under it up into a
// new Snapshot named name. Per-file failures are recorded into the
// returned Result and do not abort the walk; only a failure that
// prevents the walk itself from proceeding (the snapshot cannot be
// created, or sourceDir cannot be opened) aborts the run and, if the
// snapshot row was already created, removes it via DeleteSnapshot.
func (p *Pipeline) Run(ctx context.Context, sourceDir, name string, opts Options) (Result, error) {
	if err := opts.Chunking.Validate(); err != nil {
		return Result{}, err
	}

	snap, err := p.meta.CreateSnapshot(name, "")
	if err != nil {
		return Result{}, apperr.New(apperr.KindIoFailed, "backup: create snapshot", err)
	}

	entries, err := collectFiles(sourceDir)
	if err != nil {
		_ = p.meta.DeleteSnapshot(snap.ID)
		return Result{}, apperr.New(apperr.KindIoFailed, "backup: walk source", err)
	}

	var (
		mu     sync.Mutex
		result Result
	)
	result.Success = true

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(opts.concurrency())

	for _, entry := range entries {
		entry := entry
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			bytesWritten, err := p.backupFileWithRetry(snap.ID, sourceDir, entry, opts)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Success = false
				result.Errors = append(result.Errors, FileError{
					Path:    entry,
					Kind:    string(kindOf(err)),
					Message: err.Error(),
				})
				return nil
			}
			result.FilesProcessed++
			result.Bytes += bytesWritten
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		_ = p.meta.DeleteSnapshot(snap.ID)
		return Result{}, apperr.New(apperr.KindIoFailed, "backup: walk aborted", err)
	}

	p.logger().WithField("snapshot", snap.ID.String()).WithField("files", result.FilesProcessed).Info("backup run complete")
	return result, nil
}

// backupFileWithRetry backs up one file, retrying exactly once on a
// recoverable IoFailed error, per the at-most-once file-level retry
// policy.
func (p *Pipeline) backupFileWithRetry(snapshotID uuid.UUID, sourceDir, relPath string, opts Options) (uint64, error) {
	bytesWritten, err := p.backupFile(snapshotID, sourceDir, relPath, opts)
	if err == nil {
		return bytesWritten, nil
	}
	if !apperr.OfKind(err, apperr.KindIoFailed) {
		return 0, err
	}
	return p.backupFile(snapshotID, sourceDir, relPath, opts)
}

func (p *Pipeline) backupFile(snapshotID uuid.UUID, sourceDir, relPath string, opts Options) (uint64, error) {
	fullPath := filepath.Join(sourceDir, relPath)
	info, err := os.Stat(fullPath)
	if err != nil {
		return 0, apperr.New(apperr.KindIoFailed, "backup file: stat", err)
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return 0, apperr.New(apperr.KindIoFailed, "backup file: open", err)
	}
	defer f.Close()

	chunker := chunk.New(f, opts.Chunking)
	hasher := digest.NewIncremental()

	var chunkList []digest.Digest
	var chunkSizes []uint64
	var total uint64

	for {
		c, err := chunker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, apperr.New(apperr.KindIoFailed, "backup file: chunk", err)
		}

		stored, err := p.chunks.Put(c.Data)
		if err != nil {
			return 0, apperr.New(apperr.KindIoFailed, "backup file: store chunk", err)
		}

		hasher.Update(c.Data)
		chunkList = append(chunkList, stored)
		chunkSizes = append(chunkSizes, uint64(c.Size))
		total += uint64(c.Size)
	}

	rec := metadata.FileRecord{
		SnapshotID: snapshotID,
		Path:       relPath,
		Size:       total,
		ModifiedAt: info.ModTime(),
		FileDigest: hasher.Finalize(),
		ChunkList:  chunkList,
		ChunkSizes: chunkSizes,
	}
	inserted, err := p.meta.InsertFile(rec)
	if err != nil {
		return 0, apperr.New(apperr.KindIoFailed, "backup file: insert metadata", err)
	}

	if opts.KeyProvider != nil {
		if err := p.meta.IndexFile(opts.KeyProvider, inserted.ID, relPath); err != nil {
			return 0, apperr.New(apperr.KindIoFailed, "backup file: index", err)
		}
	}

	return total, nil
}

// kindOf extracts the apperr.Kind from err, or "" if err is not an
// *apperr.Error, for populating a FileError.
func kindOf(err error) apperr.Kind {
	var appErr *apperr.Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

func (p *Pipeline) logger() collaborator.Logger {
	if p.log != nil {
		return p.log
	}
	return collaborator.NewDefaultLogger("info")
}

// collectFiles returns every regular file under sourceDir, as paths
// relative to sourceDir, walked depth-first.
func collectFiles(sourceDir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(sourceDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

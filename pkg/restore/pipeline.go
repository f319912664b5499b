package restore

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/collaborator"
	"github.com/duskvault/duskvault/pkg/digest"
	"github.com/duskvault/duskvault/pkg/metadata"
	"github.com/duskvault/duskvault/pkg/store"
)

// Pipeline runs RestorePipeline: it streams a Snapshot's files from a
// MetadataStore, resolves each one's chunk list against a
// ChunkStore, and writes the reassembled bytes under a target
// directory.
type Pipeline struct {
	chunks store.ChunkStore
	meta   *metadata.Store
	log    collaborator.Logger
}

// New builds a Pipeline over a content store and a metadata store.
func New(chunks store.ChunkStore, meta *metadata.Store, log collaborator.Logger) *Pipeline {
	return &Pipeline{chunks: chunks, meta: meta, log: log}
}

// Run restores every file recorded under snapshotID to targetDir.
func (p *Pipeline) Run(snapshotID uuid.UUID, targetDir string, opts Options) (Result, error) {
	files, err := p.meta.ListFiles(snapshotID)
	if err != nil {
		return Result{}, apperr.New(apperr.KindIoFailed, "restore: list files", err)
	}

	var (
		mu     sync.Mutex
		result Result
		abort  bool
	)
	result.Success = true

	group := &errgroup.Group{}
	group.SetLimit(opts.concurrency())

	for _, rec := range files {
		rec := rec
		group.Go(func() error {
			mu.Lock()
			if abort {
				mu.Unlock()
				return nil
			}
			mu.Unlock()

			outcome, bytesWritten, err := p.restoreFile(targetDir, rec, opts)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Success = false
				result.Errors = append(result.Errors, FileError{
					Path:    rec.Path,
					Kind:    string(kindOf(err)),
					Message: err.Error(),
				})
				if opts.VerifyDigest && opts.OnIntegrityError == AbortOnIntegrityError && apperr.OfKind(err, apperr.KindIntegrityFailed) {
					abort = true
				}
				return nil
			}
			switch outcome {
			case Restored:
				result.FilesRestored++
				result.Bytes += bytesWritten
			case Skipped:
				result.FilesSkipped++
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return Result{}, apperr.New(apperr.KindIoFailed, "restore: walk aborted", err)
	}
	if p.log != nil {
		p.log.WithField("snapshot", snapshotID.String()).
			WithField("restored", result.FilesRestored).
			WithField("skipped", result.FilesSkipped).
			Info("restore run complete")
	}
	return result, nil
}

func (p *Pipeline) restoreFile(targetDir string, rec metadata.FileRecord, opts Options) (FileOutcome, uint64, error) {
	target := filepath.Join(targetDir, rec.Path)

	if !opts.OverwriteExisting {
		if _, err := os.Stat(target); err == nil {
			return Skipped, 0, nil
		} else if !os.IsNotExist(err) {
			return 0, 0, apperr.New(apperr.KindIoFailed, "restore file: stat target", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, 0, apperr.New(apperr.KindIoFailed, "restore file: create parent dir", err)
	}

	full, err := p.meta.GetFile(rec.ID)
	if err != nil {
		return 0, 0, apperr.New(apperr.KindIoFailed, "restore file: load chunk list", err)
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, 0, apperr.New(apperr.KindIoFailed, "restore file: open target", err)
	}
	defer f.Close()

	hasher := digest.NewIncremental()
	var total uint64
	for _, d := range full.ChunkList {
		data, err := p.chunks.Get(d)
		if err != nil {
			return 0, 0, apperr.New(apperr.KindIoFailed, "restore file: get chunk", err)
		}
		if _, err := f.Write(data); err != nil {
			return 0, 0, apperr.New(apperr.KindIoFailed, "restore file: write", err)
		}
		if opts.VerifyDigest {
			hasher.Update(data)
		}
		total += uint64(len(data))
	}

	if opts.VerifyDigest {
		if got := hasher.Finalize(); !got.Equal(rec.FileDigest) {
			return 0, 0, apperr.New(apperr.KindIntegrityFailed, "restore file: digest mismatch", nil)
		}
	}

	if opts.PreserveAttributes {
		if err := os.Chtimes(target, rec.ModifiedAt, rec.ModifiedAt); err != nil {
			return 0, 0, apperr.New(apperr.KindIoFailed, "restore file: chtimes", err)
		}
	}

	return Restored, total, nil
}

func kindOf(err error) apperr.Kind {
	var appErr *apperr.Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

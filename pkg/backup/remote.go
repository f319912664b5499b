package backup

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/chunk"
	"github.com/duskvault/duskvault/pkg/digest"
	"github.com/duskvault/duskvault/pkg/transfer"
)

// RunRemote walks sourceDir exactly as Run does, but instead of
// writing chunks to a local ContentStore and MetadataStore, it pushes
// each file to the peer on the other end of session via
// transfer.Session.SendFile. The peer's server side is expected to run
// the local algorithm itself on receipt, so no local Snapshot or
// FileRecord is created here. Every file is cut into fixed-size chunks
// of opts.Chunking.FixedSize bytes (chunk.DefaultFixedSize when unset);
// opts.Chunking.Strategy is not consulted, so content-defined chunking
// is not used for remote sends.
func RunRemote(session *transfer.Session, sourceDir string, opts Options) (Result, error) {
	entries, err := collectFiles(sourceDir)
	if err != nil {
		return Result{}, apperr.New(apperr.KindIoFailed, "remote backup: walk source", err)
	}

	var result Result
	result.Success = true

	for _, rel := range entries {
		bytesSent, err := sendFileRemote(session, sourceDir, rel, opts.Chunking)
		if err != nil {
			result.Success = false
			result.Errors = append(result.Errors, FileError{
				Path:    rel,
				Kind:    string(kindOf(err)),
				Message: err.Error(),
			})
			continue
		}
		result.FilesProcessed++
		result.Bytes += bytesSent
	}
	return result, nil
}

func sendFileRemote(session *transfer.Session, sourceDir, rel string, cfg chunk.Config) (uint64, error) {
	fullPath := filepath.Join(sourceDir, rel)
	info, err := os.Stat(fullPath)
	if err != nil {
		return 0, apperr.New(apperr.KindIoFailed, "remote backup file: stat", err)
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return 0, apperr.New(apperr.KindIoFailed, "remote backup file: read", err)
	}
	fileDigest := digest.Bytes(content)

	chunkSize := cfg.FixedSize
	if chunkSize <= 0 {
		chunkSize = chunk.DefaultFixedSize
	}

	src := transfer.FileSource{
		Path:       rel,
		Size:       uint64(len(content)),
		Mtime:      uint64(info.ModTime().Unix()),
		FileDigest: fileDigest,
		ChunkSize:  uint32(chunkSize),
		Chunks:     remoteChunkSource(content, chunkSize),
	}
	if err := session.SendFile(src); err != nil {
		return 0, err
	}
	return uint64(len(content)), nil
}

// remoteChunkSource streams content through a chunker and adapts its
// Chunks into transfer.Chunks, honouring the resume offset the
// receiver reports once it has verified what it already holds.
func remoteChunkSource(content []byte, chunkSize int) func(uint64) (<-chan transfer.Chunk, <-chan error) {
	return func(resumeFrom uint64) (<-chan transfer.Chunk, <-chan error) {
		out := make(chan transfer.Chunk)
		errs := make(chan error, 1)
		go func() {
			defer close(out)
			if resumeFrom > uint64(len(content)) {
				errs <- apperr.New(apperr.KindProtocolError, "remote backup file: resume offset beyond file size", nil)
				return
			}
			chunker := chunk.New(bytes.NewReader(content[resumeFrom:]), chunk.Config{Strategy: chunk.Fixed, FixedSize: chunkSize})
			offset := resumeFrom
			for {
				c, err := chunker.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					errs <- err
					return
				}
				out <- transfer.Chunk{Offset: offset, Data: c.Data, Digest: c.Digest}
				offset += uint64(c.Size)
			}
			errs <- nil
		}()
		return out, errs
	}
}

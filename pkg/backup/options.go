// Package backup implements BackupPipeline: walking a source tree,
// chunking each regular file, storing and recording its chunks, and
// finalizing a Snapshot, either against a local ContentStore or
// across a transfer session to a remote peer.
package backup

import (
	"runtime"

	"github.com/duskvault/duskvault/pkg/chunk"
	"github.com/duskvault/duskvault/pkg/collaborator"
)

// Options parameterizes one backup run: chunking strategy,
// concurrency, and encryption.
type Options struct {
	// Chunking selects the fixed or content-defined strategy and its
	// size parameters, validated by chunk.Config.Validate.
	Chunking chunk.Config

	// Concurrency bounds how many files are walked and chunked in
	// parallel. Zero means runtime.NumCPU().
	Concurrency int

	// Remote is not read by Run or RunRemote: Run always writes to the
	// local stores it was built with, and RunRemote sends to the peer
	// of the session it is given.
	Remote string

	// KeyProvider, when set, turns on the encryption layer: the caller
	// is expected to have already wrapped its ContentStore in a
	// store.EncryptedStore keyed from the same provider, and
	// backupFile blind-indexes every inserted file's path through
	// KeyProvider so SearchFiles can find it later. Nil disables both.
	KeyProvider collaborator.KeyProvider
}

func (o Options) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return runtime.NumCPU()
}

// FileError records one file's failure without aborting the run, so
// a Result can report partial progress alongside its successes.
type FileError struct {
	Path    string
	Kind    string
	Message string
}

// Result is the outcome of one BackupPipeline run.
type Result struct {
	Success       bool
	FilesProcessed uint64
	Bytes          uint64
	Errors         []FileError
}

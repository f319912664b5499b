// Package restore implements RestorePipeline: resolving a Snapshot's
// files, reassembling each from its chunk list, and writing it back to
// a target directory.
package restore

import "runtime"

// IntegrityErrorPolicy selects what happens when a restored file's
// re-hash does not match its recorded file_digest.
type IntegrityErrorPolicy int

const (
	// ContinueOnIntegrityError fails only the offending file and keeps
	// restoring the rest of the snapshot.
	ContinueOnIntegrityError IntegrityErrorPolicy = iota
	// AbortOnIntegrityError stops the whole restore at the first
	// mismatch.
	AbortOnIntegrityError
)

// Options parameterizes one restore run.
type Options struct {
	// OverwriteExisting, when false, causes a file whose target path
	// already exists to be reported as skipped rather than an error.
	OverwriteExisting bool

	// VerifyDigest re-hashes each assembled file and compares it to
	// its recorded file_digest before the file is considered restored.
	VerifyDigest bool

	// OnIntegrityError governs what happens when VerifyDigest is set
	// and a mismatch is found.
	OnIntegrityError IntegrityErrorPolicy

	// PreserveAttributes, when set, applies the recorded mtime to each
	// restored file.
	PreserveAttributes bool

	// Concurrency bounds how many files are restored in parallel. Zero
	// means runtime.NumCPU().
	Concurrency int
}

func (o Options) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return runtime.NumCPU()
}

// FileError records one file's restore failure without aborting the
// run, mirroring backup.FileError.
type FileError struct {
	Path    string
	Kind    string
	Message string
}

// FileOutcome classifies what happened to one file in a restore run.
type FileOutcome int

const (
	// Restored means the file was written and, if requested, verified.
	Restored FileOutcome = iota
	// Skipped means the target already existed and OverwriteExisting
	// was false.
	Skipped
)

// Result is the outcome of one RestorePipeline run.
type Result struct {
	Success        bool
	FilesRestored  uint64
	FilesSkipped   uint64
	Bytes          uint64
	Errors         []FileError
}

// Package metadata is the transactional store of snapshots, files,
// file-to-chunk-list mappings, and chunk reference counts, backed by
// SQLite.
package metadata

import (
	"database/sql"

	"github.com/duskvault/duskvault/pkg/apperr"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// sqliteOptions centralizes the connection-string pragmas: foreign
// keys on (cascades rely on them), a full fsync per transaction so a
// crash never leaves the database in a state torn mid-commit, and an
// exclusive write lock at transaction start so concurrent writers
// block instead of racing to upgrade a read lock.
const sqliteOptions = "?_foreign_keys=1&_sync=FULL&_txlock=exclusive"

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	total_files  INTEGER NOT NULL DEFAULT 0,
	total_bytes  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS files (
	id              TEXT PRIMARY KEY,
	snapshot_id     TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
	path            TEXT NOT NULL,
	path_nonce      BLOB,
	encryption_mode INTEGER NOT NULL DEFAULT 0,
	size            INTEGER NOT NULL,
	modified_at     INTEGER NOT NULL,
	file_digest     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_snapshot ON files(snapshot_id);

CREATE TABLE IF NOT EXISTS file_chunks (
	file_id  TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	digest   TEXT NOT NULL,
	PRIMARY KEY (file_id, position)
);
CREATE INDEX IF NOT EXISTS idx_file_chunks_digest ON file_chunks(digest);

CREATE TABLE IF NOT EXISTS chunks (
	digest         TEXT PRIMARY KEY,
	size           INTEGER NOT NULL,
	first_seen_at  INTEGER NOT NULL,
	ref_count      INTEGER NOT NULL DEFAULT 0,
	last_access_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_keywords (
	file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	token   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_keywords_token ON file_keywords(token);
`

// Store is a single *sql.DB wrapping one metadata.db. Its pool is
// limited to one open connection, so reads and writes are serialized
// through it: readers do not run concurrently with each other or with
// a writer. Store adds no extra mutex of its own.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open creates or opens the metadata database at path and ensures its
// schema exists.
func Open(path string, log *logrus.Entry) (*Store, error) {
	db, err := sql.Open("sqlite3", path+sqliteOptions)
	if err != nil {
		return nil, apperr.New(apperr.KindIoFailed, "open metadata database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperr.New(apperr.KindIoFailed, "apply metadata schema", err)
	}

	return &Store{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return apperr.New(apperr.KindIoFailed, "close metadata database", err)
	}
	return nil
}

// Stats returns aggregate totals across snapshots, files, and chunks.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	row := s.db.QueryRow(`SELECT
		(SELECT COUNT(*) FROM snapshots),
		(SELECT COUNT(*) FROM files),
		(SELECT COUNT(*) FROM chunks),
		(SELECT COALESCE(SUM(total_bytes), 0) FROM snapshots)`)
	if err := row.Scan(&st.SnapshotCount, &st.FileCount, &st.ChunkCount, &st.TotalBytes); err != nil {
		return Stats{}, apperr.New(apperr.KindIoFailed, "query stats", err)
	}
	return st, nil
}

func wrapSQLErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return apperr.New(apperr.KindNotFound, op, err)
	}
	return apperr.New(apperr.KindIoFailed, op, err)
}

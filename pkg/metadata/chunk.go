package metadata

import (
	"database/sql"
	"time"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/digest"
)

// UpsertChunk increments ref_count on an existing chunk row or
// inserts a fresh one with ref_count 1.
func (s *Store) UpsertChunk(d digest.Digest, size uint64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrapSQLErr("upsert chunk: begin", err)
	}
	defer tx.Rollback()

	if err := upsertChunkTx(tx, d, size); err != nil {
		return err
	}
	return wrapSQLErr("upsert chunk: commit", tx.Commit())
}

func upsertChunkTx(tx *sql.Tx, d digest.Digest, size uint64) error {
	now := time.Now().UTC().UnixMilli()
	res, err := tx.Exec(`UPDATE chunks SET ref_count = ref_count + 1 WHERE digest = ?`, d.String())
	if err != nil {
		return wrapSQLErr("upsert chunk: update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapSQLErr("upsert chunk: rows affected", err)
	}
	if n > 0 {
		return nil
	}
	_, err = tx.Exec(
		`INSERT INTO chunks (digest, size, first_seen_at, ref_count, last_access_at) VALUES (?, ?, ?, 1, ?)`,
		d.String(), size, now, now,
	)
	return wrapSQLErr("upsert chunk: insert", err)
}

// DecrementChunk reduces a chunk's ref_count by one. The row is
// retained at ref_count 0, not deleted, so it remains visible to GC
// until a dedicated sweep removes it.
func (s *Store) DecrementChunk(d digest.Digest) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrapSQLErr("decrement chunk: begin", err)
	}
	defer tx.Rollback()

	if err := decrementChunkTx(tx, d); err != nil {
		return err
	}
	return wrapSQLErr("decrement chunk: commit", tx.Commit())
}

func decrementChunkTx(tx *sql.Tx, d digest.Digest) error {
	res, err := tx.Exec(
		`UPDATE chunks SET ref_count = ref_count - 1 WHERE digest = ? AND ref_count > 0`,
		d.String(),
	)
	if err != nil {
		return wrapSQLErr("decrement chunk", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapSQLErr("decrement chunk: rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "decrement chunk: not found or already zero", nil)
	}
	return nil
}

// decrementFileChunksTx decrements every chunk a file references,
// exactly once per file, as part of deleting that file or its owning
// snapshot.
func decrementFileChunksTx(tx *sql.Tx, fileID string) error {
	rows, err := tx.Query(`SELECT digest FROM file_chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return wrapSQLErr("decrement file chunks: list", err)
	}
	var digests []string
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			rows.Close()
			return wrapSQLErr("decrement file chunks: scan", err)
		}
		digests = append(digests, hex)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return wrapSQLErr("decrement file chunks: list", err)
	}

	for _, hex := range digests {
		d, err := digest.Parse(hex)
		if err != nil {
			return apperr.New(apperr.KindIntegrityFailed, "decrement file chunks: parse digest", err)
		}
		if err := decrementChunkTx(tx, d); err != nil {
			return err
		}
	}
	return nil
}

// RecordAccess stamps last_access_at on a chunk row.
func (s *Store) RecordAccess(d digest.Digest) error {
	now := time.Now().UTC().UnixMilli()
	res, err := s.db.Exec(`UPDATE chunks SET last_access_at = ? WHERE digest = ?`, now, d.String())
	if err != nil {
		return wrapSQLErr("record access", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapSQLErr("record access: rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "record access: chunk not found", nil)
	}
	return nil
}

// GetChunk fetches a chunk's bookkeeping row.
func (s *Store) GetChunk(d digest.Digest) (ChunkMeta, error) {
	row := s.db.QueryRow(
		`SELECT digest, size, first_seen_at, ref_count, last_access_at FROM chunks WHERE digest = ?`,
		d.String(),
	)
	return scanChunk(row)
}

// DeleteChunk removes a chunk row outright. Fails if ref_count > 0:
// live chunks are only made GC-eligible via DecrementChunk, never
// deleted directly while referenced.
func (s *Store) DeleteChunk(d digest.Digest) error {
	res, err := s.db.Exec(`DELETE FROM chunks WHERE digest = ? AND ref_count = 0`, d.String())
	if err != nil {
		return wrapSQLErr("delete chunk", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapSQLErr("delete chunk: rows affected", err)
	}
	if n == 0 {
		meta, getErr := s.GetChunk(d)
		if getErr == nil && meta.RefCount > 0 {
			return apperr.New(apperr.KindConflict, "delete chunk: still referenced", nil)
		}
		return apperr.New(apperr.KindNotFound, "delete chunk: not found", nil)
	}
	return nil
}

// LiveChunks returns the full set of digests with ref_count > 0, the
// live set a ContentStore.GC pass treats as reachable. The rows are
// read inside one transaction, so the set is consistent as of a single
// point; that transaction ends when LiveChunks returns, and a chunk
// upserted afterwards is not in the returned set.
func (s *Store) LiveChunks() (map[digest.Digest]struct{}, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, wrapSQLErr("live chunks: begin", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT digest FROM chunks WHERE ref_count > 0`)
	if err != nil {
		return nil, wrapSQLErr("live chunks: query", err)
	}
	defer rows.Close()

	live := make(map[digest.Digest]struct{})
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, wrapSQLErr("live chunks: scan", err)
		}
		d, err := digest.Parse(hex)
		if err != nil {
			return nil, apperr.New(apperr.KindIntegrityFailed, "live chunks: parse digest", err)
		}
		live[d] = struct{}{}
	}
	return live, wrapSQLErr("live chunks", rows.Err())
}

func scanChunk(row scannable) (ChunkMeta, error) {
	var meta ChunkMeta
	var hex string
	var firstSeenMs, lastAccessMs int64
	if err := row.Scan(&hex, &meta.Size, &firstSeenMs, &meta.RefCount, &lastAccessMs); err != nil {
		return ChunkMeta{}, wrapSQLErr("get chunk", err)
	}
	d, err := digest.Parse(hex)
	if err != nil {
		return ChunkMeta{}, apperr.New(apperr.KindIntegrityFailed, "parse chunk digest", err)
	}
	meta.Digest = d
	meta.FirstSeenAt = time.UnixMilli(firstSeenMs).UTC()
	meta.LastAccessAt = time.UnixMilli(lastAccessMs).UTC()
	return meta, nil
}

package metadata

import (
	"database/sql"
	"time"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/digest"
	"github.com/google/uuid"
)

// InsertFile writes a FileRecord, its ordered chunk list, and bumps
// each referenced chunk's ref_count, all inside one transaction, and
// rolls the file's size/count into its owning snapshot's totals.
func (s *Store) InsertFile(rec FileRecord) (FileRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return FileRecord{}, wrapSQLErr("insert file: begin", err)
	}
	defer tx.Rollback()

	if err := insertFileTx(tx, rec); err != nil {
		return FileRecord{}, err
	}

	if err := wrapSQLErr("insert file: commit", tx.Commit()); err != nil {
		return FileRecord{}, err
	}
	return rec, nil
}

func insertFileTx(tx *sql.Tx, rec FileRecord) error {
	_, err := tx.Exec(
		`INSERT INTO files (id, snapshot_id, path, path_nonce, encryption_mode, size, modified_at, file_digest)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.SnapshotID.String(), rec.Path, rec.PathNonce,
		int(rec.EncryptionMode), rec.Size, rec.ModifiedAt.UTC().UnixMilli(), rec.FileDigest.String(),
	)
	if err != nil {
		return wrapSQLErr("insert file", err)
	}

	for pos, d := range rec.ChunkList {
		if _, err := tx.Exec(
			`INSERT INTO file_chunks (file_id, position, digest) VALUES (?, ?, ?)`,
			rec.ID.String(), pos, d.String(),
		); err != nil {
			return wrapSQLErr("insert file: chunk list", err)
		}
		var size uint64
		if pos < len(rec.ChunkSizes) {
			size = rec.ChunkSizes[pos]
		}
		if err := upsertChunkTx(tx, d, size); err != nil {
			return err
		}
	}

	_, err = tx.Exec(
		`UPDATE snapshots SET total_files = total_files + 1, total_bytes = total_bytes + ? WHERE id = ?`,
		rec.Size, rec.SnapshotID.String(),
	)
	return wrapSQLErr("insert file: update snapshot totals", err)
}

// InsertFiles inserts a batch of FileRecords inside a single
// transaction, so a backup run's file set either lands atomically or
// not at all.
func (s *Store) InsertFiles(recs []FileRecord) ([]FileRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, wrapSQLErr("insert files: begin", err)
	}
	defer tx.Rollback()

	out := make([]FileRecord, len(recs))
	for i, rec := range recs {
		if rec.ID == uuid.Nil {
			rec.ID = uuid.New()
		}
		if err := insertFileTx(tx, rec); err != nil {
			return nil, err
		}
		out[i] = rec
	}

	if err := wrapSQLErr("insert files: commit", tx.Commit()); err != nil {
		return nil, err
	}
	return out, nil
}

// GetFile fetches one FileRecord, including its ordered chunk list.
func (s *Store) GetFile(id uuid.UUID) (FileRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, snapshot_id, path, path_nonce, encryption_mode, size, modified_at, file_digest
		 FROM files WHERE id = ?`,
		id.String(),
	)
	rec, err := scanFile(row)
	if err != nil {
		return FileRecord{}, err
	}

	chunks, err := s.chunkList(id)
	if err != nil {
		return FileRecord{}, err
	}
	rec.ChunkList = chunks
	return rec, nil
}

// ListFiles returns every FileRecord belonging to a snapshot, without
// loading their chunk lists (callers that need chunk lists fetch them
// through GetFile, since a listing is typically used for browsing).
func (s *Store) ListFiles(snapshotID uuid.UUID) ([]FileRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, snapshot_id, path, path_nonce, encryption_mode, size, modified_at, file_digest
		 FROM files WHERE snapshot_id = ? ORDER BY path`,
		snapshotID.String(),
	)
	if err != nil {
		return nil, wrapSQLErr("list files", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, wrapSQLErr("list files", rows.Err())
}

// UpdateFile replaces a FileRecord's path, nonce, and encryption mode
// in place. The chunk list and size are immutable once inserted — a
// changed file's content is represented as a new FileRecord in a new
// Snapshot, not an in-place content edit.
func (s *Store) UpdateFile(rec FileRecord) error {
	res, err := s.db.Exec(
		`UPDATE files SET path = ?, path_nonce = ?, encryption_mode = ? WHERE id = ?`,
		rec.Path, rec.PathNonce, int(rec.EncryptionMode), rec.ID.String(),
	)
	if err != nil {
		return wrapSQLErr("update file", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapSQLErr("update file: rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "update file: not found", nil)
	}
	return nil
}

// DeleteFile removes a FileRecord, decrements each chunk it
// referenced, and rolls its size/count back out of its snapshot's
// totals.
func (s *Store) DeleteFile(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrapSQLErr("delete file: begin", err)
	}
	defer tx.Rollback()

	var snapshotID string
	var size uint64
	err = tx.QueryRow(`SELECT snapshot_id, size FROM files WHERE id = ?`, id.String()).Scan(&snapshotID, &size)
	if err != nil {
		return wrapSQLErr("delete file: lookup", err)
	}

	if err := decrementFileChunksTx(tx, id.String()); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM files WHERE id = ?`, id.String()); err != nil {
		return wrapSQLErr("delete file", err)
	}

	_, err = tx.Exec(
		`UPDATE snapshots SET total_files = total_files - 1, total_bytes = total_bytes - ? WHERE id = ?`,
		size, snapshotID,
	)
	if err != nil {
		return wrapSQLErr("delete file: update snapshot totals", err)
	}

	return wrapSQLErr("delete file: commit", tx.Commit())
}

func (s *Store) chunkList(fileID uuid.UUID) ([]digest.Digest, error) {
	rows, err := s.db.Query(
		`SELECT digest FROM file_chunks WHERE file_id = ? ORDER BY position`,
		fileID.String(),
	)
	if err != nil {
		return nil, wrapSQLErr("file chunk list", err)
	}
	defer rows.Close()

	var out []digest.Digest
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, wrapSQLErr("file chunk list: scan", err)
		}
		d, err := digest.Parse(hex)
		if err != nil {
			return nil, apperr.New(apperr.KindIntegrityFailed, "file chunk list: parse digest", err)
		}
		out = append(out, d)
	}
	return out, wrapSQLErr("file chunk list", rows.Err())
}

func scanFile(row scannable) (FileRecord, error) {
	var rec FileRecord
	var idStr, snapIDStr, fileDigestStr string
	var mode int
	var modifiedMs int64
	var pathNonce []byte
	if err := row.Scan(&idStr, &snapIDStr, &rec.Path, &pathNonce, &mode, &rec.Size, &modifiedMs, &fileDigestStr); err != nil {
		return FileRecord{}, wrapSQLErr("get file", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return FileRecord{}, apperr.New(apperr.KindIntegrityFailed, "parse file id", err)
	}
	snapID, err := uuid.Parse(snapIDStr)
	if err != nil {
		return FileRecord{}, apperr.New(apperr.KindIntegrityFailed, "parse file snapshot id", err)
	}
	d, err := digest.Parse(fileDigestStr)
	if err != nil {
		return FileRecord{}, apperr.New(apperr.KindIntegrityFailed, "parse file digest", err)
	}

	rec.ID = id
	rec.SnapshotID = snapID
	rec.FileDigest = d
	rec.EncryptionMode = EncryptionMode(mode)
	rec.ModifiedAt = time.UnixMilli(modifiedMs).UTC()
	rec.PathNonce = pathNonce
	return rec, nil
}

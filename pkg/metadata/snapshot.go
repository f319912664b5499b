package metadata

import (
	"database/sql"
	"time"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/google/uuid"
)

// CreateSnapshot inserts a new, empty Snapshot row.
func (s *Store) CreateSnapshot(name, description string) (Snapshot, error) {
	snap := Snapshot{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.Exec(
		`INSERT INTO snapshots (id, name, description, created_at, total_files, total_bytes) VALUES (?, ?, ?, ?, 0, 0)`,
		snap.ID.String(), snap.Name, snap.Description, snap.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return Snapshot{}, wrapSQLErr("create snapshot", err)
	}
	return snap, nil
}

// GetSnapshot fetches a Snapshot by id.
func (s *Store) GetSnapshot(id uuid.UUID) (Snapshot, error) {
	row := s.db.QueryRow(
		`SELECT id, name, description, created_at, total_files, total_bytes FROM snapshots WHERE id = ?`,
		id.String(),
	)
	return scanSnapshot(row)
}

// ListSnapshots returns every snapshot, most recent first.
func (s *Store) ListSnapshots() ([]Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT id, name, description, created_at, total_files, total_bytes FROM snapshots ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, wrapSQLErr("list snapshots", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshotRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, wrapSQLErr("list snapshots", rows.Err())
}

// DeleteSnapshot removes a Snapshot and cascades to its FileRecords,
// decrementing each referenced chunk exactly once per deleted file.
func (s *Store) DeleteSnapshot(id uuid.UUID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return wrapSQLErr("delete snapshot: begin", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT id FROM files WHERE snapshot_id = ?`, id.String())
	if err != nil {
		return wrapSQLErr("delete snapshot: list files", err)
	}
	var fileIDs []string
	for rows.Next() {
		var fid string
		if err := rows.Scan(&fid); err != nil {
			rows.Close()
			return wrapSQLErr("delete snapshot: scan file id", err)
		}
		fileIDs = append(fileIDs, fid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return wrapSQLErr("delete snapshot: list files", err)
	}

	for _, fid := range fileIDs {
		if err := decrementFileChunksTx(tx, fid); err != nil {
			return err
		}
	}

	res, err := tx.Exec(`DELETE FROM snapshots WHERE id = ?`, id.String())
	if err != nil {
		return wrapSQLErr("delete snapshot", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapSQLErr("delete snapshot: rows affected", err)
	}
	if n == 0 {
		return apperr.New(apperr.KindNotFound, "delete snapshot: not found", nil)
	}

	return wrapSQLErr("delete snapshot: commit", tx.Commit())
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row scannable) (Snapshot, error) {
	var snap Snapshot
	var idStr string
	var createdMs int64
	if err := row.Scan(&idStr, &snap.Name, &snap.Description, &createdMs, &snap.TotalFiles, &snap.TotalBytes); err != nil {
		return Snapshot{}, wrapSQLErr("get snapshot", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return Snapshot{}, apperr.New(apperr.KindIntegrityFailed, "parse snapshot id", err)
	}
	snap.ID = id
	snap.CreatedAt = time.UnixMilli(createdMs).UTC()
	return snap, nil
}

func scanSnapshotRows(rows *sql.Rows) (Snapshot, error) {
	return scanSnapshot(rows)
}

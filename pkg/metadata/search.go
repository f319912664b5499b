package metadata

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/duskvault/duskvault/pkg/apperr"
	"github.com/duskvault/duskvault/pkg/collaborator"
	"github.com/google/uuid"
)

// tokenPattern splits a path into the lowercase alphanumeric runs
// IndexFile and search_files both tokenize against, so a path
// component survives separator differences (/, \, ., _, -).
var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// tokenize NFKC-normalizes path before splitting it into tokens, so a
// path that differs only by Unicode composition (e.g. a precomposed
// vs. combining-accent form of the same filename) blind-indexes to the
// same tokens.
func tokenize(path string) []string {
	lower := strings.ToLower(norm.NFKC.String(path))
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range tokenPattern.FindAllString(lower, -1) {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

// blindIndexKeyLabel is the HKDF info label the blind-index tokenizer
// derives its HMAC subkey under, kept distinct from pkg/store's AEAD
// subkey so the same master key serves two primitives without reuse.
const blindIndexKeyLabel = "duskvault-path-blind-index-v1"

// blindToken derives an HMAC-SHA256 blind index for one path token,
// so file_keywords never stores a recoverable plaintext word — only a
// keyed digest an attacker without the active key cannot invert or
// enumerate.
func blindToken(keys collaborator.KeyProvider, token string) (string, error) {
	master, err := keys.ActiveKey()
	if err != nil {
		return "", apperr.New(apperr.KindIoFailed, "derive blind token: active key", err)
	}
	key := collaborator.DeriveSubkey(master, blindIndexKeyLabel)
	mac := hmac.New(sha256.New, key[:])
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// IndexFile derives blind-index tokens for a FileRecord's path and
// stores them in file_keywords, so SearchFiles can later find the
// file by a matching token without either side ever persisting the
// plaintext path outside the files table itself.
func (s *Store) IndexFile(keys collaborator.KeyProvider, id uuid.UUID, path string) error {
	tokens := tokenize(path)
	if len(tokens) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return wrapSQLErr("index file: begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM file_keywords WHERE file_id = ?`, id.String()); err != nil {
		return wrapSQLErr("index file: clear", err)
	}

	for _, tok := range tokens {
		blind, err := blindToken(keys, tok)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO file_keywords (file_id, token) VALUES (?, ?)`,
			id.String(), blind,
		); err != nil {
			return wrapSQLErr("index file: insert", err)
		}
	}

	return wrapSQLErr("index file: commit", tx.Commit())
}

// SearchFiles tokenizes query the same way IndexFile tokenizes a
// path, and returns every file whose keyword set contains all of the
// query's tokens (an AND match across terms).
func (s *Store) SearchFiles(keys collaborator.KeyProvider, query string) ([]FileRecord, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil, nil
	}

	blinds := make([]string, len(tokens))
	for i, tok := range tokens {
		blind, err := blindToken(keys, tok)
		if err != nil {
			return nil, err
		}
		blinds[i] = blind
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(blinds)), ",")
	args := make([]interface{}, 0, len(blinds)+1)
	for _, b := range blinds {
		args = append(args, b)
	}
	args = append(args, len(blinds))

	rows, err := s.db.Query(
		`SELECT file_id FROM file_keywords WHERE token IN (`+placeholders+`)
		 GROUP BY file_id HAVING COUNT(DISTINCT token) = ?`,
		args...,
	)
	if err != nil {
		return nil, wrapSQLErr("search files", err)
	}

	var fileIDs []string
	for rows.Next() {
		var fid string
		if err := rows.Scan(&fid); err != nil {
			rows.Close()
			return nil, wrapSQLErr("search files: scan", err)
		}
		fileIDs = append(fileIDs, fid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapSQLErr("search files", err)
	}

	out := make([]FileRecord, 0, len(fileIDs))
	for _, fid := range fileIDs {
		id, err := uuid.Parse(fid)
		if err != nil {
			return nil, apperr.New(apperr.KindIntegrityFailed, "search files: parse file id", err)
		}
		rec, err := s.GetFile(id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

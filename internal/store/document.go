package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrVersionConflict is returned by Save when the stored document moved on
// since it was loaded.
var ErrVersionConflict = errors.New("document version conflict")

// DocumentStore keeps one JSON document per owner in the collections table.
// Every write bumps the row version; writers must present the version they
// loaded.
type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Load returns the owner's document and its version. A missing document
// yields (nil, 0, nil).
func (s *DocumentStore) Load(ctx context.Context, ownerID int64) ([]byte, int64, error) {
	var doc string
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT document, version FROM collections WHERE owner_id = ?`, ownerID,
	).Scan(&doc, &version)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load document: %w", err)
	}
	return []byte(doc), version, nil
}

// Save writes doc if the stored version equals expected (0 meaning "no row
// yet") and returns the new version.
func (s *DocumentStore) Save(ctx context.Context, ownerID, expected int64, doc []byte) (int64, error) {
	next := expected + 1

	var result sql.Result
	var err error
	if expected == 0 {
		result, err = s.db.ExecContext(ctx,
			`INSERT INTO collections (owner_id, version, document) VALUES (?, ?, ?)
			 ON CONFLICT(owner_id) DO NOTHING`,
			ownerID, next, string(doc),
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE collections SET document = ?, version = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE owner_id = ? AND version = ?`,
			string(doc), next, ownerID, expected,
		)
	}
	if err != nil {
		return 0, fmt.Errorf("save document: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}
	return next, nil
}

// Version returns the stored version of the owner's document, 0 when there
// is none.
func (s *DocumentStore) Version(ctx context.Context, ownerID int64) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM collections WHERE owner_id = ?`, ownerID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("document version: %w", err)
	}
	return version, nil
}

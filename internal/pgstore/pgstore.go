// Package pgstore keeps item collections in PostgreSQL, so several API
// instances (and the CLI) can share them. Each tracker checks the stored
// version before serving its cache. Accounts, sessions and push state stay
// in SQLite.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dukerupert/stride/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to dsn and applies the collection migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		db.Close()
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, sub)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("goose up: %w", err)
	}
	return db, nil
}

// DocumentStore is the PostgreSQL counterpart of store.DocumentStore.
type DocumentStore struct {
	db *sql.DB
}

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) Load(ctx context.Context, ownerID int64) ([]byte, int64, error) {
	var doc []byte
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT document::text, version FROM collections WHERE owner_id = $1`, ownerID,
	).Scan(&doc, &version)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load document: %w", err)
	}
	return doc, version, nil
}

// Save writes doc when the stored version equals expected and returns the
// new version. A stale expected version yields store.ErrVersionConflict.
func (s *DocumentStore) Save(ctx context.Context, ownerID, expected int64, doc []byte) (int64, error) {
	next := expected + 1

	var result sql.Result
	var err error
	if expected == 0 {
		result, err = s.db.ExecContext(ctx,
			`INSERT INTO collections (owner_id, version, document) VALUES ($1, $2, $3::jsonb)
			 ON CONFLICT (owner_id) DO NOTHING`,
			ownerID, next, string(doc),
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE collections SET document = $1::jsonb, version = $2, updated_at = now()
			 WHERE owner_id = $3 AND version = $4`,
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
		return 0, store.ErrVersionConflict
	}
	return next, nil
}

func (s *DocumentStore) Version(ctx context.Context, ownerID int64) (int64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM collections WHERE owner_id = $1`, ownerID,
	).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("document version: %w", err)
	}
	return version, nil
}

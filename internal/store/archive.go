package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/stride/internal/model"
)

type ArchiveStore struct {
	db *sql.DB
}

func NewArchiveStore(db *sql.DB) *ArchiveStore {
	return &ArchiveStore{db: db}
}

const archiveCols = `id, owner_id, filename, s3_key, size_bytes, status, error_message, started_at, completed_at, created_at`

func scanArchive(scanner interface{ Scan(...any) error }) (*model.Archive, error) {
	var a model.Archive
	var completedAt sql.NullTime
	err := scanner.Scan(&a.ID, &a.OwnerID, &a.Filename, &a.S3Key, &a.SizeBytes, &a.Status, &a.ErrorMessage, &a.StartedAt, &completedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return &a, nil
}

func (s *ArchiveStore) Create(ownerID int64, filename, s3Key string) (*model.Archive, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO archives (owner_id, filename, s3_key, status, started_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ownerID, filename, s3Key, model.ArchiveStatusPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id, ownerID)
}

func (s *ArchiveStore) GetByID(id, ownerID int64) (*model.Archive, error) {
	row := s.db.QueryRow(`SELECT `+archiveCols+` FROM archives WHERE id = ? AND owner_id = ?`, id, ownerID)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get archive %d: %w", id, err)
	}
	return a, nil
}

func (s *ArchiveStore) List(ownerID int64, limit int) ([]model.Archive, error) {
	rows, err := s.db.Query(
		`SELECT `+archiveCols+` FROM archives WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer rows.Close()

	var archives []model.Archive
	for rows.Next() {
		a, err := scanArchive(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archive: %w", err)
		}
		archives = append(archives, *a)
	}
	return archives, rows.Err()
}

func (s *ArchiveStore) UpdateStatus(id int64, status model.ArchiveStatus, errorMsg string) error {
	_, err := s.db.Exec(`UPDATE archives SET status = ?, error_message = ? WHERE id = ?`, status, errorMsg, id)
	if err != nil {
		return fmt.Errorf("update archive status: %w", err)
	}
	return nil
}

func (s *ArchiveStore) MarkCompleted(id, sizeBytes int64) error {
	_, err := s.db.Exec(
		`UPDATE archives SET status = ?, size_bytes = ?, completed_at = ? WHERE id = ?`,
		model.ArchiveStatusCompleted, sizeBytes, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark archive completed: %w", err)
	}
	return nil
}

// DeleteOlderThan removes the owner's archive rows created before the cutoff
// and returns their object keys so the caller can delete the blobs.
func (s *ArchiveStore) DeleteOlderThan(ownerID int64, before time.Time) ([]string, error) {
	rows, err := s.db.Query(`SELECT s3_key FROM archives WHERE owner_id = ? AND created_at < ?`, ownerID, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("select old archives: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan s3 key: %w", err)
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(`DELETE FROM archives WHERE owner_id = ? AND created_at < ?`, ownerID, before.UTC()); err != nil {
		return nil, fmt.Errorf("delete old archives: %w", err)
	}
	return keys, nil
}

func (s *ArchiveStore) LatestCompleted(ownerID int64) (*model.Archive, error) {
	row := s.db.QueryRow(
		`SELECT `+archiveCols+` FROM archives WHERE owner_id = ? AND status = ? ORDER BY completed_at DESC, id DESC LIMIT 1`,
		ownerID, model.ArchiveStatusCompleted,
	)
	a, err := scanArchive(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest completed archive: %w", err)
	}
	return a, nil
}

// ListOwnerIDs returns owners that have at least one archive row.
func (s *ArchiveStore) ListOwnerIDs() ([]int64, error) {
	rows, err := s.db.Query(`SELECT DISTINCT owner_id FROM archives ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("list archive owners: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan owner id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

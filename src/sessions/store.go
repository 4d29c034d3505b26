package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/username/tradejournal/backend/src/models"
)

// Store is the durable side of the registry: session records survive a
// process restart so active uploads can be recovered.
type Store interface {
	Insert(ctx context.Context, s *models.ImportSession) error
	Update(ctx context.Context, s *models.ImportSession) error
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]*models.ImportSession, error)
}

type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore returns a Store backed by the import_sessions table.
func NewSQLiteStore(db *sql.DB) Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) Insert(ctx context.Context, sess *models.ImportSession) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling session metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO import_sessions (id, user_id, file_path, file_name, file_format, file_size_bytes, uploaded_at, expires_at, parse_cache_key, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.FilePath, sess.FileName, string(sess.FileFormat),
		sess.FileSizeBytes, sess.UploadedAt.UTC().Format(time.RFC3339Nano),
		sess.ExpiresAt.UTC().Format(time.RFC3339Nano), sess.ParseCacheKey, string(meta))
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *sqliteStore) Update(ctx context.Context, sess *models.ImportSession) error {
	meta, err := json.Marshal(sess.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling session metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE import_sessions SET expires_at = ?, parse_cache_key = ?, metadata = ? WHERE id = ?`,
		sess.ExpiresAt.UTC().Format(time.RFC3339Nano), sess.ParseCacheKey, string(meta), sess.ID)
	if err != nil {
		return fmt.Errorf("updating session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM import_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) ListAll(ctx context.Context) ([]*models.ImportSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, file_path, file_name, file_format, file_size_bytes, uploaded_at, expires_at, parse_cache_key, metadata FROM import_sessions`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.ImportSession
	for rows.Next() {
		var sess models.ImportSession
		var format, uploadedAt, expiresAt, meta string
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.FilePath, &sess.FileName, &format,
			&sess.FileSizeBytes, &uploadedAt, &expiresAt, &sess.ParseCacheKey, &meta); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sess.FileFormat = models.FileFormat(format)
		if sess.UploadedAt, err = time.Parse(time.RFC3339Nano, uploadedAt); err != nil {
			return nil, fmt.Errorf("parsing uploaded_at for session %s: %w", sess.ID, err)
		}
		if sess.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresAt); err != nil {
			return nil, fmt.Errorf("parsing expires_at for session %s: %w", sess.ID, err)
		}
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling metadata for session %s: %w", sess.ID, err)
			}
		}
		out = append(out, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return out, nil
}

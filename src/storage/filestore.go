package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/username/tradejournal/backend/src/logger"
)

// FileStore stages uploaded files on behalf of import sessions. It owns no
// business logic: callers decide when a file is written and when it dies.
type FileStore interface {
	// Save writes the stream to a new staging file and returns its path
	// and the number of bytes written.
	Save(r io.Reader) (string, int64, error)
	// Open opens a previously staged file for reading.
	Open(path string) (io.ReadCloser, error)
	// Remove deletes a staged file. A file that is already gone is not an
	// error.
	Remove(path string) error
}

type diskFileStore struct {
	dir string
}

// NewDiskFileStore returns a FileStore writing into dir, creating it if
// needed.
func NewDiskFileStore(dir string) (FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir %s: %w", dir, err)
	}
	return &diskFileStore{dir: dir}, nil
}

func (s *diskFileStore) Save(r io.Reader) (string, int64, error) {
	path := filepath.Join(s.dir, uuid.NewString()+".upload")
	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("creating staging file: %w", err)
	}
	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("writing staging file: %w", err)
	}
	logger.L.Debug("Staged uploaded file", "path", path, "bytes", n)
	return path, n, nil
}

func (s *diskFileStore) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (s *diskFileStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing staged file %s: %w", path, err)
	}
	return nil
}

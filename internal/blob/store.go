// Package blob stores submitted upload bytes on disk under the resource directory.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidID rejects ids that could escape the resource directory
var ErrInvalidID = errors.New("invalid blob id")

// Store implements interfaces.BlobStore on the local filesystem
type Store struct {
	root string
}

// NewStore creates root if needed and returns a store writing into it
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create resource directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Path returns where the blob for id is kept: <root>/<id><ext of fileName>
func (s *Store) Path(id, fileName string) string {
	return filepath.Join(s.root, id+strings.ToLower(filepath.Ext(fileName)))
}

// Write persists data and returns its path
func (s *Store) Write(id, fileName string, data []byte) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return "", ErrInvalidID
	}

	path := s.Path(id, fileName)
	tmp := path + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return path, nil
}

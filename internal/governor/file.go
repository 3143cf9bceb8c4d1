package governor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BradenHooton/tokenlink/internal/models"
)

// FileStore keeps lockout state in a single JSON file, keyed by identity.
// It is meant for one device; concurrent processes are not coordinated.
type FileStore struct {
	path string
}

// NewFileStore stores state at path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileContents map[string]*models.LockoutState

func (s *FileStore) read() (fileContents, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return fileContents{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lockout file: %w", err)
	}

	contents := fileContents{}
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("parse lockout file %s: %w", s.path, err)
	}
	return contents, nil
}

func (s *FileStore) LoadKey(_ context.Context, key string) (*models.LockoutState, error) {
	contents, err := s.read()
	if err != nil {
		return nil, err
	}
	if state, ok := contents[key]; ok && state != nil {
		return state, nil
	}
	return &models.LockoutState{}, nil
}

func (s *FileStore) SaveKey(_ context.Context, key string, state *models.LockoutState) error {
	contents, err := s.read()
	if err != nil {
		return err
	}
	if state.LockedUntil == nil && len(state.Window) == 0 {
		delete(contents, key)
	} else {
		contents[key] = state
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create lockout directory: %w", err)
	}
	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write lockout file: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Close() error { return nil }

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps the command-line client's principal as a single JSON object.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

// Load returns ErrNoPrincipal when nobody is logged in.
func (f *FileStore) Load() (Principal, error) {
	var p Principal
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return p, ErrNoPrincipal
	}
	if err != nil {
		return p, fmt.Errorf("read session file: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode session file: %w", err)
	}
	if !p.Valid() {
		return Principal{}, ErrNoPrincipal
	}
	return p, nil
}

// Save writes the principal atomically with owner-only permissions.
func (f *FileStore) Save(p Principal) error {
	if !p.Valid() {
		return ErrNoPrincipal
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// Clear logs out. A missing file is already logged out.
func (f *FileStore) Clear() error {
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

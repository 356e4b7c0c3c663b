package credential

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore persists items as a JSON object in a single file
type FileStore struct {
	mu   sync.Mutex
	path string
}

// credentialFile is the on-disk shape
type credentialFile struct {
	Type          string            `json:"type"` // "credentials"
	SchemaVersion int               `json:"schemaVersion"`
	Items         map[string]string `json:"items"`
}

// DefaultPath returns ~/.beacon/credentials.json, creating the directory
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".beacon")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "credentials.json"), nil
}

// NewFileStore returns a store backed by path. The file is created on first write.
func NewFileStore(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("credential: store path is required")
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) GetItem(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return "", err
	}
	return f.Items[key], nil
}

func (s *FileStore) SetItem(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	f.Items[key] = value
	return s.save(f)
}

func (s *FileStore) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := f.Items[key]; !ok {
		return nil
	}
	delete(f.Items, key)
	return s.save(f)
}

func (s *FileStore) load() (*credentialFile, error) {
	f := &credentialFile{Type: "credentials", SchemaVersion: 1, Items: map[string]string{}}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(b, f); err != nil {
		return nil, err
	}
	if f.Items == nil {
		f.Items = map[string]string{}
	}
	return f, nil
}

func (s *FileStore) save(f *credentialFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	// Write beside the target and rename so readers never see a partial file
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".credentials-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// Package credential is the local key-value store the telemetry pipeline reads its bearer token from.
package credential

import (
	"errors"
	"strings"
	"sync"
)

// DefaultKey is the item holding the user's bearer token
const DefaultKey = "userToken"

// Store is a small string key-value store. GetItem returns "" and a nil error for missing keys.
type Store interface {
	GetItem(key string) (string, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

var errEmptyKey = errors.New("credential: key is required")

// MemoryStore is an ephemeral Store
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]string)}
}

func (s *MemoryStore) GetItem(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.items[key], nil
}

func (s *MemoryStore) SetItem(key, value string) error {
	if strings.TrimSpace(key) == "" {
		return errEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *MemoryStore) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Source reads the bearer token under Key from Store
type Source struct {
	Store Store
	Key   string
}

// NewSource returns a Source for key, using DefaultKey when key is empty
func NewSource(store Store, key string) *Source {
	if strings.TrimSpace(key) == "" {
		key = DefaultKey
	}
	return &Source{Store: store, Key: key}
}

// Token returns the current bearer token. A read error counts as no credential.
func (s *Source) Token() (string, bool) {
	if s == nil || s.Store == nil {
		return "", false
	}
	tok, err := s.Store.GetItem(s.Key)
	if err != nil {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

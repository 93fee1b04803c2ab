package apiclient

import (
	"encoding/json"
	"os"
	"sync"
)

// Store persists the session tokens between runs. Implementations keep
// exactly three values: the access token, the refresh token and the access
// token's expiry as a Unix timestamp.
type Store interface {
	// Load returns the stored tokens. Missing values come back empty.
	Load() (access, refresh string, expiry int64, err error)
	// Save replaces the stored tokens.
	Save(access, refresh string, expiry int64) error
	// Clear removes all stored tokens.
	Clear() error
}

// MemoryStore keeps tokens in process memory. Useful for tests and for
// short-lived tools.
type MemoryStore struct {
	mu      sync.Mutex
	access  string
	refresh string
	expiry  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (string, string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access, s.refresh, s.expiry, nil
}

func (s *MemoryStore) Save(access, refresh string, expiry int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
	s.expiry = expiry
	return nil
}

func (s *MemoryStore) Clear() error {
	return s.Save("", "", 0)
}

type fileStorePayload struct {
	Access  string `json:"access_token"`
	Refresh string `json:"refresh_token"`
	Expiry  int64  `json:"token_expiry"`
}

// FileStore persists tokens as a JSON file on disk.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by the given file path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (string, string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", 0, nil
		}
		return "", "", 0, err
	}

	var payload fileStorePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", "", 0, err
	}
	return payload.Access, payload.Refresh, payload.Expiry, nil
}

func (s *FileStore) Save(access, refresh string, expiry int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(fileStorePayload{
		Access:  access,
		Refresh: refresh,
		Expiry:  expiry,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

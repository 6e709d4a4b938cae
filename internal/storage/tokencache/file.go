package tokencache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the token cache seen by the account pipeline.
type Store interface {
	Get(label string) (string, bool)
	Set(label, token string) error
	Evict(label string) error
}

// FileStore keeps label -> bearer token in memory and writes the whole map
// back to disk on every mutation. All read-modify-write cycles run under mu.
type FileStore struct {
	mu      sync.Mutex
	path    string
	tokens  map[string]string
	corrupt bool
}

func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, tokens: make(map[string]string)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Corrupt reports whether the file existed but could not be decoded; its
// content was discarded.
func (s *FileStore) Corrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corrupt
}

func (s *FileStore) Get(label string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[label]
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}

// Set stores token for label, replacing any previous value in one write.
func (s *FileStore) Set(label, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[label] = token
	return s.save()
}

func (s *FileStore) Evict(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[label]; !ok {
		return nil
	}
	delete(s.tokens, label)
	return s.save()
}

func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func (s *FileStore) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.tokens))
	for k, v := range s.tokens {
		out[k] = v
	}
	return out
}

func (s *FileStore) load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.save()
		}
		return err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}

	var stored map[string]string
	if err := json.Unmarshal(data, &stored); err != nil {
		s.corrupt = true
		return s.save()
	}
	for label, token := range stored {
		s.tokens[label] = token
	}
	return nil
}

func (s *FileStore) save() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.tokens, "", "    ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

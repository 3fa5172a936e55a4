// Package memory is an in-process kvstore.Store for tests and for runs
// without a store path.
package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/repos/kvstore"
)

type memStore struct {
	kvstore.Notifier

	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// New returns an empty store.
func New() kvstore.Store {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(key string, dst any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.data[key]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return false, kvstore.ErrClosed
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (s *memStore) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.write(key, raw)
}

func (s *memStore) Delete(key string) error { return s.write(key, nil) }

func (s *memStore) write(key string, raw []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return kvstore.ErrClosed
	}
	old := s.data[key]
	if raw == nil {
		delete(s.data, key)
	} else {
		s.data[key] = raw
	}
	s.mu.Unlock()
	if bytes.Equal(old, raw) {
		return nil
	}
	s.Publish(kvstore.Change{Key: key, Old: old, New: raw})
	return nil
}

func (s *memStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

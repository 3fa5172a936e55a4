package bolt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/FeymanMCSQ/insta-sanitize/internal/feed/repos/kvstore"
)

var bucketSync = []byte("sync")

// boltStore implements kvstore.Store on a single bbolt bucket holding JSON
// values.
type boltStore struct {
	kvstore.Notifier

	mu     sync.RWMutex
	db     *bbolt.DB
	closed bool
}

// New opens (or creates) a Bolt database at path and ensures the bucket exists.
func New(path string) (kvstore.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSync)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Get(key string, dst any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, kvstore.ErrClosed
	}
	var raw []byte
	if err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketSync).Get([]byte(key)); v != nil {
			raw = bytes.Clone(v)
		}
		return nil
	}); err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (s *boltStore) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return s.write(key, raw)
}

func (s *boltStore) Delete(key string) error {
	return s.write(key, nil)
}

// write puts raw under key (or deletes it when raw is nil) and publishes the
// change once the transaction has committed. Unchanged values publish nothing.
func (s *boltStore) write(key string, raw []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return kvstore.ErrClosed
	}
	var old []byte
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSync)
		if v := b.Get([]byte(key)); v != nil {
			old = bytes.Clone(v)
		}
		if raw == nil {
			return b.Delete([]byte(key))
		}
		return b.Put([]byte(key), raw)
	})
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	if bytes.Equal(old, raw) {
		return nil
	}
	s.Publish(kvstore.Change{Key: key, Old: old, New: raw})
	return nil
}

func (s *boltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var _ kvstore.Store = (*boltStore)(nil)

package localstore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleStore keeps records in an embedded pebble database.
type PebbleStore struct {
	mu    sync.Mutex
	db    *pebble.DB
	quota int64
	used  int64
}

func OpenPebbleStore(path string, quota int64) (*PebbleStore, error) {
	if path == "" {
		return nil, fmt.Errorf("pebble path is required")
	}
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	s := &PebbleStore{db: db, quota: quota}
	iter, err := db.NewIter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("scan pebble: %w", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		s.used += int64(len(iter.Value()))
	}
	if err := iter.Close(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("scan pebble: %w", err)
	}
	return s, nil
}

func (s *PebbleStore) Get(key string) ([]byte, error) {
	value, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *PebbleStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, err := s.sizeOf(key)
	if err != nil {
		return err
	}
	if err := quotaCheck(s.quota, s.used, old, int64(len(value))); err != nil {
		return err
	}
	if err := s.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	s.used += int64(len(value)) - old
	return nil
}

func (s *PebbleStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, err := s.sizeOf(key)
	if err != nil {
		return err
	}
	if err := s.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	s.used -= old
	return nil
}

func (s *PebbleStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *PebbleStore) sizeOf(key string) (int64, error) {
	value, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("pebble get: %w", err)
	}
	n := int64(len(value))
	_ = closer.Close()
	return n, nil
}

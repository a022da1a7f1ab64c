// Package localstore holds the client's durable keyed records: the
// translation cache, one offline queue per room and the user's preferences.
// Records survive restarts; each record is owned by exactly one component.
package localstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrQuota is returned when a write would exceed the store's capacity.
	ErrQuota = errors.New("storage quota exceeded")
)

type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

type Kind string

const (
	KindMemory Kind = "memory"
	KindFile   Kind = "file"
	KindPebble Kind = "pebble"
)

// Open returns the store of the given kind rooted at dir. A quota of zero
// disables the capacity check.
func Open(kind Kind, dir string, quota int64) (Store, error) {
	switch kind {
	case KindMemory:
		return NewMemory(quota), nil
	case KindFile, "":
		return OpenFileStore(dir, quota)
	case KindPebble:
		return OpenPebbleStore(filepath.Join(dir, "pebble"), quota)
	default:
		return nil, fmt.Errorf("unknown store kind %q", kind)
	}
}

// DefaultDir is the per-user directory the client keeps its records in.
func DefaultDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "seatcon"), nil
}

// quotaCheck reports ErrQuota when replacing a record of oldSize bytes with
// one of newSize bytes would push used past quota.
func quotaCheck(quota, used, oldSize, newSize int64) error {
	if quota <= 0 {
		return nil
	}
	total := used - oldSize + newSize
	if total > quota {
		return fmt.Errorf("%w: %s needed, %s allowed", ErrQuota, humanize.Bytes(uint64(total)), humanize.Bytes(uint64(quota)))
	}
	return nil
}

package storage

import (
	"context"
	"fmt"

	"github.com/Jason198341/seatcon-sub001/internal/room"
)

// ErrNotFound also matches room.ErrNotFound so the service layer can map it
// without importing storage.
var ErrNotFound = fmt.Errorf("storage: %w", room.ErrNotFound)

type Store interface {
	Close(ctx context.Context) error
	Migrate(ctx context.Context) error
	Messages() room.Repository
}

type NopStore struct{}

func NewNopStore() *NopStore {
	return &NopStore{}
}

func (s *NopStore) Close(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *NopStore) Migrate(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *NopStore) Messages() room.Repository {
	return nil
}

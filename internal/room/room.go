// Package room is the reference backend's room domain: message history,
// writes and likes, with change notifications for the realtime feed.
package room

import (
	"context"
	"errors"
	"time"

	"github.com/Jason198341/seatcon-sub001/internal/message"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

type Repository interface {
	// InsertMessage stores msg and returns it with its assigned id. A
	// repeated client id returns the stored row with created false.
	InsertMessage(ctx context.Context, msg message.Message) (stored message.Message, created bool, err error)
	GetMessage(ctx context.Context, roomID string, id message.ID) (message.Message, error)
	// ListRecentMessages and ListMessagesBefore return rows oldest first.
	ListRecentMessages(ctx context.Context, roomID string, limit int) ([]message.Message, error)
	ListMessagesBefore(ctx context.Context, roomID string, before time.Time, limit int) ([]message.Message, error)
	AddLike(ctx context.Context, like message.Like, at time.Time) (bool, error)
	RemoveLike(ctx context.Context, like message.Like) (bool, error)
}

// Notifier fans change events out to realtime subscribers.
type Notifier interface {
	MessageInserted(roomID string, msg message.Message)
	LikeChanged(roomID string, ev message.LikeEvent)
}

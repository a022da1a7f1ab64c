package room

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Jason198341/seatcon-sub001/internal/message"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type Service struct {
	repo     Repository
	notifier Notifier
	now      func() time.Time
}

func NewService(repo Repository, notifier Notifier) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		now:      time.Now,
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func (s *Service) ListRecent(ctx context.Context, roomID string, limit int) ([]message.Message, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if strings.TrimSpace(roomID) == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.ListRecentMessages(ctx, roomID, clampLimit(limit))
}

func (s *Service) ListBefore(ctx context.Context, roomID string, before time.Time, limit int) ([]message.Message, error) {
	if s.repo == nil {
		return nil, errors.New("repository is required")
	}
	if strings.TrimSpace(roomID) == "" || before.IsZero() {
		return nil, ErrInvalidInput
	}
	return s.repo.ListMessagesBefore(ctx, roomID, before.UTC(), clampLimit(limit))
}

// PostMessage stores draft and notifies subscribers. Retrying a draft with
// the same client id returns the original row without a second event.
func (s *Service) PostMessage(ctx context.Context, draft message.Draft) (message.Message, error) {
	if s.repo == nil {
		return message.Message{}, errors.New("repository is required")
	}
	if err := draft.Validate(); err != nil {
		return message.Message{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	msg := message.Message{
		ClientID:   draft.ClientID,
		RoomID:     draft.RoomID,
		AuthorID:   strings.TrimSpace(draft.AuthorID),
		AuthorName: strings.TrimSpace(draft.AuthorName),
		Role:       draft.Role,
		Content:    draft.Content,
		SourceLang: draft.SourceLang,
		ReplyTo:    draft.ReplyTo,
		CreatedAt:  s.now().UTC(),
	}
	if msg.Role == "" {
		msg.Role = message.RoleAttendee
	}

	stored, created, err := s.repo.InsertMessage(ctx, msg)
	if err != nil {
		return message.Message{}, err
	}
	if created && s.notifier != nil {
		s.notifier.MessageInserted(stored.RoomID, stored)
	}
	return stored, nil
}

// SetLike records or removes userID's like. Only actual changes are
// broadcast.
func (s *Service) SetLike(ctx context.Context, roomID string, id message.ID, userID string, liked bool) error {
	if s.repo == nil {
		return errors.New("repository is required")
	}
	if strings.TrimSpace(roomID) == "" || id == "" || strings.TrimSpace(userID) == "" {
		return ErrInvalidInput
	}
	if _, err := s.repo.GetMessage(ctx, roomID, id); err != nil {
		return err
	}

	like := message.Like{MessageID: id, UserID: strings.TrimSpace(userID)}
	var (
		changed bool
		err     error
		action  = message.LikeInsert
	)
	if liked {
		changed, err = s.repo.AddLike(ctx, like, s.now().UTC())
	} else {
		action = message.LikeDelete
		changed, err = s.repo.RemoveLike(ctx, like)
	}
	if err != nil {
		return err
	}
	if changed && s.notifier != nil {
		s.notifier.LikeChanged(roomID, message.LikeEvent{Action: action, Like: like})
	}
	return nil
}

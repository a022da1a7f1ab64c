package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Jason198341/seatcon-sub001/internal/message"
	"github.com/Jason198341/seatcon-sub001/internal/room"
)

// MemoryStore keeps rooms in process memory. It serves local runs
// (DB_URL=memory) and tests; data does not survive a restart.
type MemoryStore struct {
	messages *memoryMessages
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: &memoryMessages{
		byRoom: make(map[string][]message.Message),
		likes:  make(map[message.Like]struct{}),
	}}
}

func (s *MemoryStore) Close(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *MemoryStore) Migrate(ctx context.Context) error {
	_ = ctx
	return nil
}

func (s *MemoryStore) Messages() room.Repository {
	return s.messages
}

type memoryMessages struct {
	mu     sync.Mutex
	nextID int64
	byRoom map[string][]message.Message
	likes  map[message.Like]struct{}
}

func (m *memoryMessages) InsertMessage(_ context.Context, msg message.Message) (message.Message, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ClientID != "" {
		for _, existing := range m.byRoom[msg.RoomID] {
			if existing.ClientID == msg.ClientID {
				return existing, false, nil
			}
		}
	}
	m.nextID++
	msg.ID = message.ID(strconv.FormatInt(m.nextID, 10))
	msg.CreatedAt = msg.CreatedAt.UTC()
	m.byRoom[msg.RoomID] = append(m.byRoom[msg.RoomID], msg)
	return msg, true, nil
}

func (m *memoryMessages) GetMessage(_ context.Context, roomID string, id message.ID) (message.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.byRoom[roomID] {
		if msg.ID == id {
			return msg, nil
		}
	}
	return message.Message{}, ErrNotFound
}

func (m *memoryMessages) ListRecentMessages(_ context.Context, roomID string, limit int) ([]message.Message, error) {
	return m.page(roomID, time.Time{}, limit), nil
}

func (m *memoryMessages) ListMessagesBefore(_ context.Context, roomID string, before time.Time, limit int) ([]message.Message, error) {
	return m.page(roomID, before, limit), nil
}

// page mirrors the SQL: newest limit rows (created_at, id) before the
// cursor, returned oldest first.
func (m *memoryMessages) page(roomID string, before time.Time, limit int) []message.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var rows []message.Message
	for _, msg := range m.byRoom[roomID] {
		if before.IsZero() || msg.CreatedAt.Before(before) {
			rows = append(rows, msg)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		a, _ := parseID(rows[i].ID)
		b, _ := parseID(rows[j].ID)
		return a < b
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	return rows
}

func (m *memoryMessages) AddLike(_ context.Context, like message.Like, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.likes[like]; ok {
		return false, nil
	}
	m.likes[like] = struct{}{}
	return true, nil
}

func (m *memoryMessages) RemoveLike(_ context.Context, like message.Like) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.likes[like]; !ok {
		return false, nil
	}
	delete(m.likes, like)
	return true, nil
}

package chatsync

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Jason198341/seatcon-sub001/internal/localstore"
	"github.com/Jason198341/seatcon-sub001/internal/message"
	"github.com/Jason198341/seatcon-sub001/internal/realtime"
)

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type likeCall struct {
	room  string
	id    message.ID
	user  string
	liked bool
}

type fakeBackend struct {
	mu         sync.Mutex
	nextID     int
	rooms      map[string][]message.Message
	failInsert error
	failList   error
	failLike   error
	likes      []likeCall
	inserts    []message.Draft
	echo       *fakeFeed
	onInsert   func(message.Draft) error
	onList     func()
	onBefore   func()
}

func newBackend() *fakeBackend {
	return &fakeBackend{nextID: 41, rooms: map[string][]message.Message{}}
}

func (b *fakeBackend) seed(room string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < n; i++ {
		b.nextID++
		b.rooms[room] = append(b.rooms[room], message.Message{
			ID:         message.ID(strconv.Itoa(b.nextID)),
			RoomID:     room,
			AuthorID:   "other",
			Role:       message.RoleAttendee,
			Content:    "seed " + strconv.Itoa(i),
			SourceLang: "en",
			CreatedAt:  base.Add(time.Duration(len(b.rooms[room])) * time.Second),
		})
	}
}

func (b *fakeBackend) add(m message.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms[m.RoomID] = append(b.rooms[m.RoomID], m)
}

func (b *fakeBackend) sorted(room string) []message.Message {
	msgs := append([]message.Message(nil), b.rooms[room]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	return msgs
}

func lastN(msgs []message.Message, n int) []message.Message {
	if len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}

func (b *fakeBackend) ListRecent(_ context.Context, room string, limit int) ([]message.Message, error) {
	if b.onList != nil {
		b.onList()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failList != nil {
		return nil, b.failList
	}
	return lastN(b.sorted(room), limit), nil
}

func (b *fakeBackend) ListBefore(_ context.Context, room string, before time.Time, limit int) ([]message.Message, error) {
	if b.onBefore != nil {
		b.onBefore()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failList != nil {
		return nil, b.failList
	}
	var older []message.Message
	for _, m := range b.sorted(room) {
		if m.CreatedAt.Before(before) {
			older = append(older, m)
		}
	}
	return lastN(older, limit), nil
}

func (b *fakeBackend) Insert(_ context.Context, d message.Draft) (message.Message, error) {
	b.mu.Lock()
	hook := b.onInsert
	b.mu.Unlock()
	if hook != nil {
		if err := hook(d); err != nil {
			return message.Message{}, err
		}
	}

	b.mu.Lock()
	if b.failInsert != nil {
		err := b.failInsert
		b.mu.Unlock()
		return message.Message{}, err
	}
	b.nextID++
	m := message.Message{
		ID:         message.ID(strconv.Itoa(b.nextID)),
		ClientID:   d.ClientID,
		RoomID:     d.RoomID,
		AuthorID:   d.AuthorID,
		AuthorName: d.AuthorName,
		Role:       d.Role,
		Content:    d.Content,
		SourceLang: d.SourceLang,
		ReplyTo:    d.ReplyTo,
		CreatedAt:  base.Add(time.Hour + time.Duration(b.nextID)*time.Second),
	}
	b.rooms[d.RoomID] = append(b.rooms[d.RoomID], m)
	b.inserts = append(b.inserts, d)
	echo := b.echo
	b.mu.Unlock()
	if echo != nil {
		echo.push(d.RoomID, m)
	}
	return m, nil
}

func (b *fakeBackend) SetLike(_ context.Context, room string, id message.ID, user string, liked bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failLike != nil {
		return b.failLike
	}
	b.likes = append(b.likes, likeCall{room, id, user, liked})
	return nil
}

type nopSub struct{}

func (nopSub) Close() error { return nil }

type fakeFeed struct {
	mu     sync.Mutex
	msgs   map[string]func(message.Message)
	likes  map[string]func(message.LikeEvent)
	errs   map[string]func(error)
	failOn error
}

func newFeed() *fakeFeed {
	return &fakeFeed{
		msgs:  map[string]func(message.Message){},
		likes: map[string]func(message.LikeEvent){},
		errs:  map[string]func(error){},
	}
}

func (f *fakeFeed) SubscribeMessages(_ context.Context, room string, onMessage func(message.Message), onError func(error)) (realtime.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil {
		return nil, f.failOn
	}
	f.msgs[room] = onMessage
	f.errs[room] = onError
	return nopSub{}, nil
}

func (f *fakeFeed) SubscribeLikes(_ context.Context, room string, onLike func(message.LikeEvent), _ func(error)) (realtime.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.likes[room] = onLike
	return nopSub{}, nil
}

func (f *fakeFeed) push(room string, m message.Message) {
	f.mu.Lock()
	cb := f.msgs[room]
	f.mu.Unlock()
	if cb != nil {
		cb(m)
	}
}

func (f *fakeFeed) pushLike(room string, ev message.LikeEvent) {
	f.mu.Lock()
	cb := f.likes[room]
	f.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (f *fakeFeed) fail(room string, err error) {
	f.mu.Lock()
	cb := f.errs[room]
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

type fakeTranslator struct {
	mu          sync.Mutex
	calls       int
	detectCalls int
	detectErr   error
}

func (f *fakeTranslator) Translate(_ context.Context, text, _, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "[" + target + "] " + text, nil
}

func (f *fakeTranslator) Detect(context.Context, string) (string, error) {
	f.mu.Lock()
	f.detectCalls++
	f.mu.Unlock()
	if f.detectErr != nil {
		return "", f.detectErr
	}
	return "en", nil
}

func (f *fakeTranslator) detects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detectCalls
}

func (f *fakeTranslator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	c          *Coordinator
	backend    *fakeBackend
	feed       *fakeFeed
	translator *fakeTranslator
	records    *localstore.Memory
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		backend:    newBackend(),
		feed:       newFeed(),
		translator: &fakeTranslator{},
		records:    localstore.NewMemory(0),
	}
	if cfg.User.ID == "" {
		cfg.User = User{ID: "me", Name: "Me", Role: message.RoleAttendee}
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "ko"
	}
	c, err := New(cfg, Deps{Backend: h.backend, Feed: h.feed, Translator: h.translator, Records: h.records})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	h.c = c
	t.Cleanup(c.Close)
	return h
}

func (b *fakeBackend) insertedContents() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.inserts))
	for i, d := range b.inserts {
		out[i] = d.Content
	}
	return out
}

func snapshotIDs(msgs []message.Message) []message.ID {
	out := make([]message.ID, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

var errDown = errors.New("backend unavailable")

// Package offline queues locally written messages until the backend has
// confirmed them. Each room's queue is one durable record; entries are sent
// strictly in the order they were written.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Jason198341/seatcon-sub001/internal/localstore"
	"github.com/Jason198341/seatcon-sub001/internal/message"
	"github.com/Jason198341/seatcon-sub001/internal/metrics"
	"github.com/Jason198341/seatcon-sub001/internal/securelog"
)

const recordPrefix = "offline_queue:"

var ErrNotQueued = errors.New("message not queued")

type Status string

const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
)

type Entry struct {
	Message       message.Message `json:"message"`
	ProvisionalID message.ID      `json:"provisional_id"`
	// EnqueuedAt is strictly increasing within a queue.
	EnqueuedAt time.Time `json:"enqueued_at"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
}

// Delivery maps the queue status onto the message delivery status.
func (e Entry) Delivery() message.Delivery {
	if e.Status == StatusFailed {
		return message.DeliveryFailed
	}
	return message.DeliveryPending
}

// Draft rebuilds the write request for the entry.
func (e Entry) Draft() message.Draft {
	m := e.Message
	return message.Draft{
		ClientID:   e.ProvisionalID,
		RoomID:     m.RoomID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Role:       m.Role,
		Content:    m.Content,
		SourceLang: m.SourceLang,
		ReplyTo:    m.ReplyTo,
	}
}

// Sender performs the backend write.
type Sender interface {
	Insert(ctx context.Context, draft message.Draft) (message.Message, error)
}

// Sink receives the outcome of each delivery attempt, normally the room's
// message store.
type Sink interface {
	ReplaceProvisional(provisionalID message.ID, confirmed message.Message) bool
	SetDelivery(id message.ID, status message.Delivery) bool
}

type FlushResult struct {
	Confirmed []message.Message
	// Failed is the entry the flush stopped at, if any.
	Failed    message.ID
	Remaining int
	// Skipped is set when another flush of the room was already running.
	Skipped bool
}

type roomQueue struct {
	loaded   bool
	entries  []Entry
	dirty    bool
	flushing bool
}

type Queue struct {
	mu     sync.Mutex
	store  localstore.Store
	sender Sender
	rooms  map[string]*roomQueue
	last   time.Time

	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func New(store localstore.Store, sender Sender, opts Options) *Queue {
	q := &Queue{
		store:   store,
		sender:  sender,
		rooms:   make(map[string]*roomQueue),
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.logger == nil {
		q.logger = zap.NewNop()
	}
	q.logger = q.logger.Named("offline")
	return q
}

func recordKey(roomID string) string {
	return recordPrefix + roomID
}

// Enqueue records draft for later delivery and returns the pending message
// to display. A draft that already carries a provisional id keeps it. A
// failed durable write keeps the entry in memory and is retried on the next
// flush.
func (q *Queue) Enqueue(_ context.Context, draft message.Draft) (message.Message, error) {
	if err := draft.Validate(); err != nil {
		return message.Message{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	rq := q.roomLocked(draft.RoomID)
	id := draft.ClientID
	if id == "" {
		id = message.NewProvisionalID(q.now())
	}
	for _, e := range rq.entries {
		if e.ProvisionalID == id {
			return e.Message, nil
		}
	}

	at := q.nextTimeLocked()
	entry := Entry{
		Message:       draft.Provisional(id, at, message.DeliveryPending),
		ProvisionalID: id,
		EnqueuedAt:    at,
		Status:        StatusPending,
	}
	rq.entries = append(rq.entries, entry)
	q.persistLocked(draft.RoomID, rq)
	q.metrics.SetQueueDepth(draft.RoomID, len(rq.entries))
	return entry.Message, nil
}

// Flush sends the room's entries in enqueue order. It stops at the first
// failure, which is marked failed and left at the head of the queue. A
// flush already running for the room makes this call return immediately.
func (q *Queue) Flush(ctx context.Context, roomID string, sink Sink) (res FlushResult, err error) {
	q.mu.Lock()
	rq := q.roomLocked(roomID)
	if rq.flushing {
		q.mu.Unlock()
		res.Skipped = true
		return res, nil
	}
	rq.flushing = true
	if rq.dirty {
		q.persistLocked(roomID, rq)
	}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		rq.flushing = false
		res.Remaining = len(rq.entries)
		q.metrics.SetQueueDepth(roomID, len(rq.entries))
		q.mu.Unlock()
	}()

	for {
		if err = ctx.Err(); err != nil {
			return res, err
		}

		q.mu.Lock()
		if len(rq.entries) == 0 {
			q.mu.Unlock()
			return res, nil
		}
		rq.entries[0].Attempts++
		rq.entries[0].Status = StatusPending
		head := rq.entries[0]
		q.mu.Unlock()

		sink.SetDelivery(head.ProvisionalID, message.DeliverySyncing)
		confirmed, sendErr := q.sender.Insert(ctx, head.Draft())
		if sendErr != nil {
			err = sendErr
			q.markFailed(roomID, rq, head.ProvisionalID, err)
			sink.SetDelivery(head.ProvisionalID, message.DeliveryFailed)
			q.metrics.FlushOutcome("failed")
			res.Failed = head.ProvisionalID
			return res, fmt.Errorf("deliver queued message: %w", err)
		}

		if confirmed.ClientID == "" {
			confirmed.ClientID = head.ProvisionalID
		}
		sink.ReplaceProvisional(head.ProvisionalID, confirmed)
		q.metrics.FlushOutcome("confirmed")
		res.Confirmed = append(res.Confirmed, confirmed)

		q.mu.Lock()
		q.removeLocked(rq, head.ProvisionalID)
		q.persistLocked(roomID, rq)
		q.mu.Unlock()
	}
}

func (q *Queue) markFailed(roomID string, rq *roomQueue, id message.ID, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range rq.entries {
		if rq.entries[i].ProvisionalID == id {
			rq.entries[i].Status = StatusFailed
			rq.entries[i].LastError = cause.Error()
			break
		}
	}
	q.persistLocked(roomID, rq)
	q.logger.Warn("queued message delivery failed",
		zap.String("room", roomID),
		zap.String("provisional_id", string(id)),
		securelog.Err(cause),
	)
}

// Pending returns a copy of the room's queue in enqueue order.
func (q *Queue) Pending(roomID string) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	rq := q.roomLocked(roomID)
	out := make([]Entry, len(rq.entries))
	copy(out, rq.entries)
	return out
}

func (q *Queue) Len(roomID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.roomLocked(roomID).entries)
}

// Discard drops a queued message so it is never sent.
func (q *Queue) Discard(_ context.Context, roomID string, id message.ID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	rq := q.roomLocked(roomID)
	if !q.removeLocked(rq, id) {
		return fmt.Errorf("%w: %s", ErrNotQueued, id)
	}
	q.persistLocked(roomID, rq)
	q.metrics.SetQueueDepth(roomID, len(rq.entries))
	return nil
}

// Rooms lists the rooms with entries loaded in this process.
func (q *Queue) Rooms() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	rooms := make([]string, 0, len(q.rooms))
	for id, rq := range q.rooms {
		if len(rq.entries) > 0 {
			rooms = append(rooms, id)
		}
	}
	return rooms
}

func (q *Queue) roomLocked(roomID string) *roomQueue {
	rq, ok := q.rooms[roomID]
	if !ok {
		rq = &roomQueue{}
		q.rooms[roomID] = rq
	}
	if !rq.loaded {
		q.loadLocked(roomID, rq)
	}
	return rq
}

func (q *Queue) loadLocked(roomID string, rq *roomQueue) {
	raw, err := q.store.Get(recordKey(roomID))
	if errors.Is(err, localstore.ErrNotFound) {
		rq.loaded = true
		return
	}
	if err != nil {
		// Retried on next access; in-memory entries stay authoritative.
		q.logger.Warn("offline queue unreadable", zap.String("room", roomID), securelog.Err(err))
		return
	}
	rq.loaded = true
	var stored []Entry
	if err := json.Unmarshal(raw, &stored); err != nil {
		q.logger.Warn("offline queue corrupt, ignoring record", zap.String("room", roomID), securelog.Err(err))
		return
	}
	for i := range stored {
		stored[i].Message.Delivery = stored[i].Delivery()
		if stored[i].EnqueuedAt.After(q.last) {
			q.last = stored[i].EnqueuedAt
		}
	}
	rq.entries = append(stored, rq.entries...)
}

func (q *Queue) persistLocked(roomID string, rq *roomQueue) {
	var err error
	if len(rq.entries) == 0 {
		err = q.store.Delete(recordKey(roomID))
	} else {
		var raw []byte
		raw, err = json.Marshal(rq.entries)
		if err == nil {
			err = q.store.Set(recordKey(roomID), raw)
		}
	}
	if err != nil {
		rq.dirty = true
		q.logger.Warn("offline queue not persisted", zap.String("room", roomID), securelog.Err(err))
		return
	}
	rq.dirty = false
}

func (q *Queue) removeLocked(rq *roomQueue, id message.ID) bool {
	for i, e := range rq.entries {
		if e.ProvisionalID == id {
			rq.entries = append(rq.entries[:i], rq.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) nextTimeLocked() time.Time {
	at := q.now()
	if !at.After(q.last) {
		at = q.last.Add(time.Microsecond)
	}
	q.last = at
	return at
}

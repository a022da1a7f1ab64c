// Package realtime connects a room's message store to the push change feed.
// One subscription is live at a time; a generation counter makes sure no
// event from a torn-down subscription is merged.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Jason198341/seatcon-sub001/internal/message"
	"github.com/Jason198341/seatcon-sub001/internal/metrics"
	"github.com/Jason198341/seatcon-sub001/internal/msgstore"
	"github.com/Jason198341/seatcon-sub001/internal/securelog"
)

var ErrStale = errors.New("subscription is no longer current")

type Subscription interface {
	Close() error
}

// Feed opens push subscriptions for one room. Callbacks for one
// subscription are invoked sequentially in arrival order; onError is called
// at most once, after which the subscription delivers nothing.
type Feed interface {
	SubscribeMessages(ctx context.Context, roomID string, onMessage func(message.Message), onError func(error)) (Subscription, error)
	SubscribeLikes(ctx context.Context, roomID string, onLike func(message.LikeEvent), onError func(error)) (Subscription, error)
}

// Sink is where live events land, normally the room's message store.
type Sink interface {
	MergeIncoming(candidate message.Message) msgstore.MergeResult
	AddLike(like message.Like)
	RemoveLike(like message.Like)
}

type Translator interface {
	TranslateMessage(ctx context.Context, msg message.Message, target string) message.Message
}

type Options struct {
	// Translator annotates inbound messages; nil leaves them untranslated.
	Translator Translator
	// Target returns the viewer's current language.
	Target func() string
	// OnDisconnect is called when a live subscription's feed fails.
	OnDisconnect func(roomID string, err error)
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

type Bridge struct {
	feed Feed
	opts Options

	mu      sync.Mutex
	gen     uint64
	current *Handle

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewBridge(feed Feed, opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		feed:    feed,
		opts:    opts,
		logger:  logger.Named("bridge"),
		metrics: opts.Metrics,
	}
}

type event struct {
	msg  *message.Message
	like *message.LikeEvent
}

// Handle is one generation of the room subscription. Events are buffered
// until Activate is called.
type Handle struct {
	bridge *Bridge
	gen    uint64
	roomID string
	sink   Sink
	ctx    context.Context
	cancel context.CancelFunc

	// guarded by bridge.mu
	active bool
	buffer []event
	subs   []Subscription
}

func (h *Handle) RoomID() string     { return h.roomID }
func (h *Handle) Generation() uint64 { return h.gen }

// Subscribe tears down any previous subscription and opens the message and
// like feeds for roomID. Events arriving before Activate are buffered.
func (b *Bridge) Subscribe(ctx context.Context, roomID string, sink Sink) (*Handle, error) {
	b.Teardown()

	hctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.gen++
	h := &Handle{bridge: b, gen: b.gen, roomID: roomID, sink: sink, ctx: hctx, cancel: cancel}
	b.current = h
	b.mu.Unlock()

	onError := func(err error) { b.feedFailed(h, err) }

	msgs, err := b.feed.SubscribeMessages(ctx, roomID, func(m message.Message) { b.onMessage(h, m) }, onError)
	if err != nil {
		b.release(h)
		return nil, fmt.Errorf("subscribe messages: %w", err)
	}
	if !h.addSub(msgs) {
		return nil, ErrStale
	}

	likes, err := b.feed.SubscribeLikes(ctx, roomID, func(ev message.LikeEvent) { b.onLike(h, ev) }, onError)
	if err != nil {
		b.release(h)
		return nil, fmt.Errorf("subscribe likes: %w", err)
	}
	if !h.addSub(likes) {
		return nil, ErrStale
	}

	b.logger.Debug("subscribed", zap.String("room", roomID), zap.Uint64("generation", h.gen))
	return h, nil
}

// addSub records an opened subscription, closing it instead when the handle
// was torn down while it was being opened.
func (h *Handle) addSub(sub Subscription) bool {
	b := h.bridge
	b.mu.Lock()
	if h.gen != b.gen {
		b.mu.Unlock()
		_ = sub.Close()
		return false
	}
	h.subs = append(h.subs, sub)
	b.mu.Unlock()
	return true
}

// Activate replays buffered events through the sink in arrival order and
// lets later events merge directly.
func (h *Handle) Activate() error {
	b := h.bridge
	b.mu.Lock()
	defer b.mu.Unlock()
	if h.gen != b.gen {
		return ErrStale
	}
	for _, ev := range h.buffer {
		h.apply(ev)
	}
	h.buffer = nil
	h.active = true
	return nil
}

func (h *Handle) apply(ev event) {
	switch {
	case ev.msg != nil:
		h.sink.MergeIncoming(*ev.msg)
		h.bridge.metrics.Merged("realtime", 1)
	case ev.like != nil:
		if ev.like.Action == message.LikeDelete {
			h.sink.RemoveLike(ev.like.Like)
		} else {
			h.sink.AddLike(ev.like.Like)
		}
	}
}

// Teardown invalidates the current subscription and closes its feeds.
func (b *Bridge) Teardown() {
	b.mu.Lock()
	b.gen++
	h := b.current
	b.current = nil
	b.mu.Unlock()
	if h != nil {
		h.close()
	}
}

func (b *Bridge) Generation() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen
}

// Current reports whether h is the live subscription.
func (b *Bridge) Current(h *Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return h != nil && b.current == h && h.gen == b.gen
}

// Close tears the handle down if it is still the live subscription and
// only closes its own feeds otherwise.
func (h *Handle) Close() {
	h.bridge.release(h)
}

func (b *Bridge) release(h *Handle) {
	b.mu.Lock()
	if b.current == h {
		b.gen++
		b.current = nil
	}
	b.mu.Unlock()
	h.close()
}

func (h *Handle) close() {
	h.cancel()
	h.bridge.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.buffer = nil
	h.bridge.mu.Unlock()
	for _, s := range subs {
		if err := s.Close(); err != nil {
			h.bridge.logger.Debug("close feed", securelog.Err(err))
		}
	}
}

func (b *Bridge) onMessage(h *Handle, m message.Message) {
	if b.stale(h) {
		b.metrics.StaleEvent()
		return
	}
	if m.RoomID != "" && m.RoomID != h.roomID {
		return
	}
	// Translation runs without the lock; the generation is checked again
	// right before the merge.
	if b.opts.Translator != nil && b.opts.Target != nil {
		m = b.opts.Translator.TranslateMessage(h.ctx, m, b.opts.Target())
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if h.gen != b.gen {
		b.metrics.StaleEvent()
		return
	}
	ev := event{msg: &m}
	if !h.active {
		h.buffer = append(h.buffer, ev)
		return
	}
	h.apply(ev)
}

func (b *Bridge) onLike(h *Handle, like message.LikeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h.gen != b.gen {
		b.metrics.StaleEvent()
		return
	}
	ev := event{like: &like}
	if !h.active {
		h.buffer = append(h.buffer, ev)
		return
	}
	h.apply(ev)
}

func (b *Bridge) feedFailed(h *Handle, err error) {
	if b.stale(h) {
		return
	}
	b.logger.Warn("realtime feed lost", zap.String("room", h.roomID), securelog.Err(err))
	if b.opts.OnDisconnect != nil {
		b.opts.OnDisconnect(h.roomID, err)
	}
}

func (b *Bridge) stale(h *Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return h.gen != b.gen
}

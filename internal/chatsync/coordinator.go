// Package chatsync drives a room session: it loads history, keeps the live
// subscription, routes writes through the offline queue when needed and
// exposes a consistent snapshot for the UI. It is the only component a UI
// talks to.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Jason198341/seatcon-sub001/internal/localstore"
	"github.com/Jason198341/seatcon-sub001/internal/message"
	"github.com/Jason198341/seatcon-sub001/internal/metrics"
	"github.com/Jason198341/seatcon-sub001/internal/msgstore"
	"github.com/Jason198341/seatcon-sub001/internal/offline"
	"github.com/Jason198341/seatcon-sub001/internal/prefs"
	"github.com/Jason198341/seatcon-sub001/internal/realtime"
	"github.com/Jason198341/seatcon-sub001/internal/securelog"
	"github.com/Jason198341/seatcon-sub001/internal/transcache"
	"github.com/Jason198341/seatcon-sub001/internal/translate"
)

var (
	ErrNoRoom       = errors.New("no room entered")
	ErrStaleSession = errors.New("session changed while the request was in flight")
	ErrBusy         = errors.New("another load is in progress")
	ErrClosed       = errors.New("coordinator closed")
)

const DefaultPageSize = 50

// Backend is the hosted room data service.
type Backend interface {
	ListRecent(ctx context.Context, roomID string, limit int) ([]message.Message, error)
	ListBefore(ctx context.Context, roomID string, before time.Time, limit int) ([]message.Message, error)
	Insert(ctx context.Context, draft message.Draft) (message.Message, error)
	SetLike(ctx context.Context, roomID string, id message.ID, userID string, liked bool) error
}

type State int

const (
	StateIdle State = iota
	StateLoadingHistory
	StateSubscribed
	StateLoadingOlder
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateLoadingHistory:
		return "loading_history"
	case StateSubscribed:
		return "subscribed"
	case StateLoadingOlder:
		return "loading_older"
	case StateTornDown:
		return "torn_down"
	default:
		return "idle"
	}
}

type User struct {
	ID   string
	Name string
	Role string
}

type Config struct {
	User     User
	PageSize int
	// AnnouncerRole is the role whose latest message is the fallback
	// announcement when nothing is pinned.
	AnnouncerRole   string
	DefaultLanguage string
	CacheTTL        time.Duration
	CacheMaxEntries int
	// StartOffline starts the session with the connectivity hint off.
	StartOffline bool
}

type Deps struct {
	Backend    Backend
	Feed       realtime.Feed
	Translator translate.Translator
	// Records holds the translation cache, offline queues and preferences.
	Records localstore.Store
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type SendOptions struct {
	ReplyTo message.ID
	// SourceLang skips language detection when set.
	SourceLang string
}

type Coordinator struct {
	cfg      Config
	backend  Backend
	cache    *transcache.Cache
	pipeline *translate.Pipeline
	queue    *offline.Queue
	prefs    *prefs.Preferences
	bridge   *realtime.Bridge
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics

	// sendSlot admits one Send at a time so a later message never
	// overtakes an earlier one still in flight.
	sendSlot chan struct{}

	mu      sync.Mutex
	state   State
	session uint64
	roomID  string
	store   *msgstore.Store
	handle  *realtime.Handle
	online  bool
	live    bool
	closed  bool
}

func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Backend == nil || deps.Feed == nil || deps.Translator == nil || deps.Records == nil {
		return nil, errors.New("chatsync: backend, feed, translator and records are required")
	}
	if strings.TrimSpace(cfg.User.ID) == "" {
		return nil, errors.New("chatsync: user id is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.AnnouncerRole == "" {
		cfg.AnnouncerRole = message.RoleSpeaker
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	c := &Coordinator{
		cfg:      cfg,
		backend:  deps.Backend,
		now:      now,
		logger:   logger.Named("chatsync"),
		metrics:  deps.Metrics,
		online:   !cfg.StartOffline,
		sendSlot: make(chan struct{}, 1),
	}
	c.cache = transcache.New(deps.Records, transcache.Options{
		TTL:        cfg.CacheTTL,
		MaxEntries: cfg.CacheMaxEntries,
		Logger:     logger,
		Metrics:    deps.Metrics,
		Now:        now,
	})
	c.pipeline = translate.NewPipeline(deps.Translator, c.cache, logger, deps.Metrics)
	c.queue = offline.New(deps.Records, deps.Backend, offline.Options{Logger: logger, Metrics: deps.Metrics, Now: now})
	c.prefs = prefs.Load(deps.Records, cfg.DefaultLanguage)
	c.bridge = realtime.NewBridge(deps.Feed, realtime.Options{
		Translator:   c.pipeline,
		Target:       c.prefs.Language,
		OnDisconnect: c.onDisconnect,
		Logger:       logger,
		Metrics:      deps.Metrics,
	})
	return c, nil
}

// Enter opens roomID: it subscribes to the live feed, loads the newest page
// of history, then lets buffered live events through. Re-entering the room
// held last keeps its messages. On a history failure the previous view is
// left untouched and the session returns to idle and offline.
func (c *Coordinator) Enter(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrNoRoom
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.session++
	sess := c.session
	store := c.store
	if store == nil || store.RoomID() != roomID {
		store = msgstore.New(roomID)
	}
	c.state = StateLoadingHistory
	c.handle = nil
	c.mu.Unlock()

	h, subErr := c.bridge.Subscribe(ctx, roomID, store)
	if subErr != nil {
		// History still loads; live updates resume on the next Enter.
		c.logger.Warn("realtime subscribe failed", zap.String("room", roomID), securelog.Err(subErr))
	}

	page, err := c.backend.ListRecent(ctx, roomID, c.cfg.PageSize)
	if err != nil {
		if h != nil {
			h.Close()
		}
		c.mu.Lock()
		if sess == c.session {
			// Subscribe already dropped the previous room's feed. Going
			// offline lets the next SetOnline(true) re-enter it.
			c.state = StateIdle
			c.live = false
			c.online = false
		}
		c.mu.Unlock()
		return fmt.Errorf("load history: %w", err)
	}
	page = c.pipeline.TranslateAll(ctx, page, c.prefs.Language())

	c.mu.Lock()
	if sess != c.session {
		c.mu.Unlock()
		if h != nil {
			h.Close()
		}
		return ErrStaleSession
	}
	for _, m := range page {
		store.MergeIncoming(m)
	}
	c.metrics.Merged("history", len(page))
	c.roomID = roomID
	c.store = store
	c.handle = h
	c.live = h != nil
	if subErr != nil {
		c.online = false
	}
	c.state = StateSubscribed
	online := c.online
	c.mu.Unlock()

	if h != nil {
		if err := h.Activate(); err != nil {
			return ErrStaleSession
		}
	}

	for _, e := range c.queue.Pending(roomID) {
		queued := e.Message
		queued.Delivery = e.Delivery()
		store.MergeIncoming(c.pipeline.TranslateMessage(ctx, queued, c.prefs.Language()))
	}

	if online {
		c.flush(ctx, roomID, store)
	}
	return nil
}

// LoadOlder fetches the page before the oldest confirmed message held and
// reports whether more history may exist.
func (c *Coordinator) LoadOlder(ctx context.Context) (bool, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return false, ErrClosed
	case c.roomID == "" || c.store == nil || c.state == StateIdle || c.state == StateTornDown:
		c.mu.Unlock()
		return false, ErrNoRoom
	case c.state != StateSubscribed:
		c.mu.Unlock()
		return false, ErrBusy
	}
	oldest, ok := c.store.Oldest()
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	sess, roomID, store := c.session, c.roomID, c.store
	c.state = StateLoadingOlder
	c.mu.Unlock()

	page, err := c.backend.ListBefore(ctx, roomID, oldest.CreatedAt, c.cfg.PageSize)
	if err == nil {
		page = c.pipeline.TranslateAll(ctx, page, c.prefs.Language())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sess != c.session {
		return false, ErrStaleSession
	}
	c.state = StateSubscribed
	if err != nil {
		return false, fmt.Errorf("load older: %w", err)
	}
	store.PrependOlder(page)
	c.metrics.Merged("history", len(page))
	return len(page) == c.cfg.PageSize, nil
}

// Leave stops live updates. The room's messages are kept for a later Enter.
func (c *Coordinator) Leave() {
	c.mu.Lock()
	c.session++
	c.state = StateTornDown
	c.roomID = ""
	c.handle = nil
	c.live = false
	c.mu.Unlock()
	c.bridge.Teardown()
}

// Close ends the session for good, e.g. on sign-out.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Leave()
}

// Send writes text to the current room. The message is shown immediately
// under a provisional id; any write failure routes it through the offline
// queue instead of surfacing an error.
func (c *Coordinator) Send(ctx context.Context, text string, opts SendOptions) (message.Message, error) {
	select {
	case c.sendSlot <- struct{}{}:
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	}
	defer func() { <-c.sendSlot }()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return message.Message{}, ErrClosed
	}
	roomID, store, online := c.roomID, c.store, c.online
	c.mu.Unlock()
	if roomID == "" || store == nil {
		return message.Message{}, ErrNoRoom
	}

	target := c.prefs.Language()
	source := opts.SourceLang
	switch {
	case source != "":
	case !online:
		// Detection is remote; offline sends take the preferred language.
		source = target
	default:
		_, source = c.pipeline.DetectLanguage(ctx, text, target)
	}

	draft := message.Draft{
		ClientID:   message.NewProvisionalID(c.now()),
		RoomID:     roomID,
		AuthorID:   c.cfg.User.ID,
		AuthorName: c.cfg.User.Name,
		Role:       c.cfg.User.Role,
		Content:    text,
		SourceLang: source,
		ReplyTo:    opts.ReplyTo,
	}
	if err := draft.Validate(); err != nil {
		return message.Message{}, err
	}

	// Earlier queued writes go first so the room sees them in order.
	if !online || c.queue.Len(roomID) > 0 {
		queued, err := c.queue.Enqueue(ctx, draft)
		if err != nil {
			return message.Message{}, err
		}
		store.MergeIncoming(c.pipeline.TranslateMessage(ctx, queued, target))
		if online {
			c.flush(ctx, roomID, store)
		}
		return c.latest(store, queued), nil
	}

	placeholder := draft.Provisional(draft.ClientID, c.now(), message.DeliverySyncing)
	store.MergeIncoming(c.pipeline.TranslateMessage(ctx, placeholder, target))

	confirmed, err := c.backend.Insert(ctx, draft)
	if err != nil {
		c.logger.Info("direct write failed, queueing", zap.String("room", roomID), securelog.Err(err))
		queued, qerr := c.queue.Enqueue(ctx, draft)
		if qerr != nil {
			store.SetDelivery(draft.ClientID, message.DeliveryFailed)
			return placeholder, qerr
		}
		store.SetDelivery(draft.ClientID, message.DeliveryPending)
		return c.latest(store, queued), nil
	}

	if confirmed.ClientID == "" {
		confirmed.ClientID = draft.ClientID
	}
	confirmed = c.pipeline.TranslateMessage(ctx, confirmed, target)
	store.ReplaceProvisional(draft.ClientID, confirmed)
	return c.latest(store, confirmed), nil
}

// latest returns the store's view of m, which may have been reconciled in
// the meantime.
func (c *Coordinator) latest(store *msgstore.Store, m message.Message) message.Message {
	if got, ok := store.Get(m.ID); ok {
		return got
	}
	for _, held := range store.Snapshot() {
		if held.ClientID != "" && held.ClientID == m.ID {
			return held
		}
	}
	return m
}

// ToggleLike flips the local user's like on id and writes it through.
// Provisional messages can only be liked locally.
func (c *Coordinator) ToggleLike(ctx context.Context, id message.ID) (bool, error) {
	c.mu.Lock()
	roomID, store := c.roomID, c.store
	c.mu.Unlock()
	if roomID == "" || store == nil {
		return false, ErrNoRoom
	}

	liked := store.ToggleLike(id, c.cfg.User.ID)
	if message.IsProvisionalID(id) {
		return liked, nil
	}
	if err := c.backend.SetLike(ctx, roomID, id, c.cfg.User.ID, liked); err != nil {
		store.ToggleLike(id, c.cfg.User.ID)
		return !liked, fmt.Errorf("toggle like: %w", err)
	}
	return liked, nil
}

// SetOnline updates the connectivity hint. Coming back online flushes the
// current room's queue, and resubscribes first if the live feed was lost.
func (c *Coordinator) SetOnline(ctx context.Context, online bool) error {
	c.mu.Lock()
	wasOnline := c.online
	c.online = online
	roomID, store, live := c.roomID, c.store, c.live
	c.mu.Unlock()

	if !online || wasOnline || roomID == "" {
		return nil
	}
	if !live {
		return c.Enter(ctx, roomID)
	}
	c.flush(ctx, roomID, store)
	return nil
}

// Retry flushes the current room's queue now.
func (c *Coordinator) Retry(ctx context.Context) (offline.FlushResult, error) {
	c.mu.Lock()
	roomID, store := c.roomID, c.store
	c.mu.Unlock()
	if roomID == "" || store == nil {
		return offline.FlushResult{}, ErrNoRoom
	}
	return c.queue.Flush(ctx, roomID, store)
}

// Discard drops a queued message that has not been confirmed.
func (c *Coordinator) Discard(ctx context.Context, id message.ID) error {
	c.mu.Lock()
	roomID, store := c.roomID, c.store
	c.mu.Unlock()
	if roomID == "" || store == nil {
		return ErrNoRoom
	}
	if err := c.queue.Discard(ctx, roomID, id); err != nil {
		return err
	}
	store.RemoveProvisional(id)
	return nil
}

// SetPreferredLanguage saves lang and re-translates the messages held.
func (c *Coordinator) SetPreferredLanguage(ctx context.Context, lang string) error {
	if err := c.prefs.SetLanguage(lang); err != nil {
		return err
	}
	c.mu.Lock()
	store, sess := c.store, c.session
	c.mu.Unlock()
	if store == nil {
		return nil
	}
	lang = c.prefs.Language()
	for _, m := range store.Snapshot() {
		m.Translation = message.Translation{}
		translated := c.pipeline.TranslateMessage(ctx, m, lang)
		c.mu.Lock()
		stale := sess != c.session
		c.mu.Unlock()
		if stale {
			return ErrStaleSession
		}
		store.SetTranslation(m.ID, translated.Translation)
	}
	return nil
}

func (c *Coordinator) PreferredLanguage() string {
	return c.prefs.Language()
}

// Snapshot returns the current room's messages in display order.
func (c *Coordinator) Snapshot() []message.Message {
	c.mu.Lock()
	store := c.store
	c.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Snapshot()
}

// Announcement returns the pinned message, or else the newest message from
// the announcer role.
func (c *Coordinator) Announcement() (message.Message, bool) {
	c.mu.Lock()
	store := c.store
	c.mu.Unlock()
	if store == nil {
		return message.Message{}, false
	}
	if m, ok := store.Pinned(); ok {
		return m, true
	}
	return store.LastByRole(c.cfg.AnnouncerRole)
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *Coordinator) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// QueueLen reports how many messages of the current room await delivery.
func (c *Coordinator) QueueLen() int {
	roomID := c.RoomID()
	if roomID == "" {
		return 0
	}
	return c.queue.Len(roomID)
}

func (c *Coordinator) flush(ctx context.Context, roomID string, store *msgstore.Store) {
	res, err := c.queue.Flush(ctx, roomID, store)
	if err != nil {
		c.logger.Info("offline queue flush stopped",
			zap.String("room", roomID),
			zap.Int("confirmed", len(res.Confirmed)),
			zap.Int("remaining", res.Remaining),
			securelog.Err(err),
		)
	}
}

func (c *Coordinator) onDisconnect(roomID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if roomID != c.roomID {
		return
	}
	c.online = false
	c.live = false
	c.logger.Warn("realtime disconnected, switching to offline", zap.String("room", roomID), securelog.Err(err))
}

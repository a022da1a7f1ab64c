// Package msgstore holds the in-memory view of one room: messages in display
// order, deduplicated by id, plus the like sets per message. Every message
// source (history pages, the realtime feed, confirmed offline writes) goes
// through MergeIncoming, so nothing is ever shown twice.
package msgstore

import (
	"sort"
	"sync"
	"time"

	"github.com/Jason198341/seatcon-sub001/internal/message"
)

type MergeResult int

const (
	Inserted MergeResult = iota
	Updated
	// Reconciled means the candidate replaced the provisional entry it was
	// created under.
	Reconciled
)

func (r MergeResult) String() string {
	switch r {
	case Updated:
		return "updated"
	case Reconciled:
		return "reconciled"
	default:
		return "inserted"
	}
}

// entry keeps the position a message was first shown at. A confirmed
// message that replaces a provisional one inherits its order key.
type entry struct {
	msg     message.Message
	orderAt time.Time
	orderID message.ID
}

func (e *entry) before(o *entry) bool {
	if !e.orderAt.Equal(o.orderAt) {
		return e.orderAt.Before(o.orderAt)
	}
	return compareIDs(e.orderID, o.orderID) < 0
}

type Store struct {
	mu      sync.Mutex
	roomID  string
	entries []*entry
	index   map[message.ID]*entry
	likes   map[message.ID]map[string]struct{}
}

func New(roomID string) *Store {
	return &Store{
		roomID: roomID,
		index:  make(map[message.ID]*entry),
		likes:  make(map[message.ID]map[string]struct{}),
	}
}

func (s *Store) RoomID() string { return s.roomID }

// MergeIncoming adds candidate or folds it into the record it duplicates.
func (s *Store) MergeIncoming(candidate message.Message) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(candidate)
}

func (s *Store) mergeLocked(candidate message.Message) MergeResult {
	candidate = normalize(candidate)
	if e, ok := s.index[candidate.ID]; ok {
		e.msg = mergeFields(e.msg, candidate)
		return Updated
	}
	if candidate.ClientID != "" && candidate.ClientID != candidate.ID {
		if _, ok := s.index[candidate.ClientID]; ok && message.IsProvisionalID(candidate.ClientID) {
			s.replaceLocked(candidate.ClientID, candidate)
			return Reconciled
		}
	}
	s.insertLocked(&entry{msg: candidate, orderAt: candidate.CreatedAt, orderID: candidate.ID})
	return Inserted
}

// ReplaceProvisional swaps the provisional entry for its confirmed
// counterpart at the same position. It reports false when no such
// provisional entry is held; the confirmed message is merged regardless.
func (s *Store) ReplaceProvisional(provisionalID message.ID, confirmed message.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[provisionalID]; !ok || !message.IsProvisionalID(provisionalID) {
		s.mergeLocked(confirmed)
		return false
	}
	s.replaceLocked(provisionalID, normalize(confirmed))
	return true
}

func (s *Store) replaceLocked(provisionalID message.ID, confirmed message.Message) {
	prov := s.index[provisionalID]

	// The feed may have delivered the confirmed record first.
	if dup, ok := s.index[confirmed.ID]; ok && dup != prov {
		confirmed = mergeFields(dup.msg, confirmed)
		s.removeEntryLocked(dup)
	}
	if confirmed.Translation.Status == message.TranslationNone && prov.msg.Content == confirmed.Content {
		confirmed.Translation = prov.msg.Translation
	}
	if confirmed.ClientID == "" {
		confirmed.ClientID = provisionalID
	}

	prov.msg = confirmed
	delete(s.index, provisionalID)
	s.index[confirmed.ID] = prov

	if liked, ok := s.likes[provisionalID]; ok {
		set := s.likeSetLocked(confirmed.ID)
		for user := range liked {
			set[user] = struct{}{}
		}
		delete(s.likes, provisionalID)
	}
}

// PrependOlder merges a page of older history and re-sorts once.
func (s *Store) PrependOlder(batch []message.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, m := range batch {
		if s.mergeLocked(m) == Inserted {
			inserted++
		}
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].before(s.entries[j])
	})
	return inserted
}

// LastByRole returns the newest non-deleted message whose author has role.
func (s *Store) LastByRole(role string) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		m := s.entries[i].msg
		if m.Role == role && !m.Deleted {
			return s.withLikesLocked(m), true
		}
	}
	return message.Message{}, false
}

// Pinned returns the newest pinned, non-deleted message.
func (s *Store) Pinned() (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		m := s.entries[i].msg
		if m.Pinned && !m.Deleted {
			return s.withLikesLocked(m), true
		}
	}
	return message.Message{}, false
}

func (s *Store) LikesFor(id message.ID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.likes[id])
}

func (s *Store) LikedBy(id message.ID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.likes[id][userID]
	return ok
}

// ToggleLike flips userID's like on id and returns the new state.
func (s *Store) ToggleLike(id message.ID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.likeSetLocked(id)
	if _, ok := set[userID]; ok {
		delete(set, userID)
		return false
	}
	set[userID] = struct{}{}
	return true
}

func (s *Store) AddLike(like message.Like) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likeSetLocked(like.MessageID)[like.UserID] = struct{}{}
}

func (s *Store) RemoveLike(like message.Like) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.likes[like.MessageID]; ok {
		delete(set, like.UserID)
		if len(set) == 0 {
			delete(s.likes, like.MessageID)
		}
	}
}

// SetDelivery updates the delivery status unless it would move a
// confirmed message backwards.
func (s *Store) SetDelivery(id message.ID, status message.Delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index[id]
	if !ok || !status.Supersedes(e.msg.Delivery) {
		return false
	}
	e.msg.Delivery = status
	return true
}

// SetTranslation replaces the translation annotation of id.
func (s *Store) SetTranslation(id message.ID, t message.Translation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index[id]
	if !ok {
		return false
	}
	e.msg.Translation = t
	return true
}

// RemoveProvisional drops a provisional entry. Confirmed messages are never
// removed.
func (s *Store) RemoveProvisional(id message.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index[id]
	if !ok || !message.IsProvisionalID(id) {
		return false
	}
	s.removeEntryLocked(e)
	delete(s.likes, id)
	return true
}

// Snapshot returns the messages in display order with like counts filled in.
func (s *Store) Snapshot() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = s.withLikesLocked(e.msg)
	}
	return out
}

// Oldest returns the oldest confirmed message, the cursor for older pages.
func (s *Store) Oldest() (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *entry
	for _, e := range s.entries {
		if e.msg.Identity() != message.Confirmed {
			continue
		}
		if oldest == nil || e.msg.CreatedAt.Before(oldest.msg.CreatedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return message.Message{}, false
	}
	return oldest.msg, true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) Get(id message.ID) (message.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index[id]
	if !ok {
		return message.Message{}, false
	}
	return s.withLikesLocked(e.msg), true
}

func (s *Store) insertLocked(e *entry) {
	// After the last entry that does not sort after e, so ties keep arrival order.
	i := sort.Search(len(s.entries), func(i int) bool { return e.before(s.entries[i]) })
	s.entries = append(s.entries, nil)
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
	s.index[e.msg.ID] = e
}

func (s *Store) removeEntryLocked(e *entry) {
	for i, cur := range s.entries {
		if cur == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
	if s.index[e.msg.ID] == e {
		delete(s.index, e.msg.ID)
	}
}

func (s *Store) likeSetLocked(id message.ID) map[string]struct{} {
	set, ok := s.likes[id]
	if !ok {
		set = make(map[string]struct{})
		s.likes[id] = set
	}
	return set
}

func (s *Store) withLikesLocked(m message.Message) message.Message {
	m.Likes = len(s.likes[m.ID])
	return m
}

func normalize(m message.Message) message.Message {
	if m.Identity() == message.Confirmed {
		m.Delivery = message.DeliveryConfirmed
	} else if m.Delivery == "" {
		m.Delivery = message.DeliveryPending
	}
	return m
}

// mergeFields folds an update into an existing record. Identity is kept,
// delivery never moves backwards and a translation is only replaced by
// another one.
func mergeFields(existing, update message.Message) message.Message {
	out := update
	out.ID = existing.ID
	if out.ClientID == "" {
		out.ClientID = existing.ClientID
	}
	if !update.Delivery.Supersedes(existing.Delivery) {
		out.Delivery = existing.Delivery
	}
	if update.Translation.Status == message.TranslationNone ||
		(update.Translation.Status == message.TranslationFailed && existing.Translation.Status == message.TranslationDone &&
			existing.Translation.TargetLang == update.Translation.TargetLang) {
		out.Translation = existing.Translation
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = existing.CreatedAt
	}
	return out
}

// compareIDs orders decimal ids numerically and everything else lexically.
func compareIDs(a, b message.ID) int {
	if isDecimal(a) && isDecimal(b) && len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func isDecimal(id message.ID) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

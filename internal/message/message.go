package message

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type ID string

// ProvisionalPrefix marks ids generated on the client before the backend
// confirmed the write.
const ProvisionalPrefix = "local_"

// LangUnknown is reported when language detection fails.
const LangUnknown = "unknown"

const (
	RoleAttendee = "attendee"
	RoleSpeaker  = "speaker"
	RoleAdmin    = "admin"
)

type Identity int

const (
	Confirmed Identity = iota
	Provisional
)

func (i Identity) String() string {
	if i == Provisional {
		return "provisional"
	}
	return "confirmed"
}

type Delivery string

const (
	DeliveryPending   Delivery = "pending"
	DeliverySyncing   Delivery = "syncing"
	DeliveryConfirmed Delivery = "confirmed"
	DeliveryFailed    Delivery = "failed"
)

// Supersedes reports whether d may replace current on an existing record.
// A confirmed message never moves back to an in-flight state.
func (d Delivery) Supersedes(current Delivery) bool {
	if d == "" {
		return false
	}
	if current == DeliveryConfirmed {
		return d == DeliveryConfirmed
	}
	return true
}

type TranslationStatus string

const (
	TranslationNone   TranslationStatus = ""
	TranslationDone   TranslationStatus = "translated"
	TranslationFailed TranslationStatus = "failed"
)

type Translation struct {
	Text       string
	TargetLang string
	Status     TranslationStatus
}

type Message struct {
	ID         ID        `json:"id"`
	ClientID   ID        `json:"client_id,omitempty"`
	RoomID     string    `json:"room_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Role       string    `json:"role,omitempty"`
	Content    string    `json:"content"`
	SourceLang string    `json:"source_lang,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ReplyTo    ID        `json:"reply_to,omitempty"`
	Pinned     bool      `json:"pinned,omitempty"`
	Deleted    bool      `json:"deleted,omitempty"`

	// Derived on the client, never sent to the backend.
	Translation Translation `json:"-"`
	Delivery    Delivery    `json:"-"`
	Likes       int         `json:"-"`
}

func (m Message) Identity() Identity {
	if IsProvisionalID(m.ID) {
		return Provisional
	}
	return Confirmed
}

func (m Message) IsTranslated() bool {
	return m.Translation.Status == TranslationDone
}

// DisplayText returns the translated content when available.
func (m Message) DisplayText() string {
	if m.IsTranslated() && m.Translation.Text != "" {
		return m.Translation.Text
	}
	return m.Content
}

func IsProvisionalID(id ID) bool {
	return strings.HasPrefix(string(id), ProvisionalPrefix)
}

// NewProvisionalID returns local_<unix-millis>_<random>.
func NewProvisionalID(now time.Time) ID {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return ID(fmt.Sprintf("%s%d_%s", ProvisionalPrefix, now.UnixMilli(), random))
}

type Like struct {
	MessageID ID     `json:"message_id"`
	UserID    string `json:"user_id"`
}

type LikeAction string

const (
	LikeInsert LikeAction = "insert"
	LikeDelete LikeAction = "delete"
)

type LikeEvent struct {
	Action LikeAction
	Like   Like
}

// Draft is a message the local user is about to send.
type Draft struct {
	ClientID   ID     `validate:"omitempty,startswith=local_"`
	RoomID     string `validate:"required,max=128"`
	AuthorID   string `validate:"required,max=128"`
	AuthorName string `validate:"max=256"`
	Role       string `validate:"omitempty,oneof=attendee speaker admin"`
	Content    string `validate:"required,max=4096"`
	SourceLang string `validate:"max=16"`
	ReplyTo    ID
}

var ErrInvalidDraft = errors.New("invalid draft")

var validate = validator.New(validator.WithRequiredStructEnabled())

func (d Draft) Validate() error {
	if strings.TrimSpace(d.Content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidDraft)
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	return nil
}

// Provisional builds the placeholder message shown while the draft is in flight.
func (d Draft) Provisional(id ID, createdAt time.Time, delivery Delivery) Message {
	return Message{
		ID:         id,
		RoomID:     d.RoomID,
		AuthorID:   d.AuthorID,
		AuthorName: d.AuthorName,
		Role:       d.Role,
		Content:    d.Content,
		SourceLang: d.SourceLang,
		CreatedAt:  createdAt,
		ReplyTo:    d.ReplyTo,
		Delivery:   delivery,
	}
}

// Realtime event types carried on the change feed.
const (
	EventMessageInsert = "message.insert"
	EventLikeInsert    = "like.insert"
	EventLikeDelete    = "like.delete"
)

// Event is the envelope pushed on the realtime feed.
type Event struct {
	Type    string   `json:"type"`
	Message *Message `json:"message,omitempty"`
	Like    *Like    `json:"like,omitempty"`
}

// LikeEvent converts a like envelope; ok is false for other event types.
func (e Event) LikeEvent() (LikeEvent, bool) {
	if e.Like == nil {
		return LikeEvent{}, false
	}
	switch e.Type {
	case EventLikeInsert:
		return LikeEvent{Action: LikeInsert, Like: *e.Like}, true
	case EventLikeDelete:
		return LikeEvent{Action: LikeDelete, Like: *e.Like}, true
	}
	return LikeEvent{}, false
}

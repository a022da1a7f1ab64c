// Package ws is the reference backend's realtime change feed: one websocket
// per room stream, fanned out from the room service's notifications.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/Jason198341/seatcon-sub001/internal/message"
	"github.com/Jason198341/seatcon-sub001/internal/securelog"
)

const (
	sendBuffer    = 64
	publishBuffer = 256
	writeTimeout  = 5 * time.Second

	StreamMessages = "messages"
	StreamLikes    = "likes"
)

var ErrUnauthorized = errors.New("unauthorized")

type topic struct {
	room   string
	stream string
}

type publication struct {
	topic topic
	data  []byte
}

// Hub tracks subscribers per room stream. Run must be running for
// subscriptions and publications to make progress.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	publish    chan publication
	done       chan struct{}
	doneOnce   sync.Once
	clients    map[*Client]struct{}
	byTopic    map[topic]map[*Client]struct{}
	serviceKey string
	logger     *zap.Logger
	count      atomic.Int64
}

func NewHub(serviceKey string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		publish:    make(chan publication, publishBuffer),
		done:       make(chan struct{}),
		clients:    make(map[*Client]struct{}),
		byTopic:    make(map[topic]map[*Client]struct{}),
		serviceKey: serviceKey,
		logger:     logger.Named("ws"),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer h.doneOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.close(websocket.StatusGoingAway, "server shutdown")
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			if h.byTopic[c.topic] == nil {
				h.byTopic[c.topic] = make(map[*Client]struct{})
			}
			h.byTopic[c.topic][c] = struct{}{}
			h.count.Add(1)
		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}
			delete(h.clients, c)
			if subs := h.byTopic[c.topic]; subs != nil {
				delete(subs, c)
				if len(subs) == 0 {
					delete(h.byTopic, c.topic)
				}
			}
			h.count.Add(-1)
			c.close(websocket.StatusNormalClosure, "bye")
		case p := <-h.publish:
			for c := range h.byTopic[p.topic] {
				if !c.Send(p.data) {
					h.logger.Warn("subscriber too slow, dropping connection",
						zap.String("room", c.topic.room), zap.String("stream", c.topic.stream))
					delete(h.clients, c)
					delete(h.byTopic[p.topic], c)
					h.count.Add(-1)
					c.close(websocket.StatusPolicyViolation, "too slow")
				}
			}
		}
	}
}

func (h *Hub) ClientCount() int64 {
	return h.count.Load()
}

// MessageInserted publishes a message.insert event to the room's message stream.
func (h *Hub) MessageInserted(roomID string, msg message.Message) {
	h.enqueue(topic{room: roomID, stream: StreamMessages}, message.Event{
		Type:    message.EventMessageInsert,
		Message: &msg,
	})
}

// LikeChanged publishes a like.insert or like.delete event to the room's
// like stream.
func (h *Hub) LikeChanged(roomID string, ev message.LikeEvent) {
	eventType := message.EventLikeInsert
	if ev.Action == message.LikeDelete {
		eventType = message.EventLikeDelete
	}
	like := ev.Like
	h.enqueue(topic{room: roomID, stream: StreamLikes}, message.Event{Type: eventType, Like: &like})
}

func (h *Hub) enqueue(t topic, ev message.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		securelog.Error(h.logger, "ws.publish", err)
		return
	}
	select {
	case h.publish <- publication{topic: t, data: data}:
	case <-h.done:
	}
}

func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := h.authenticate(r); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	t := topic{room: strings.TrimSpace(q.Get("room")), stream: strings.TrimSpace(q.Get("stream"))}
	if t.room == "" || (t.stream != StreamMessages && t.stream != StreamLikes) {
		http.Error(w, "room and stream=messages|likes are required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		conn:   conn,
		hub:    h,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendBuffer),
		topic:  t,
	}

	select {
	case h.register <- client:
	case <-h.done:
		cancel()
		_ = conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}

	go client.writeLoop()
	go client.readLoop()
}

func (h *Hub) authenticate(r *http.Request) error {
	if h.serviceKey == "" {
		return ErrUnauthorized
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		parts := strings.Fields(r.Header.Get("Authorization"))
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			token = parts[1]
		}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.serviceKey)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

type Client struct {
	conn      *websocket.Conn
	hub       *Hub
	ctx       context.Context
	cancel    context.CancelFunc
	send      chan []byte
	closeOnce sync.Once
	topic     topic
}

func (c *Client) Send(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// readLoop only drains control frames; subscribers never publish.
func (c *Client) readLoop() {
	defer c.hub.leave(c)

	for {
		if _, _, err := c.conn.Read(c.ctx); err != nil {
			if !isExpectedDisconnectError(err) && c.ctx.Err() == nil {
				c.hub.logger.Debug("subscriber read failed", securelog.Err(err))
			}
			return
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.hub.leave(c)
				return
			}
		}
	}
}

func (c *Client) close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		_ = c.conn.Close(status, reason)
	})
}

func isExpectedDisconnectError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/Jason198341/seatcon-sub001/internal/message"
)

const (
	StreamMessages = "messages"
	StreamLikes    = "likes"
)

// WSFeed subscribes to the backend change feed over websockets, one
// connection per room stream.
type WSFeed struct {
	serverURL  string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewWSFeed(serverURL, token string, httpClient *http.Client, logger *zap.Logger) *WSFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSFeed{
		serverURL:  strings.TrimRight(serverURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger.Named("wsfeed"),
	}
}

func (f *WSFeed) SubscribeMessages(ctx context.Context, roomID string, onMessage func(message.Message), onError func(error)) (Subscription, error) {
	return f.subscribe(ctx, roomID, StreamMessages, func(ev message.Event) {
		if ev.Type == message.EventMessageInsert && ev.Message != nil {
			onMessage(*ev.Message)
		}
	}, onError)
}

func (f *WSFeed) SubscribeLikes(ctx context.Context, roomID string, onLike func(message.LikeEvent), onError func(error)) (Subscription, error) {
	return f.subscribe(ctx, roomID, StreamLikes, func(ev message.Event) {
		if like, ok := ev.LikeEvent(); ok {
			onLike(like)
		}
	}, onError)
}

func (f *WSFeed) streamURL(roomID, stream string) string {
	wsURL := strings.Replace(f.serverURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	q := url.Values{}
	q.Set("room", roomID)
	q.Set("stream", stream)
	if f.token != "" {
		q.Set("token", f.token)
	}
	return wsURL + "/ws?" + q.Encode()
}

func (f *WSFeed) subscribe(ctx context.Context, roomID, stream string, deliver func(message.Event), onError func(error)) (Subscription, error) {
	var opts *websocket.DialOptions
	if f.httpClient != nil {
		opts = &websocket.DialOptions{HTTPClient: f.httpClient}
	}
	conn, _, err := websocket.Dial(ctx, f.streamURL(roomID, stream), opts)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	sub := &wsSubscription{conn: conn, ctx: readCtx, cancel: cancel}
	go sub.readLoop(deliver, onError, f.logger)
	return sub, nil
}

type wsSubscription struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

func (s *wsSubscription) readLoop(deliver func(message.Event), onError func(error), logger *zap.Logger) {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if !s.isClosed() && onError != nil {
				onError(err)
			}
			return
		}
		var ev message.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Debug("dropping undecodable event")
			continue
		}
		deliver(ev)
	}
}

func (s *wsSubscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *wsSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}

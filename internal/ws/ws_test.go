package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/Jason198341/seatcon-sub001/internal/message"
)

const testKey = "service-key-0123456789"

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(testKey, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?"+query, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) message.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev message.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func TestHandleWSRejectsBadCredentials(t *testing.T) {
	_, srv := startHub(t)

	for name, query := range map[string]string{
		"missing token": "room=r1&stream=messages",
		"wrong token":   "room=r1&stream=messages&token=nope",
	} {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?"+query, nil)
		cancel()
		if err == nil {
			t.Fatalf("%s: expected dial failure", name)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %+v", name, resp)
		}
	}
}

func TestHandleWSRejectsUnknownStream(t *testing.T) {
	for _, query := range []string{"room=r1&stream=typing", "stream=messages"} {
		req := httptest.NewRequest(http.MethodGet, "/ws?"+query+"&token="+testKey, nil)
		rr := httptest.NewRecorder()
		NewHub(testKey, nil).HandleWS(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", query, rr.Code)
		}
	}
}

func TestAuthenticateAcceptsBearerHeader(t *testing.T) {
	hub := NewHub(testKey, nil)
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "bearer "+testKey)
	if err := hub.authenticate(req); err != nil {
		t.Fatalf("authenticate() error = %v", err)
	}

	if err := NewHub("", nil).authenticate(req); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("empty service key must reject, got %v", err)
	}
}

func TestHubRoutesEventsByRoomAndStream(t *testing.T) {
	hub, srv := startHub(t)

	messages := dial(t, srv, "room=r1&stream=messages&token="+testKey)
	likes := dial(t, srv, "room=r1&stream=likes&token="+testKey)
	other := dial(t, srv, "room=r2&stream=messages&token="+testKey)
	waitFor(t, time.Second, func() bool { return hub.ClientCount() == 3 })

	hub.MessageInserted("r1", message.Message{ID: "42", RoomID: "r1", Content: "hello", ClientID: "local_1_abc"})
	ev := readEvent(t, messages)
	if ev.Type != message.EventMessageInsert || ev.Message == nil || ev.Message.ID != "42" || ev.Message.ClientID != "local_1_abc" {
		t.Fatalf("unexpected message event: %+v", ev)
	}

	hub.LikeChanged("r1", message.LikeEvent{Action: message.LikeDelete, Like: message.Like{MessageID: "42", UserID: "u2"}})
	ev = readEvent(t, likes)
	like, ok := ev.LikeEvent()
	if !ok || like.Action != message.LikeDelete || like.Like.UserID != "u2" {
		t.Fatalf("unexpected like event: %+v", ev)
	}

	hub.MessageInserted("r2", message.Message{ID: "43", RoomID: "r2", Content: "other room"})
	ev = readEvent(t, other)
	if ev.Message == nil || ev.Message.ID != "43" {
		t.Fatalf("r2 subscriber got %+v", ev)
	}
}

func TestHubUnregistersOnClientClose(t *testing.T) {
	hub, srv := startHub(t)

	conn := dial(t, srv, "room=r1&stream=messages&token="+testKey)
	waitFor(t, time.Second, func() bool { return hub.ClientCount() == 1 })

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, time.Second, func() bool { return hub.ClientCount() == 0 })
}

func TestHubShutdownStopsPublishing(t *testing.T) {
	hub := NewHub(testKey, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	for i := 0; i < publishBuffer+1; i++ {
		hub.MessageInserted("r1", message.Message{ID: "1"})
	}
}

func TestClientSendFullBuffer(t *testing.T) {
	c := &Client{send: make(chan []byte, 1)}
	if !c.Send([]byte("a")) {
		t.Fatal("expected first send to succeed")
	}
	if c.Send([]byte("b")) {
		t.Fatal("expected send on full buffer to fail")
	}
}

func TestIsExpectedDisconnectError(t *testing.T) {
	if isExpectedDisconnectError(nil) {
		t.Fatal("expected nil error to return false")
	}
	if !isExpectedDisconnectError(io.EOF) {
		t.Fatal("expected io.EOF to return true")
	}
	if !isExpectedDisconnectError(errors.New("use of closed network connection")) {
		t.Fatal("expected closed network connection to return true")
	}
	if isExpectedDisconnectError(errors.New("other")) {
		t.Fatal("expected other error to return false")
	}
}

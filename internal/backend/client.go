// Package backend is the HTTP client for the hosted room data service.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Jason198341/seatcon-sub001/internal/message"
)

type Client struct {
	serverURL  string
	token      string
	httpClient *http.Client
}

func NewClient(serverURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

type apiError struct {
	Error string `json:"error"`
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server: %s", e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

type listMessagesResponse struct {
	Messages []message.Message `json:"messages"`
}

type messageResponse struct {
	Message message.Message `json:"message"`
}

// PostMessageRequest is the write payload for a new message.
type PostMessageRequest struct {
	AuthorID   string     `json:"author_id"`
	AuthorName string     `json:"author_name,omitempty"`
	Role       string     `json:"role,omitempty"`
	Content    string     `json:"content"`
	SourceLang string     `json:"source_lang,omitempty"`
	ReplyTo    message.ID `json:"reply_to,omitempty"`
	ClientID   message.ID `json:"client_id,omitempty"`
}

func roomPath(roomID string) string {
	return "/rooms/" + url.PathEscape(roomID) + "/messages"
}

// ListRecent returns the newest limit messages of the room, oldest first.
func (c *Client) ListRecent(ctx context.Context, roomID string, limit int) ([]message.Message, error) {
	return c.list(ctx, roomID, time.Time{}, limit)
}

// ListBefore returns up to limit messages created strictly before before,
// oldest first.
func (c *Client) ListBefore(ctx context.Context, roomID string, before time.Time, limit int) ([]message.Message, error) {
	return c.list(ctx, roomID, before, limit)
}

func (c *Client) list(ctx context.Context, roomID string, before time.Time, limit int) ([]message.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	var resp listMessagesResponse
	if err := c.doJSON(ctx, http.MethodGet, roomPath(roomID)+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return resp.Messages, nil
}

// Insert writes draft and returns the stored message with its backend id.
func (c *Client) Insert(ctx context.Context, draft message.Draft) (message.Message, error) {
	payload := PostMessageRequest{
		AuthorID:   draft.AuthorID,
		AuthorName: draft.AuthorName,
		Role:       draft.Role,
		Content:    draft.Content,
		SourceLang: draft.SourceLang,
		ReplyTo:    draft.ReplyTo,
		ClientID:   draft.ClientID,
	}
	var resp messageResponse
	if err := c.doJSON(ctx, http.MethodPost, roomPath(draft.RoomID), payload, &resp); err != nil {
		return message.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return resp.Message, nil
}

func (c *Client) SetLike(ctx context.Context, roomID string, id message.ID, userID string, liked bool) error {
	method := http.MethodPut
	if !liked {
		method = http.MethodDelete
	}
	path := roomPath(roomID) + "/" + url.PathEscape(string(id)) + "/likes/" + url.PathEscape(userID)
	if err := c.doJSON(ctx, method, path, nil, nil); err != nil {
		return fmt.Errorf("set like: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &StatusError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

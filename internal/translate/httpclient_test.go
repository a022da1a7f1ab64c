package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(url string, retries int) *HTTPClient {
	return NewHTTPClient(url, HTTPOptions{
		APIKey:        "k",
		MaxRetries:    retries,
		RetryInterval: time.Millisecond,
	})
}

func TestHTTPClientTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/translate" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			return
		}
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode payload: %v", err)
			return
		}
		if req.Q != "hello" || req.Source != "en" || req.Target != "ko" || req.Format != "text" || req.APIKey != "k" {
			t.Errorf("unexpected payload: %#v", req)
			return
		}
		_ = json.NewEncoder(w).Encode(translateResponse{TranslatedText: "안녕하세요"})
	}))
	defer server.Close()

	got, err := newTestClient(server.URL, 0).Translate(context.Background(), "hello", "en", "ko")
	if err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
	if got != "안녕하세요" {
		t.Fatalf("Translate() = %q", got)
	}
}

func TestHTTPClientUnknownSourceUsesAuto(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req translateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Source != AutoSource {
			t.Errorf("source = %q, want auto", req.Source)
		}
		_ = json.NewEncoder(w).Encode(translateResponse{TranslatedText: "x"})
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL, 0).Translate(context.Background(), "hi", "", "ko"); err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
}

func TestHTTPClientRetriesTransientErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		switch n {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_ = json.NewEncoder(w).Encode(translateResponse{TranslatedText: "ok"})
		}
	}))
	defer server.Close()

	got, err := newTestClient(server.URL, 3).Translate(context.Background(), "hi", "en", "ko")
	if err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
	if got != "ok" || atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("got %q after %d hits", got, hits)
	}
}

func TestHTTPClientDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(apiError{Error: "bad language"})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL, 3).Translate(context.Background(), "hi", "en", "xx")
	if err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("client errors should not be retried, hits = %d", hits)
	}
}

func TestHTTPClientGivesUpAfterMaxRetries(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, err := newTestClient(server.URL, 2).Translate(context.Background(), "hi", "en", "ko"); err == nil {
		t.Fatalf("expected error")
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("hits = %d, want 3", got)
	}
}

func TestHTTPClientDetectPicksMostConfident(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" {
			t.Errorf("unexpected path %s", r.URL.Path)
			return
		}
		_ = json.NewEncoder(w).Encode([]detection{
			{Language: "en", Confidence: 12},
			{Language: "ko", Confidence: 88},
		})
	}))
	defer server.Close()

	got, err := newTestClient(server.URL, 0).Detect(context.Background(), "안녕")
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if got != "ko" {
		t.Fatalf("Detect() = %q", got)
	}
}

func TestHTTPClientHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newTestClient(server.URL, 5).Translate(ctx, "hi", "en", "ko"); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// HTTPClient talks to a LibreTranslate compatible service.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter

	maxRetries    uint64
	retryInterval time.Duration
}

type HTTPOptions struct {
	APIKey string
	// RPS limits outbound requests; zero disables limiting.
	RPS        float64
	Burst      int
	MaxRetries int
	// RetryInterval is the first backoff step.
	RetryInterval time.Duration
	HTTPClient    *http.Client
}

type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("translator: %s (%d)", e.message, e.status)
	}
	return fmt.Sprintf("translator returned %d", e.status)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func NewHTTPClient(baseURL string, opts HTTPOptions) *HTTPClient {
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	interval := opts.RetryInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &HTTPClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        opts.APIKey,
		httpClient:    client,
		limiter:       rate.NewLimiter(limit, burst),
		maxRetries:    uint64(retries),
		retryInterval: interval,
	}
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

type detectRequest struct {
	Q      string `json:"q"`
	APIKey string `json:"api_key,omitempty"`
}

type detection struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

type apiError struct {
	Error string `json:"error"`
}

func (c *HTTPClient) Translate(ctx context.Context, text, source, target string) (string, error) {
	if source == "" || source == "unknown" {
		source = AutoSource
	}
	req := translateRequest{Q: text, Source: source, Target: target, Format: "text", APIKey: c.apiKey}
	var resp translateResponse
	if err := c.post(ctx, "/translate", req, &resp); err != nil {
		return "", err
	}
	return resp.TranslatedText, nil
}

// Detect returns the most confident language guess.
func (c *HTTPClient) Detect(ctx context.Context, text string) (string, error) {
	var resp []detection
	if err := c.post(ctx, "/detect", detectRequest{Q: text, APIKey: c.apiKey}, &resp); err != nil {
		return "", err
	}
	best := detection{Confidence: -1}
	for _, d := range resp {
		if d.Confidence > best.Confidence {
			best = d
		}
	}
	return best.Language, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryInterval
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx)

	return backoff.Retry(func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := c.do(ctx, path, data, out)
		var se *statusError
		if errors.As(err, &se) && !retryable(se.status) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (c *HTTPClient) do(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &statusError{status: resp.StatusCode, message: apiErr.Error}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

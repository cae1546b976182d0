package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"hitl/internal/llm/core"
	"hitl/internal/logging"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 1 << 20
)

// HTTPConfig configures the client shared by network-backed tools.
type HTTPConfig struct {
	Timeout time.Duration
	// RequestsPerMinute caps outbound requests across all tools. Zero disables the limit.
	RequestsPerMinute int
	Burst             int
	Retry             core.RetryPolicy
	Client            *http.Client
	Logger            *slog.Logger
}

// HTTPClient issues JSON requests with a shared rate limit and retries
// transport failures, 429 and 5xx responses.
type HTTPClient struct {
	client  *http.Client
	limiter *rate.Limiter
	retry   core.RetryPolicy
	logger  *slog.Logger
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// NewHTTPClient builds an HTTPClient from cfg.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
		if burst <= 0 {
			burst = 1
		}
	}

	logger := logging.OrDiscard(cfg.Logger)
	return &HTTPClient{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		retry:   cfg.Retry,
		logger:  logger,
	}
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, nil, out)
}

// PostJSON sends body as JSON and decodes the JSON reply into out.
func (c *HTTPClient) PostJSON(ctx context.Context, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, headers, payload, out)
}

func (c *HTTPClient) do(ctx context.Context, method, url string, headers map[string]string, payload []byte, out any) error {
	return core.Retry(ctx, c.retry, func(attempt int) error {
		if attempt > 0 {
			c.logger.Debug("retrying tool request", "method", method, "url", url, "attempt", attempt)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && ctx.Err() == nil {
				return core.MarkRetryable(err)
			}
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return core.MarkRetryable(fmt.Errorf("read response: %w", err))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 200)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				return core.MarkRetryableAfter(statusErr, retryAfter(resp.Header.Get("Retry-After"), time.Now()))
			}
			return statusErr
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

// retryAfter reads a Retry-After header given as seconds or an HTTP date.
func retryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		return max(at.Sub(now), 0)
	}
	return 0
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

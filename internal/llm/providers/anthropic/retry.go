package anthropicprovider

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"hitl/internal/llm/core"
)

// classifyStreamError wraps a failed stream. Rate limiting, timeouts, 5xx
// (529 overload included) and network errors come back marked retryable,
// carrying the API's retry-after hint when one was sent.
func classifyStreamError(err error) error {
	wrapped := fmt.Errorf("anthropic sdk stream: %w", err)

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= http.StatusInternalServerError:
			return core.MarkRetryableAfter(wrapped, retryAfterHint(apiErr.Response))
		}
		return wrapped
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return core.MarkRetryable(wrapped)
	}
	return wrapped
}

func retryAfterHint(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(resp.Header.Get("retry-after")), 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

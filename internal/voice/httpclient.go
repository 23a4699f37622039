package voice

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xr-voice-gateway/internal/logging"
)

// StatusError is a non-retryable HTTP failure.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// requestFunc builds a fresh request for each attempt.
type requestFunc func(ctx context.Context) (*http.Request, error)

type retryPolicy struct {
	Attempts int
	Timeout  time.Duration // per attempt
	Backoff  time.Duration // doubled after each failed attempt
}

// doWithRetries sends the request built by newReq, retrying transport
// errors, 5xx and 429 responses with exponential backoff. It returns the
// body of the first 2xx response. Backoff waits end early when ctx is done.
func doWithRetries(ctx context.Context, client *http.Client, newReq requestFunc, p retryPolicy) ([]byte, error) {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	if client == nil {
		client = http.DefaultClient
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := p.Backoff * time.Duration(1<<(i-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		body, retry, err := doOnce(ctx, client, newReq, p.Timeout)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !retry {
			return nil, err
		}
		logging.DebugwCtx(ctx, "http: attempt failed", "attempt", i+1, "of", attempts, "err", err)
	}
	return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func doOnce(ctx context.Context, client *http.Client, newReq requestFunc, timeout time.Duration) ([]byte, bool, error) {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := newReq(reqCtx)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode/100 == 2 {
		return body, false, nil
	}
	serr := &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 256)}
	return nil, retryableStatus(resp.StatusCode), serr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

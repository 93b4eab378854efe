package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"hookrelay/internal/signature"
)

// Result classifies one delivery attempt. All failures are retryable from the
// caller's point of view; the Error text distinguishes timeout, connection
// failure and non-2xx responses for diagnostics.
type Result struct {
	Success    bool
	StatusCode int
	Error      string
}

type Client struct {
	HTTP *http.Client
	Now  func() time.Time
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		HTTP: &http.Client{Timeout: timeout},
		Now:  time.Now,
	}
}

// Deliver issues exactly one signed POST to targetURL. No retries here; the
// retry policy lives in the worker.
func (c *Client) Deliver(ctx context.Context, targetURL string, payload []byte, secret string) Result {
	sig := signature.Sign(payload, secret, c.Now().UTC())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		return Result{Error: "invalid request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, sig)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Result{Error: "request timeout"}
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return Result{Error: "request timeout"}
		}
		return Result{Error: "connection error: " + err.Error()}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{
			StatusCode: resp.StatusCode,
			Error:      "non-2xx response: " + resp.Status,
		}
	}
	return Result{Success: true, StatusCode: resp.StatusCode}
}

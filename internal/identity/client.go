// Package identity resolves bearer tokens to actor ids. The arena never
// mints identities itself; an external verifier owns that.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Verifier turns a bearer token into a stable actor id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Static treats the token itself as the actor id. Used when no verify
// endpoint is configured, e.g. local development.
type Static struct{}

func (Static) Verify(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("empty token")
	}
	return token, nil
}

// Client calls an external verify endpoint. The endpoint answers
// GET <url> with Authorization: Bearer <token> and returns {"id": "..."}.
type Client struct {
	verifyURL string
	http      *fasthttp.Client
	timeout   time.Duration
	retryMax  int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(verifyURL string, opts ...Option) *Client {
	c := &Client{
		verifyURL: strings.TrimRight(verifyURL, "/"),
		http: &fasthttp.Client{
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			MaxConnsPerHost: 64,
		},
		timeout:  5 * time.Second,
		retryMax: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type verifyResponse struct {
	ID string `json:"id"`
}

func (c *Client) Verify(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("empty token")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.verifyURL)
	req.Header.Set("Authorization", "Bearer "+token)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
			lastErr = fmt.Errorf("verify request: %w", err)
			if attempt == attempts {
				return "", lastErr
			}
			if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
				return "", lastErr
			}
			continue
		}

		status := resp.StatusCode()
		switch {
		case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
			return "", fmt.Errorf("token rejected: status=%d", status)
		case status < 200 || status >= 300:
			lastErr = fmt.Errorf("verify endpoint: status=%d", status)
			if attempt == attempts || !shouldRetryStatus(status) {
				return "", lastErr
			}
			if err := sleepWithContext(ctx, backoffDuration(attempt)); err != nil {
				return "", lastErr
			}
			continue
		}

		var out verifyResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return "", fmt.Errorf("decode verify response: %w", err)
		}
		if strings.TrimSpace(out.ID) == "" {
			return "", fmt.Errorf("verify response missing id")
		}
		return out.ID, nil
	}
	return "", lastErr
}

func (c *Client) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

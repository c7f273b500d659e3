// Package client is a Go client for a remote JobHub server. REST calls
// cover submission, queries, cancellation and downloads; Connect opens a
// wire protocol WebSocket for live job events.
//
// Usage:
//
//	c, err := client.New("http://localhost:8080", client.WithToken("s3cret"))
//
//	j, err := c.Submit(ctx, job.Spec{Command: []string{"make", "all"}, Outputs: []string{"bin/*"}})
//
//	conn, err := c.Connect(ctx)
//	defer conn.Close()
//	sub, err := conn.Subscribe(ctx, wire.SubscribeRequest{JobID: j.ID.String()})
//	for m := range sub.C() {
//	    fmt.Println(m.Kind, m.Event)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
)

// Client talks to one JobHub server.
type Client struct {
	base   *url.URL
	http   *http.Client
	token  string
	owner  string
	format string
	logger *slog.Logger

	// Reconnection of streaming connections.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration
}

// New creates a client for the server at baseURL, for example
// "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("jobhub/client: parse url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("jobhub/client: unsupported scheme %q", base.Scheme)
	}
	c := &Client{
		base:       base,
		http:       http.DefaultClient,
		format:     "json",
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Owner returns the owner the client acts as.
func (c *Client) Owner() string { return c.owner }

// Error is a non-2xx answer from the server. It unwraps to the jobhub
// sentinel matching its status, so errors.Is(err, jobhub.ErrNotFound)
// works across the network.
type Error struct {
	Status  int
	Kind    jobhub.Kind
	Message string
	Field   string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("jobhub/client: %d %s (field %s)", e.Status, e.Message, e.Field)
	}
	return fmt.Sprintf("jobhub/client: %d %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return jobhub.ErrValidation
	case http.StatusUnauthorized:
		return jobhub.ErrUnauthorized
	case http.StatusNotFound:
		return jobhub.ErrNotFound
	case http.StatusConflict:
		return jobhub.ErrConflict
	case http.StatusTooEarly:
		return jobhub.ErrNotReady
	case http.StatusTooManyRequests:
		return jobhub.ErrRateLimited
	case http.StatusServiceUnavailable:
		return jobhub.ErrShutdown
	default:
		return jobhub.ErrInternal
	}
}

// url joins path onto the base URL.
func (c *Client) url(path string, q url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if len(q) > 0 {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// do sends a request and returns the response when its status is 2xx or
// 304. The caller closes the body.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("jobhub/client: marshal request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, q), rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("api_key", c.token)
	}
	if c.owner != "" {
		req.Header.Set("X-Owner", c.owner)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jobhub/client: %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 300 || resp.StatusCode == http.StatusNotModified {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) error {
	e := &Error{Status: resp.StatusCode}
	var body struct {
		Error string      `json:"error"`
		Kind  jobhub.Kind `json:"kind"`
		Field string      `json:"field"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		e.Message, e.Kind, e.Field = body.Error, body.Kind, body.Field
	} else {
		e.Message = strings.TrimSpace(string(raw))
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
	}
	return e
}

// getJSON decodes a 2xx JSON answer into out.
func (c *Client) getJSON(ctx context.Context, method, path string, q url.Values, body, out any) error {
	resp, err := c.do(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("jobhub/client: decode response: %w", err)
	}
	return nil
}

// Health reports whether the server answers its health check.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	return errors.Is(err, jobhub.ErrRateLimited) || errors.Is(err, jobhub.ErrNotReady) || errors.Is(err, jobhub.ErrShutdown)
}

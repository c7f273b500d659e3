package client

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithToken sets the API token, sent in the api_key header and in the
// wire hello.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithOwner sets the owner every request acts as.
func WithOwner(owner string) Option {
	return func(c *Client) { c.owner = owner }
}

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithFormat sets the wire codec for streaming connections.
// Supported values: "json" (default), "msgpack".
func WithFormat(format string) Option {
	return func(c *Client) { c.format = format }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithReconnect makes streaming connections redial after a drop and
// resume every subscription from the last event it delivered.
func WithReconnect(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.reconnect = true
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

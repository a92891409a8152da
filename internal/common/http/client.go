// internal/common/http/client.go
package http

import (
	"context"
	"net/http"
	"time"
)

// Client is the outbound HTTP client used for alert webhook delivery. The
// engine has exactly one external HTTP surface, so a single timeout-bounded
// client is all it carries.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a client whose requests are cut off after timeout,
// covering connect, write and read of the full response.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// DoWithContext sends the request bound to ctx; cancellation aborts an
// in-flight delivery. The client timeout still applies as the upper bound.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	return c.httpClient.Do(req)
}

// Package httputil provides the timeout-bounded request executor and the
// chunked response reader used by the streaming subsystem.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Warmaster-Hoshino/findshop-go/internal/errutil"
)

const DefaultTimeout = 30 * time.Second

// Client issues requests against one base URL with a per-request deadline.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
}

func New(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")
	if err := ValidateBaseURL(baseURL); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{},
		Timeout: timeout,
	}, nil
}

// PostStream POSTs payload as JSON to path and returns the response with its
// body unread, for chunk-by-chunk consumption.
//
// The deadline covers connecting and waiting for response headers. Once
// headers arrive the timer is disarmed so a long streaming body is not cut
// off mid-transfer; the returned cancel func aborts the transfer and must be
// called when the caller is done with the body.
func (c *Client) PostStream(ctx context.Context, path string, payload any) (*http.Response, context.CancelFunc, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling payload: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	timer := time.AfterFunc(c.Timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		timer.Stop()
		cancel()
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	timer.Stop()
	if err != nil {
		cancel()
		if timedOut.Load() || ctx.Err() == context.DeadlineExceeded {
			return nil, nil, errutil.ErrTimeout
		}
		if ctx.Err() == context.Canceled {
			return nil, nil, ctx.Err()
		}
		return nil, nil, &errutil.TransportError{Op: "request", Err: err}
	}
	return resp, cancel, nil
}

// DrainBody ensures the connection can be reused for keep-alive.
func DrainBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
	}
}

// ValidateBaseURL checks that a URL is usable as an endpoint base.
func ValidateBaseURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must use http or https scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// Package transport is the single HTTP primitive every remote call goes
// through. It attaches the auth header, reads the protocol metadata the
// server puts on every response (Version, Available-Drivers) and gives
// failures one uniform shape.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is a non-2xx response from the remote service. Engines pass
// it through unchanged; user-facing wording belongs to the UI layer.
type APIError struct {
	Status   int
	Endpoint string
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: status %d: %s", e.Endpoint, e.Status, strings.TrimSpace(e.Body))
}

// Client issues all requests against the remote account/catalog API.
type Client struct {
	BaseURL string

	http     *http.Client
	token    func() string  // current credential, "" when logged out
	clientID string         // persistent install id sent with every call
	onDriver func([]string) // registry hook fed from Available-Drivers
	onError  func(*APIError)

	version string // last protocol version seen
}

func New(baseURL string, clientID string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		clientID: clientID,
		token:    func() string { return "" },
	}
}

// SetTokenProvider wires the session's credential into every request.
func (c *Client) SetTokenProvider(f func() string) { c.token = f }

// SetDriverHook registers the callback invoked with the identifiers
// from the Available-Drivers header of every response.
func (c *Client) SetDriverHook(f func([]string)) { c.onDriver = f }

// SetErrorHook registers the observer notified of non-2xx responses,
// unless a call opts out with Silent.
func (c *Client) SetErrorHook(f func(*APIError)) { c.onError = f }

// Version reports the protocol version from the most recent response.
func (c *Client) Version() string { return c.version }

type callOpts struct {
	silent bool
}

type Option func(*callOpts)

// Silent suppresses the error hook for one call; the caller handles the
// failure itself.
func Silent() Option {
	return func(o *callOpts) { o.silent = true }
}

// Request performs one call. A non-nil payload is sent as JSON; a
// non-nil out receives the parsed 2xx body. A 2xx with an empty or
// unparseable body is still success, out is just left untouched.
func (c *Client) Request(ctx context.Context, method, endpoint string, query url.Values, payload, out any, opts ...Option) error {
	var o callOpts
	for _, opt := range opts {
		opt(&o)
	}

	u := c.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t := c.token(); t != "" {
		req.Header.Set("Authorization", "token "+t)
	}
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	c.readMeta(resp.Header)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Endpoint: endpoint, Body: string(data)}
		if !o.silent && c.onError != nil {
			c.onError(apiErr)
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		// success with an undecodable body; treat as payload-free
		return nil
	}
	return nil
}

// readMeta parses the two headers the server sends on every response.
// Driver discovery is a side effect of any call, wanted or not.
func (c *Client) readMeta(h http.Header) {
	if v := h.Get("Version"); v != "" {
		c.version = v
	}
	if list := h.Get("Available-Drivers"); list != "" && c.onDriver != nil {
		parts := strings.Split(list, ", ")
		ids := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				ids = append(ids, p)
			}
		}
		if len(ids) > 0 {
			c.onDriver(ids)
		}
	}
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"talkie/log"
)

var ErrUnauthorized = errors.New("not authorized")

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	Token() string
}

type Client struct {
	base   *url.URL
	prefix string
	tokens TokenSource
	http   *TracedClient

	mu             sync.Mutex
	onUnauthorized func()
}

type Options struct {
	ServerURL string
	Prefix    string
	Timeout   time.Duration
}

func New(opts Options, tokens TokenSource) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", opts.ServerURL)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		base:   base,
		prefix: "/" + strings.Trim(opts.Prefix, "/"),
		tokens: tokens,
		http:   NewTracedClient(opts.Timeout),
	}, nil
}

// OnUnauthorized registers the hook run whenever the backend rejects the
// session credential.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

// Endpoint resolves an API path such as "/upload" against the server.
func (c *Client) Endpoint(path string) *url.URL {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + strings.TrimRight(c.prefix, "/") + path
	return &u
}

// Resolve turns a server-relative reference into an absolute URL.
func (c *Client) Resolve(ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if r.IsAbs() {
		return r, nil
	}
	if !strings.HasPrefix(r.Path, "/") {
		return c.Endpoint("/audio/" + r.Path), nil
	}
	return c.base.ResolveReference(r), nil
}

func (c *Client) newRequest(ctx context.Context, method string, u *url.URL, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*TracedResponse, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		hook := c.onUnauthorized
		c.mu.Unlock()
		log.Warnf("%s %s: unauthorized", req.Method, req.URL.Path)
		if hook != nil {
			hook()
		}
		return resp, fmt.Errorf("%w: %s", ErrUnauthorized, errorDetail(resp.Body))
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, u *url.URL, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d: %s", u.Path, resp.StatusCode, errorDetail(resp.Body))
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("GET %s: decode: %w", u.Path, err)
	}
	return nil
}

// errorDetail extracts the backend's {"error": "..."} message, falling back
// to the raw body.
func errorDetail(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	s := string(bytes.TrimSpace(body))
	if len(s) > 200 {
		s = s[:200] + "…"
	}
	return s
}

// Health checks the unauthenticated liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/health"
	var out struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(ctx, &u, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("health: status %q", out.Status)
	}
	return nil
}

package api

import (
	"context"
	"fmt"
	"net/http"
)

// FetchAudio downloads a reply's audio under the session credential.
func (c *Client) FetchAudio(ctx context.Context, ref string) ([]byte, string, error) {
	u, err := c.Resolve(ref)
	if err != nil {
		return nil, "", fmt.Errorf("audio ref %q: %w", ref, err)
	}
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("GET %s: status %d: %s", u.Path, resp.StatusCode, errorDetail(resp.Body))
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}

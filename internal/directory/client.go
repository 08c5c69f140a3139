// Package directory is the HTTP client for the external identity directory.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"marketgate.org/internal/identity"
)

const maxResponseBytes = 64 << 10

// Client looks up claimed identifiers with GET {base}/{identifier}.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
}

var _ identity.Directory = (*Client)(nil)

// Option configures Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithRateLimit paces outgoing lookups to rps per second. Zero disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("directory: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("directory: unsupported scheme %q", u.Scheme)
	}
	c := &Client{base: strings.TrimRight(u.String(), "/"), http: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type lookupResponse struct {
	DisplayName string `json:"displayName"`
}

// Lookup returns the canonical display name. A 404 maps to identity.ErrIdentifierNotFound;
// every other failure is returned as-is for the verifier to classify.
func (c *Client) Lookup(ctx context.Context, identifier string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/"+url.PathEscape(identifier), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", identity.ErrIdentifierNotFound
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("directory: unexpected status %d", resp.StatusCode)
	}
	var out lookupResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("directory: decode: %w", err)
	}
	return out.DisplayName, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package platform

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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRateLimit = 2 // requests per second
	defaultBurst     = 4
)

// Options configures the HTTP side of a platform client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  rate.Limit
	Burst      int
	HTTPClient *http.Client
}

// apiClient is the JSON-over-HTTPS plumbing shared by the platform clients.
type apiClient struct {
	platform string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	header   func(h http.Header)
}

func newAPIClient(platform, defaultBase string, opts Options, header func(http.Header)) *apiClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &apiClient{
		platform: platform,
		baseURL:  base,
		http:     hc,
		limiter:  rate.NewLimiter(opts.RateLimit, opts.Burst),
		header:   header,
	}
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (c *apiClient) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s %s: rate limit wait: %w", c.platform, op, err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: encode: %w", c.platform, op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.platform, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.header(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.platform, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Platform: c.platform, Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", c.platform, op, err)
	}
	return nil
}

// Package httpfetcher implements replay.Fetcher with a plain net/http client.
package httpfetcher

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/replayscraper/internal/replay"
)

// Config controls the outbound client.
type Config struct {
	UserAgent string
	Transport http.RoundTripper
}

// Fetcher streams the upstream body into memory. The client is reused across
// requests and is safe for concurrent use.
type Fetcher struct {
	cfg    Config
	client *http.Client
}

// New builds a Fetcher with a pooled transport.
func New(cfg Config) *Fetcher {
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	return &Fetcher{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
	}
}

// Fetch issues a GET and accumulates the body chunks in arrival order. No size
// cap is applied. Non-2xx responses are returned as documents; callers decide
// how to treat them.
func (f *Fetcher) Fetch(ctx context.Context, request replay.FetchRequest) (replay.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, request.URL, nil)
	if err != nil {
		return replay.Document{}, fmt.Errorf("build request: %w", err)
	}
	for key, values := range request.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if f.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return replay.Document{}, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return replay.Document{}, fmt.Errorf("read body: %w", err)
	}

	return replay.Document{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       body.Bytes(),
		Duration:   time.Since(start),
	}, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Package collyfetcher implements replay.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/replayscraper/internal/replay"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds a single visit. Zero uses 30s; colly has no unbounded mode.
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Fetcher implements replay.Fetcher using the Colly collector. Each Fetch runs
// on a clone of a shared base collector, so callbacks never cross requests.
type Fetcher struct {
	base *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	// Non-2xx pages still reach OnResponse so the caller sees the status.
	c.ParseHTTPErrorResponse = true
	// The upstream page is fetched on behalf of a caller, not crawled.
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = 0
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newTransport()
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{base: c}
}

// visit collects the outcome of one collector run.
type visit struct {
	request replay.FetchRequest
	start   time.Time
	doc     replay.Document
	err     error
}

func (v *visit) register(hooks collectorHooks) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range v.request.Headers {
			for _, value := range values {
				r.Headers.Add(key, value)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		v.doc = replay.Document{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(v.start),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		v.err = err
	})
}

// Fetch executes a single GET. The visit runs on its own goroutine so that a
// cancelled ctx returns immediately; the abandoned visit ends at the collector
// timeout.
func (f *Fetcher) Fetch(ctx context.Context, request replay.FetchRequest) (replay.Document, error) {
	if err := ctx.Err(); err != nil {
		return replay.Document{}, fmt.Errorf("colly fetch canceled: %w", err)
	}
	v := &visit{request: request, start: time.Now()}
	collector := f.base.Clone()
	v.register(collector)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		return replay.Document{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return replay.Document{}, fmt.Errorf("colly visit failed: %w", err)
		}
		if v.err != nil {
			return replay.Document{}, fmt.Errorf("colly response failed: %w", v.err)
		}
		return v.doc, nil
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}
}

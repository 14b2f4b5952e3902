// Package headless fetches the upstream page through headless Chrome so that
// client-rendered replay lists are present in the returned markup.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/replayscraper/internal/replay"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultWaitSelector      = "body"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector must be present before the DOM is captured.
	WaitSelector string
}

// Fetcher implements replay.Fetcher using chromedp. One browser process is
// shared; each Fetch opens its own tab.
type Fetcher struct {
	cfg          Config
	tabs         chan struct{}
	browser      context.Context
	closeBrowser context.CancelFunc
}

// NewChromedp creates a headless fetcher. The browser is started lazily on the
// first Fetch.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = defaultWaitSelector
	}

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.tabs = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	f.browser, f.closeBrowser = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close shuts the browser down. In-flight fetches fail.
func (f *Fetcher) Close() {
	f.closeBrowser()
}

// Fetch renders request.URL and returns the serialized DOM once the wait
// selector is ready. Cancelling ctx aborts the navigation.
func (f *Fetcher) Fetch(ctx context.Context, request replay.FetchRequest) (replay.Document, error) {
	if err := f.openTab(ctx); err != nil {
		return replay.Document{}, err
	}
	defer f.closeTab()

	tabCtx, closeTab := chromedp.NewContext(f.browser)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var top mainDocument
	chromedp.ListenTarget(tabCtx, top.observe)

	start := time.Now()
	var html, location string
	err := chromedp.Run(tabCtx,
		f.prepare(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return replay.Document{}, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		return replay.Document{}, fmt.Errorf("chromedp run: %w", err)
	}

	doc := top.document(request.URL, location)
	doc.Body = []byte(html)
	doc.Duration = time.Since(start)
	return doc, nil
}

func (f *Fetcher) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(networkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) openTab(ctx context.Context) error {
	if f.tabs == nil {
		return nil
	}
	select {
	case f.tabs <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for browser tab: %w", ctx.Err())
	}
}

func (f *Fetcher) closeTab() {
	if f.tabs != nil {
		<-f.tabs
	}
}

// mainDocument records the response for the top-level document. Redirects
// overwrite earlier hops so the final response wins.
type mainDocument struct {
	mu      sync.Mutex
	status  int
	url     string
	headers http.Header
}

func (m *mainDocument) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := httpHeaders(resp.Response.Headers)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.headers = headers
}

// document builds the response metadata. Pages served from cache or
// constructed in place never emit a response event; they count as 200.
func (m *mainDocument) document(requestURL, location string) replay.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := replay.Document{
		URL:        m.url,
		StatusCode: m.status,
		Headers:    m.headers.Clone(),
		Rendered:   true,
	}
	if doc.URL == "" {
		doc.URL = location
	}
	if doc.URL == "" {
		doc.URL = requestURL
	}
	if doc.StatusCode == 0 {
		doc.StatusCode = http.StatusOK
	}
	if doc.Headers == nil {
		doc.Headers = http.Header{}
	}
	return doc
}

func httpHeaders(src network.Headers) http.Header {
	dst := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			dst.Add(key, v)
		case []string:
			for _, entry := range v {
				dst.Add(key, entry)
			}
		case []any:
			for _, entry := range v {
				dst.Add(key, fmt.Sprint(entry))
			}
		default:
			dst.Add(key, fmt.Sprint(v))
		}
	}
	return dst
}

func networkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}

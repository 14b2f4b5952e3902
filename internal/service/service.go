// Package service implements the fetch-and-scrape pipeline behind GET /.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/replayscraper/internal/metrics"
	"github.com/JakeFAU/replayscraper/internal/pool"
	"github.com/JakeFAU/replayscraper/internal/replay"
	"github.com/JakeFAU/replayscraper/internal/scraper"
)

var (
	// ErrUpstream covers connection, TLS and non-2xx failures of the upstream fetch.
	ErrUpstream = errors.New("upstream request failed")
	// ErrUpstreamTimeout is returned when the fetch exceeds Config.Timeout.
	ErrUpstreamTimeout = errors.New("upstream request timed out")
	// ErrInvalidEncoding is returned when the upstream body is not valid UTF-8.
	ErrInvalidEncoding = errors.New("upstream body is not valid UTF-8")
)

// acceptHTML is sent with every upstream fetch; the page is only useful as HTML.
const acceptHTML = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.1"

// Config controls the upstream fetch.
type Config struct {
	UpstreamURL string
	// FetcherName labels upstream metrics.
	FetcherName string
	// Timeout bounds the upstream fetch. Zero means no bound.
	Timeout time.Duration
}

// Service fetches the upstream page and scrapes it on the shared pool. It holds
// no per-request state and is shared by all connections.
type Service struct {
	cfg     Config
	fetcher replay.Fetcher
	pool    *pool.Pool
	scraper *scraper.Scraper
	logger  *zap.Logger
}

// New constructs a Service.
func New(
	cfg Config,
	fetcher replay.Fetcher,
	workers *pool.Pool,
	scr *scraper.Scraper,
	logger *zap.Logger,
) (*Service, error) {
	if cfg.UpstreamURL == "" {
		return nil, errors.New("upstream url required")
	}
	if fetcher == nil || workers == nil || scr == nil {
		return nil, errors.New("fetcher, pool and scraper are required")
	}
	if cfg.FetcherName == "" {
		cfg.FetcherName = "http"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:     cfg,
		fetcher: fetcher,
		pool:    workers,
		scraper: scr,
		logger:  logger,
	}, nil
}

type scrapeResult struct {
	body  string
	links int
}

// Replays fetches the upstream page and returns the encoded replay list.
func (s *Service) Replays(ctx context.Context) ([]byte, error) {
	doc, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	if !utf8.Valid(doc.Body) {
		s.observe("invalid_encoding", doc)
		return nil, fmt.Errorf("%w: %d bytes from %s", ErrInvalidEncoding, len(doc.Body), s.cfg.UpstreamURL)
	}
	s.observe("ok", doc)

	text := string(doc.Body)
	res, err := pool.Run(ctx, s.pool, func() scrapeResult {
		list := s.scraper.Extract(text)
		return scrapeResult{body: scraper.Encode(list), links: len(list.Replays)}
	})
	if err != nil {
		return nil, fmt.Errorf("scrape: %w", err)
	}
	metrics.ObserveScrape(res.links)
	s.logger.Debug("replays scraped",
		zap.Int("links", res.links),
		zap.String("upstream_url", doc.URL),
		zap.String("content_type", doc.Headers.Get("Content-Type")),
		zap.Bool("rendered", doc.Rendered),
		zap.Int("upstream_bytes", len(doc.Body)),
		zap.Duration("upstream_duration", doc.Duration),
	)
	return []byte(res.body), nil
}

func (s *Service) fetch(ctx context.Context) (replay.Document, error) {
	fetchCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	doc, err := s.fetcher.Fetch(fetchCtx, replay.FetchRequest{
		URL:     s.cfg.UpstreamURL,
		Headers: http.Header{"Accept": {acceptHTML}},
	})
	if doc.Duration == 0 {
		doc.Duration = time.Since(start)
	}
	switch {
	case err != nil && ctx.Err() != nil:
		s.observe("canceled", doc)
		return replay.Document{}, fmt.Errorf("fetch upstream: %w", ctx.Err())
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		s.observe("timeout", doc)
		return replay.Document{}, fmt.Errorf("%w after %s: %w", ErrUpstreamTimeout, s.cfg.Timeout, err)
	case err != nil:
		s.observe("error", doc)
		return replay.Document{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	case !doc.OK():
		s.observe("bad_status", doc)
		return replay.Document{}, fmt.Errorf("%w: status %d from %s", ErrUpstream, doc.StatusCode, s.cfg.UpstreamURL)
	}
	return doc, nil
}

func (s *Service) observe(outcome string, doc replay.Document) {
	metrics.ObserveUpstreamFetch(s.cfg.UpstreamURL, s.cfg.FetcherName, outcome, len(doc.Body), doc.Duration)
}

// Package main hosts the replay scraper entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server answers GET / and returns an empty 404 for everything else.
//   - Fetch pipeline: internal/service fetches the upstream page through the configured replay.Fetcher
//     (net/http by default, Colly or headless Chromedp on request), checks that the body is UTF-8 and hands
//     parsing to the shared worker pool.
//   - Scraping: internal/scraper selects the second .linklist container with goquery and joins each href
//     onto the upstream base URL.
//   - Configuration & plumbing: Viper populates config from env/files; zap writes structured logs to stderr;
//     Prometheus metrics are served on a separate listener when metrics.addr is set.
//
// Operational notes:
//   - The bound address is printed once to stdout as "Listening on http://<addr>". A bind failure is fatal.
//   - SIGINT/SIGTERM drain in-flight requests, bounded by server.shutdown_timeout.
//
// Quick checklist:
//   - Configure env vars: REPLAYS_SERVER_ADDR, REPLAYS_UPSTREAM_URL, REPLAYS_UPSTREAM_FETCHER,
//     REPLAYS_UPSTREAM_TIMEOUT, REPLAYS_SCRAPE_WORKERS, REPLAYS_METRICS_ADDR.
//   - Run locally: go run ./cmd/replayscraper -config config.yaml (or rely solely on env overrides).
package main

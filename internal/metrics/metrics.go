// Package metrics exposes Prometheus collectors for the replay service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	upstreamFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_upstream_fetches_total",
			Help: "Total number of upstream page fetches, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	upstreamBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "replay_upstream_bytes_total",
			Help: "Total number of bytes read from the upstream page, labeled by site.",
		},
		[]string{"site"},
	)

	upstreamFetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "replay_upstream_fetch_duration_seconds",
			Help:    "Histogram of upstream fetch latencies, labeled by fetcher.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"fetcher"},
	)

	scrapedLinks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "replay_scraped_links",
			Help:    "Number of replay links extracted per scrape.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
	)

	poolActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "replay_pool_active_workers",
			Help: "Number of scrape workers currently running a task.",
		},
	)
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveUpstreamFetch records one upstream fetch.
func ObserveUpstreamFetch(site, fetcher, outcome string, bytesFetched int, duration time.Duration) {
	sanitizedSite := SanitizeSite(site)
	upstreamFetchesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		upstreamBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
	upstreamFetchDurationSeconds.WithLabelValues(fetcher).Observe(duration.Seconds())
}

// ObserveScrape records how many links a scrape produced.
func ObserveScrape(links int) {
	scrapedLinks.Observe(float64(links))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	poolActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	poolActiveWorkers.Dec()
}

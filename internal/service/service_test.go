package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/replayscraper/internal/pool"
	"github.com/JakeFAU/replayscraper/internal/replay"
	"github.com/JakeFAU/replayscraper/internal/scraper"
)

const testUpstream = "http://replay.test"

func TestReplaysHappyPath(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fn: func(_ context.Context, req replay.FetchRequest) (replay.Document, error) {
		require.Equal(t, testUpstream, req.URL)
		require.Contains(t, req.Headers.Get("Accept"), "text/html")
		return okDocument(page("/featured"), page("/gen9ou-1", "/gen9ou-2")), nil
	}}
	svc := newTestService(t, fetcher, 0)

	body, err := svc.Replays(context.Background())
	require.NoError(t, err)
	require.JSONEq(t, `{"replays":["http://replay.test/gen9ou-1","http://replay.test/gen9ou-2"]}`, string(body))
}

func TestReplaysLogsUpstreamDocument(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fn: func(context.Context, replay.FetchRequest) (replay.Document, error) {
		doc := okDocument(page("/featured"), page("/gen9ou-1"))
		doc.URL = testUpstream + "/"
		doc.Headers = http.Header{"Content-Type": {"text/html; charset=utf-8"}}
		doc.Rendered = true
		return doc, nil
	}}
	p, err := pool.New(pool.Config{Workers: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	scr, err := scraper.New(scraper.Config{
		BaseURL:           testUpstream,
		ContainerSelector: scraper.DefaultContainerSelector,
		LinkSelector:      scraper.DefaultLinkSelector,
		TargetOccurrence:  scraper.DefaultTargetOccurrence,
	})
	require.NoError(t, err)
	core, logs := observer.New(zapcore.DebugLevel)
	svc, err := New(Config{UpstreamURL: testUpstream}, fetcher, p, scr, zap.New(core))
	require.NoError(t, err)

	_, err = svc.Replays(context.Background())
	require.NoError(t, err)

	entries := logs.FilterMessage("replays scraped").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, testUpstream+"/", fields["upstream_url"])
	require.Equal(t, "text/html; charset=utf-8", fields["content_type"])
	require.Equal(t, true, fields["rendered"])
	require.EqualValues(t, 1, fields["links"])
}

func TestReplaysInvalidUTF8(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fn: func(context.Context, replay.FetchRequest) (replay.Document, error) {
		return replay.Document{StatusCode: http.StatusOK, Body: []byte{0xff, 0xfe, '<', 'a'}}, nil
	}}
	svc := newTestService(t, fetcher, 0)

	_, err := svc.Replays(context.Background())
	require.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestReplaysUpstreamFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timeout time.Duration
		fn      func(context.Context, replay.FetchRequest) (replay.Document, error)
		want    error
	}{
		{
			name: "connection error",
			fn: func(context.Context, replay.FetchRequest) (replay.Document, error) {
				return replay.Document{}, errors.New("dial tcp: connection refused")
			},
			want: ErrUpstream,
		},
		{
			name: "non-2xx status",
			fn: func(context.Context, replay.FetchRequest) (replay.Document, error) {
				return replay.Document{StatusCode: http.StatusServiceUnavailable, Body: []byte("down")}, nil
			},
			want: ErrUpstream,
		},
		{
			name:    "timeout",
			timeout: 20 * time.Millisecond,
			fn: func(ctx context.Context, _ replay.FetchRequest) (replay.Document, error) {
				<-ctx.Done()
				return replay.Document{}, fmt.Errorf("http get: %w", ctx.Err())
			},
			want: ErrUpstreamTimeout,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := newTestService(t, &fakeFetcher{fn: tt.fn}, tt.timeout)
			_, err := svc.Replays(context.Background())
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReplaysCallerCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &fakeFetcher{fn: func(ctx context.Context, _ replay.FetchRequest) (replay.Document, error) {
		cancel()
		<-ctx.Done()
		return replay.Document{}, ctx.Err()
	}}
	svc := newTestService(t, fetcher, time.Minute)

	_, err := svc.Replays(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrUpstream)
}

func TestReplaysConcurrentRequestsAreIndependent(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	fetcher := &fakeFetcher{fn: func(context.Context, replay.FetchRequest) (replay.Document, error) {
		n := calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return okDocument(page("/featured"), page(fmt.Sprintf("/req-%d", n))), nil
	}}
	svc := newTestService(t, fetcher, 0)

	const requests = 10
	results := make([]string, requests)
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body, err := svc.Replays(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			var list scraper.ReplayList
			if assert.NoError(t, json.Unmarshal(body, &list)) && assert.Len(t, list.Replays, 1) {
				results[i] = list.Replays[0]
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, requests)
	for _, link := range results {
		require.NotEmpty(t, link)
		require.False(t, seen[link], "link %s returned to two requests", link)
		seen[link] = true
	}
	require.Len(t, seen, requests)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	p, err := pool.New(pool.Config{Workers: 1}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	scr, err := scraper.New(scraper.DefaultConfig())
	require.NoError(t, err)

	_, err = New(Config{}, &fakeFetcher{}, p, scr, nil)
	require.ErrorContains(t, err, "upstream url")
	_, err = New(Config{UpstreamURL: testUpstream}, nil, p, scr, nil)
	require.Error(t, err)
	_, err = New(Config{UpstreamURL: testUpstream}, &fakeFetcher{}, nil, scr, nil)
	require.Error(t, err)
}

func TestReplaysPoolClosed(t *testing.T) {
	t.Parallel()

	p, err := pool.New(pool.Config{Workers: 1}, zap.NewNop())
	require.NoError(t, err)
	p.Close()
	scr, err := scraper.New(scraper.DefaultConfig())
	require.NoError(t, err)
	fetcher := &fakeFetcher{fn: func(context.Context, replay.FetchRequest) (replay.Document, error) {
		return okDocument(), nil
	}}
	svc, err := New(Config{UpstreamURL: testUpstream}, fetcher, p, scr, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.Replays(context.Background())
	require.ErrorIs(t, err, pool.ErrClosed)
}

// --- helpers/fakes ---

type fakeFetcher struct {
	fn func(context.Context, replay.FetchRequest) (replay.Document, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, req replay.FetchRequest) (replay.Document, error) {
	return f.fn(ctx, req)
}

func page(hrefs ...string) string {
	out := `<ul class="linklist">`
	for _, h := range hrefs {
		out += `<li><a href="` + h + `">replay</a></li>`
	}
	return out + `</ul>`
}

func okDocument(lists ...string) replay.Document {
	body := "<html><body>"
	for _, l := range lists {
		body += l
	}
	body += "</body></html>"
	return replay.Document{StatusCode: http.StatusOK, Body: []byte(body)}
}

func newTestService(t *testing.T, fetcher replay.Fetcher, timeout time.Duration) *Service {
	t.Helper()
	p, err := pool.New(pool.Config{Workers: 4}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(p.Close)

	cfg := scraper.DefaultConfig()
	cfg.BaseURL = testUpstream
	scr, err := scraper.New(cfg)
	require.NoError(t, err)

	svc, err := New(Config{UpstreamURL: testUpstream, Timeout: timeout}, fetcher, p, scr, zap.NewNop())
	require.NoError(t, err)
	return svc
}

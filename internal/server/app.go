// Package server builds the application's dependencies and runs the listeners.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/replayscraper/internal/api"
	"github.com/JakeFAU/replayscraper/internal/config"
	collyfetcher "github.com/JakeFAU/replayscraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/replayscraper/internal/fetcher/headless"
	httpfetcher "github.com/JakeFAU/replayscraper/internal/fetcher/http"
	"github.com/JakeFAU/replayscraper/internal/id/uuid"
	"github.com/JakeFAU/replayscraper/internal/metrics"
	"github.com/JakeFAU/replayscraper/internal/pool"
	"github.com/JakeFAU/replayscraper/internal/replay"
	"github.com/JakeFAU/replayscraper/internal/scraper"
	"github.com/JakeFAU/replayscraper/internal/service"
)

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	out      io.Writer
	workers  *pool.Pool
	headless *headlessfetcher.Fetcher
	handler  http.Handler

	listener        net.Listener
	metricsListener net.Listener
}

// Build creates the application's dependencies. The pool and the upstream
// fetcher are built once here and shared by every request.
func Build(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		out:    os.Stdout,
	}
	logger.Info("building application dependencies",
		zap.String("addr", cfg.Server.Addr),
		zap.String("upstream", cfg.Upstream.URL),
		zap.String("fetcher", cfg.Upstream.Fetcher),
		zap.Int("workers", cfg.Scrape.Workers),
	)

	scr, err := scraper.New(scraper.Config{
		BaseURL:           cfg.Upstream.URL,
		ContainerSelector: cfg.Scrape.ContainerSelector,
		LinkSelector:      cfg.Scrape.LinkSelector,
		TargetOccurrence:  cfg.Scrape.TargetOccurrence,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper init failed: %w", err)
	}

	fetcher, err := app.setupFetcher()
	if err != nil {
		return nil, err
	}

	app.workers, err = pool.New(pool.Config{
		Workers:    cfg.Scrape.Workers,
		QueueDepth: cfg.Scrape.QueueDepth,
	}, logger.Named("pool"))
	if err != nil {
		app.closeFetcher()
		return nil, fmt.Errorf("pool init failed: %w", err)
	}

	svc, err := service.New(service.Config{
		UpstreamURL: cfg.Upstream.URL,
		FetcherName: cfg.Upstream.Fetcher,
		Timeout:     cfg.Upstream.Timeout,
	}, fetcher, app.workers, scr, logger.Named("service"))
	if err != nil {
		app.workers.Close()
		app.closeFetcher()
		return nil, fmt.Errorf("service init failed: %w", err)
	}

	app.handler = api.NewServer(svc, uuid.New(), logger.Named("api")).Handler()
	return app, nil
}

func (a *App) setupFetcher() (replay.Fetcher, error) {
	switch a.cfg.Upstream.Fetcher {
	case config.FetcherColly:
		a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Upstream.UserAgent))
		return collyfetcher.New(collyfetcher.Config{
			UserAgent: a.cfg.Upstream.UserAgent,
			Timeout:   a.cfg.Upstream.Timeout,
		}), nil
	case config.FetcherHeadless:
		fetcher, err := headlessfetcher.NewChromedp(headlessConfig(a.cfg))
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = fetcher
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		return fetcher, nil
	default:
		a.logger.Info("using http fetcher", zap.String("user_agent", a.cfg.Upstream.UserAgent))
		return httpfetcher.New(httpfetcher.Config{UserAgent: a.cfg.Upstream.UserAgent}), nil
	}
}

// headlessConfig waits only for the document body. A page without the
// link-list container must still render and scrape to an empty list.
func headlessConfig(cfg config.Config) headlessfetcher.Config {
	return headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Upstream.UserAgent,
		NavigationTimeout: cfg.NavTimeout(),
	}
}

// SetOutput redirects the startup line. It must be called before Listen.
func (a *App) SetOutput(w io.Writer) {
	a.out = w
}

// Handler exposes the main router.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Listen binds the main listener and, when configured, the metrics listener.
// The bound address is announced once on the output writer.
func (a *App) Listen() error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Server.Addr, err)
	}
	if a.cfg.Metrics.Addr != "" {
		mln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen on %s: %w", a.cfg.Metrics.Addr, err)
		}
		a.metricsListener = mln
	}
	a.listener = ln
	fmt.Fprintf(a.out, "Listening on http://%s\n", ln.Addr())
	return nil
}

// Addr returns the bound address of the main listener, or nil before Listen.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Run serves until ctx is canceled or a termination signal arrives, then
// drains in-flight requests and releases the application's resources.
func (a *App) Run(ctx context.Context) error {
	if a.listener == nil {
		return errors.New("listener not bound; call Listen first")
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	servers := []*http.Server{a.newHTTPServer(a.handler)}
	listeners := []net.Listener{a.listener}
	if a.metricsListener != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		servers = append(servers, a.newHTTPServer(mux))
		listeners = append(listeners, a.metricsListener)
		a.logger.Info("metrics server started", zap.Stringer("addr", a.metricsListener.Addr()))
	}

	errCh := make(chan error, len(servers))
	for i, srv := range servers {
		go func(srv *http.Server, ln net.Listener) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				stop()
			}
		}(srv, listeners[i])
	}
	a.logger.Info("http server started", zap.Stringer("addr", a.listener.Addr()))

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}
	a.Close()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	default:
		return nil
	}
}

func (a *App) newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
		ErrorLog:          zap.NewStdLog(a.logger.Named("http")),
	}
}

// Close stops the worker pool and the headless browser. It is safe to call
// more than once.
func (a *App) Close() {
	if a.workers != nil {
		a.workers.Close()
	}
	a.closeFetcher()
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeFetcher() {
	if a.headless != nil {
		a.headless.Close()
	}
}

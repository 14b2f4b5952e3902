package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/replayscraper/internal/id/uuid"
	"github.com/JakeFAU/replayscraper/internal/metrics"
	"github.com/JakeFAU/replayscraper/internal/pool"
	"github.com/JakeFAU/replayscraper/internal/service"
)

// ReplayService produces the encoded replay list for one request.
type ReplayService interface {
	Replays(ctx context.Context) ([]byte, error)
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	NewID() string
}

// Server wires HTTP handlers to the replay service.
type Server struct {
	router  chi.Router
	service ReplayService
	ids     IDGenerator
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. A nil ids uses
// UUIDv7 request IDs.
func NewServer(svc ReplayService, ids IDGenerator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ids == nil {
		ids = uuid.New()
	}
	s := &Server{
		service: svc,
		ids:     ids,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	r.Get("/", s.getReplays)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) getReplays(w http.ResponseWriter, r *http.Request) {
	body, err := s.service.Replays(r.Context())
	if err != nil {
		status := statusForError(err)
		s.logger.Warn("replay request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeEmpty(w, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("write replays failed", zap.Error(err))
	}
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrUpstream), errors.Is(err, service.ErrInvalidEncoding):
		return http.StatusBadGateway
	case errors.Is(err, pool.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeEmpty(w, http.StatusNotFound)
}

func writeEmpty(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(status)
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := s.ids.NewID()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", metrics.StatusOf(ww)),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeEmpty(w, http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

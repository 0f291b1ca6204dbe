// File: internal/gateway/server.go

// Package gateway is the HTTP surface of the service: task submission,
// admission control and health introspection.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/browserd/api/schemas"
	"github.com/xkilldash9x/browserd/internal/config"
)

// SessionPool is the slice of the pool the gateway needs.
type SessionPool interface {
	Acquire(ctx context.Context) (schemas.BrowserSession, error)
	Release(sess schemas.BrowserSession)
	Stats() schemas.PoolStats
}

// TaskRunner executes one validated task on an acquired session.
type TaskRunner interface {
	Execute(ctx context.Context, sess schemas.BrowserSession, req *schemas.TaskRequest) (*schemas.TaskResult, error)
}

// ResultReporter forwards script outcomes to an external collector.
type ResultReporter interface {
	Enabled() bool
	Submit(ctx context.Context, result *schemas.TaskResult) error
}

// Server wires the HTTP routes to the pool and the executor. Admission is a
// weighted semaphore sized capacity + queue_depth: beyond that the service
// answers busy instead of stacking requests.
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	pool     SessionPool
	runner   TaskRunner
	reporter ResultReporter

	router    chi.Router
	admission *semaphore.Weighted
	inFlight  atomic.Int64
}

// New builds the gateway server.
func New(cfg *config.Config, pool SessionPool, runner TaskRunner, reporter ResultReporter, logger *zap.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger.Named("gateway"),
		pool:      pool,
		runner:    runner,
		reporter:  reporter,
		admission: semaphore.NewWeighted(int64(cfg.Browser.Capacity() + cfg.Server.QueueDepth)),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Post("/tasks", s.handleTask)
	r.Get("/health", s.handleHealth)
	s.router = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves HTTP until ctx is canceled, then drains connections within
// server.shutdown_timeout.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("HTTP gateway listening.", zap.String("addr", srv.Addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("Draining HTTP connections...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return err
		}
		return nil
	}
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request handled.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

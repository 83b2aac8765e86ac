// Package server exposes the GPID queue and the duplicate review queue to
// the admin UI over JSON.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/gpidqueue"
	"github.com/sells-group/place-resolver/internal/review"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the API serves.
type Deps struct {
	Gpid        *gpidqueue.Service
	Review      *review.Service
	Outbox      review.Outbox
	Worker      *review.Worker
	DB          Pinger
	MaxAttempts int
	// AllowedOrigins lists the admin UI origins. Empty allows any origin.
	AllowedOrigins []string
}

// Server is the review API.
type Server struct {
	deps Deps
}

// New creates a Server.
func New(d Deps) *Server {
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = review.DefaultWorkerConfig().MaxAttempts
	}
	return &Server{deps: d}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", reviewerHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/gpid-queue", func(r chi.Router) {
			r.Get("/", s.listGpid)
			r.Get("/{id}", s.getGpid)
			r.Post("/{id}/approve", s.approveGpid)
			r.Post("/{id}/reject", s.rejectGpid)
			r.Post("/{id}/ambiguous", s.ambiguousGpid)
			r.Post("/{id}/skip", s.skipGpid)
		})
		r.Route("/review", func(r chi.Router) {
			r.Get("/", s.listReview)
			r.Get("/{id}", s.getReview)
			r.Post("/{id}/decide", s.decideReview)
			r.Post("/{id}/skip", s.skipReview)
		})
		r.Route("/outbox", func(r chi.Router) {
			r.Get("/dead", s.deadDecisions)
			r.Post("/{id}/requeue", s.requeueDecision)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		fail(w, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		fail(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", r.Method+" is not supported here")
	})
	return r
}

// ListenAndServe serves on port until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		if err := s.deps.DB.Ping(r.Context()); err != nil {
			zap.L().Warn("server: health check failed", zap.Error(err))
			fail(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable")
			return
		}
	}
	ok(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

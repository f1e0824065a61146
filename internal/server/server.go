// Package server provides the HTTP service for linedex.
//
// It exposes the index metadata and line range reads as JSON (or msgpack)
// over plain HTTP/1.1 and h2c. The index is loaded once by the caller and
// shared read-only by every request.
package server

import (
	"cmp"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"linedex/internal/index"
	"linedex/internal/logging"
	"linedex/internal/reader"
	"linedex/internal/sysmetrics"
)

// Version is set at build time.
var Version = "dev"

const (
	defaultMaxLimit    = 10000
	defaultReadTimeout = 30 * time.Second

	limiterCleanupInterval = time.Minute
	limiterStaleAfter      = 10 * time.Minute
)

// Config holds server configuration.
type Config struct {
	// Logger for structured logging.
	Logger *slog.Logger

	// MaxLimit caps the number of lines one range query returns.
	// Larger limits are clamped. Default: 10000.
	MaxLimit int

	// ReadTimeout bounds a single range read. Default: 30s.
	ReadTimeout time.Duration

	// RateLimit is the per-client-IP request rate on the range endpoints.
	// Zero disables rate limiting.
	RateLimit rate.Limit
	RateBurst int

	// AllowedOrigins are CORS origins allowed in addition to same-origin and
	// loopback. "*" allows any origin.
	AllowedOrigins []string
}

// Server serves one index.
type Server struct {
	ix      *index.Index
	rd      *reader.Reader
	cfg     Config
	logger  *slog.Logger
	metrics metrics
	limiter *rateLimiter
	cpu     *sysmetrics.Sampler

	startTime time.Time
	stale     atomic.Bool

	mu       sync.Mutex
	server   *http.Server
	cancel   context.CancelFunc
	bg       sync.WaitGroup
	inFlight sync.WaitGroup // tracks in-flight requests for graceful drain
	draining atomic.Bool    // true when server is draining (rejecting new requests)
}

// New creates a new Server over ix, reading lines through rd.
func New(ix *index.Index, rd *reader.Reader, cfg Config) *Server {
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = defaultMaxLimit
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	s := &Server{
		ix:        ix,
		rd:        rd,
		cfg:       cfg,
		logger:    logging.Default(cfg.Logger).With("component", "server"),
		cpu:       sysmetrics.NewSampler(),
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit, max(cfg.RateBurst, 1))
	}
	return s
}

// MarkStale flags the served index as no longer matching its source. The
// index keeps serving; /api/meta and /metrics report the flag.
func (s *Server) MarkStale() {
	if !s.stale.Swap(true) {
		s.logger.Warn("index marked stale", "build_id", s.ix.BuildID())
	}
}

// Stale reports whether MarkStale has been called.
func (s *Server) Stale() bool {
	return s.stale.Load()
}

// registerProbes adds liveness and readiness probe endpoints.
func (s *Server) registerProbes(mux *http.ServeMux) {
	// Liveness probe - returns 200 if the process is alive
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Readiness probe - returns 200 if ready to accept traffic
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

// isLoopback returns true if host is a loopback address (localhost, 127.0.0.1, ::1).
func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// originAllowed decides whether a browser origin may read responses.
// Same-origin is always allowed, as is any loopback origin when the request
// itself targets loopback (a dev frontend on another port).
func (s *Server) originAllowed(r *http.Request, origin string) bool {
	if slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin) {
		return true
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if origin == scheme+"://"+r.Host {
		return true
	}
	reqHost, _, _ := net.SplitHostPort(r.Host)
	reqHost = cmp.Or(reqHost, r.Host)
	if !isLoopback(reqHost) {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return isLoopback(u.Hostname())
}

// corsMiddleware adds CORS headers for browser clients.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(r, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", headerLimitApplied)
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// trackingMiddleware wraps an http.Handler to track in-flight requests.
func (s *Server) trackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.draining.Load() {
			http.Error(w, "server is draining", http.StatusServiceUnavailable)
			return
		}
		s.inFlight.Add(1)
		defer s.inFlight.Done()
		next.ServeHTTP(w, r)
	})
}

// buildMux creates a new ServeMux with the API, probe and metrics endpoints.
func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/meta", s.handleMeta)
	mux.HandleFunc("GET /api/users", s.handleLines)
	mux.HandleFunc("GET /api/lines", s.handleLines)
	s.registerProbes(mux)
	s.registerMetrics(mux)
	return mux
}

// Handler returns the complete middleware chain around the mux. It is what
// Serve installs and is usable directly in tests.
func (s *Server) Handler() http.Handler {
	var h http.Handler = compressMiddleware(s.buildMux())
	if s.limiter != nil {
		h = rateLimitMiddleware(s.limiter, &s.metrics)(h)
	}
	return s.trackingMiddleware(s.corsMiddleware(h))
}

// Serve starts the server on the given listener.
// It blocks until the server is stopped or an error occurs.
func (s *Server) Serve(listener net.Listener) error {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.server = &http.Server{
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.cancel = cancel
	server := s.server
	s.mu.Unlock()

	if s.limiter != nil {
		s.limiter.startCleanup(ctx, &s.bg, limiterCleanupInterval, limiterStaleAfter)
	}

	s.logger.Info("server starting",
		"addr", listener.Addr().String(),
		"lines", s.ix.TotalLines(),
		"buckets", len(s.ix.Buckets()),
		"build_id", s.ix.BuildID())

	err := server.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeTCP starts the server on a TCP address.
func (s *Server) ServeTCP(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Stop drains in-flight requests and shuts the server down. New requests
// get 503 while draining. ctx bounds the whole operation.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	cancel := s.cancel
	s.mu.Unlock()

	if server == nil {
		return nil
	}

	s.logger.Info("server stopping")
	s.draining.Store(true)

	drained := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.logger.Info("drain complete")
	case <-ctx.Done():
		s.logger.Warn("drain interrupted", "error", ctx.Err())
	}

	err := server.Shutdown(ctx)
	if cancel != nil {
		cancel()
	}
	s.bg.Wait()
	return err
}

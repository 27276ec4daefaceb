package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/dharsanguruparan/qrdrop/internal/bucket"
	"github.com/dharsanguruparan/qrdrop/internal/config"
	"github.com/dharsanguruparan/qrdrop/internal/model"
	"github.com/dharsanguruparan/qrdrop/internal/ratelimit"
	"github.com/dharsanguruparan/qrdrop/internal/redirect"
	"github.com/dharsanguruparan/qrdrop/internal/shortcode"
)

// Server exposes the bucket and redirect HTTP endpoints.
type Server struct {
	cfg       *config.Config
	buckets   *bucket.Service
	redirects *redirect.Service
	limiter   *ratelimit.Limiter
}

const shutdownTimeout = 5 * time.Second

// New constructs a Server. A nil limiter disables rate limiting.
func New(cfg *config.Config, buckets *bucket.Service, redirects *redirect.Service, limiter *ratelimit.Limiter) *Server {
	return &Server{
		cfg:       cfg,
		buckets:   buckets,
		redirects: redirects,
		limiter:   limiter,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled and
// in-flight requests have finished.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Address, err)
	}
	log.Printf("api listening on %s", ln.Addr())
	return s.serve(ctx, ln, s.Handler())
}

// serve returns only after Shutdown has drained every request or the
// shutdown timeout has passed.
func (s *Server) serve(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /qr-inactive", s.handleInactive)

	mux.Handle("POST /api/buckets", s.limit(ratelimit.OpCreate, s.handleCreateBucket))
	mux.Handle("GET /api/buckets/{code}", s.limit(ratelimit.OpDownload, s.handleBucketStatus))
	mux.Handle("POST /api/buckets/{code}/unlock", s.limit(ratelimit.OpDownload, s.handleUnlockBucket))
	mux.Handle("POST /api/buckets/{code}/upload", s.limit(ratelimit.OpUpload, s.handleUpload))
	mux.Handle("GET /api/buckets/{code}/download", s.limit(ratelimit.OpDownload, s.handleDownloadQuery))
	mux.Handle("POST /api/buckets/{code}/download", s.limit(ratelimit.OpDownload, s.handleDownloadBody))
	mux.Handle("POST /api/buckets/{code}/empty", s.limit(ratelimit.OpUpload, s.handleEmptyBucket))
	mux.Handle("PATCH /api/buckets/{code}", s.limit(ratelimit.OpUpload, s.handleUpdateBucket))
	mux.Handle("DELETE /api/buckets/{code}", s.limit(ratelimit.OpUpload, s.handleDeleteBucket))

	mux.Handle("POST /api/redirects", s.limit(ratelimit.OpCreate, s.handleCreateRedirect))
	mux.Handle("GET /api/redirects/{code}", s.limit(ratelimit.OpRedirect, s.handleGetRedirect))
	mux.Handle("PATCH /api/redirects/{code}", s.limit(ratelimit.OpUpload, s.handleUpdateRedirect))
	mux.Handle("POST /api/redirects/{code}/disable", s.limit(ratelimit.OpUpload, s.handleDisableRedirect))
	mux.Handle("GET /r/{code}", s.limit(ratelimit.OpRedirect, s.handleScan))
	mux.Handle("POST /r/{code}", s.limit(ratelimit.OpRedirect, s.handleScanWithPassword))

	return corsMiddleware(loggingMiddleware(rejectQueryPassword(mux)))
}

func (s *Server) limit(op ratelimit.Operation, h http.HandlerFunc) http.Handler {
	h = requireCode(h)
	if s.limiter == nil {
		return h
	}
	return s.limiter.Middleware(op, s.cfg.TrustProxy, h)
}

// requireCode answers 404 for a {code} that could never have been issued,
// without touching the store.
func requireCode(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if code := r.PathValue("code"); code != "" && !shortcode.Valid(code) {
			writeError(w, model.ErrNotFound)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInactive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusGone, map[string]string{
		"error":  "this QR code is no longer active",
		"reason": r.URL.Query().Get("reason"),
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs the path only. Query strings can carry owner tokens
// and are never written to the log.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// rejectQueryPassword refuses passwords sent in the URL, where they would end
// up in browser history and proxy logs.
func rejectQueryPassword(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Has("password") {
			writeError(w, errInsecureChannel)
			return
		}
		next.ServeHTTP(w, r)
	})
}

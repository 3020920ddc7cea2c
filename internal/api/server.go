// Package api exposes the verdict pipeline over HTTP: the streaming verdict
// endpoint, a health check and Prometheus metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/whisper/verdict-app/internal/metrics"
	"github.com/whisper/verdict-app/internal/protocol"
	"github.com/whisper/verdict-app/internal/ratelimit"
	"github.com/whisper/verdict-app/internal/stream"
)

// ServerConfig holds tunable parameters for the HTTP server.
type ServerConfig struct {
	ListenAddr        string        // address to listen on, e.g. ":8080"
	ReadHeaderTimeout time.Duration // timeout for reading request headers
	WriteTimeout      time.Duration // upper bound on one whole stream
	ShutdownTimeout   time.Duration // grace period for open streams
	TrustedProxies    []netip.Prefix
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:        ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      90 * time.Second,
		ShutdownTimeout:   15 * time.Second,
	}
}

// Limiter gates requests per client.
type Limiter interface {
	Check(ctx context.Context, identifier string) (ratelimit.Decision, error)
}

// Pipeline produces the event stream for one request.
type Pipeline interface {
	Run(ctx context.Context, req stream.Request, em stream.Emitter) (stream.Outcome, error)
}

// Server serves the verdict API.
type Server struct {
	config     ServerConfig
	limiter    Limiter
	pipeline   Pipeline
	logger     *zap.Logger
	router     *mux.Router
	httpServer *http.Server
	active     atomic.Int64 // open streams
	startedAt  time.Time
}

// NewServer creates a Server and registers its routes.
func NewServer(config ServerConfig, limiter Limiter, pipeline Pipeline, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config:    config,
		limiter:   limiter,
		pipeline:  pipeline,
		logger:    logger.Named("api"),
		router:    mux.NewRouter(),
		startedAt: time.Now(),
	}
	s.router.HandleFunc("/api/verdict", s.handleVerdict).Methods(http.MethodPost)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	s.httpServer = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ActiveStreams returns the number of streams currently open.
func (s *Server) ActiveStreams() int {
	return int(s.active.Load())
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.config.ListenAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: http server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for open streams until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down", zap.Int("active_streams", s.ActiveStreams()))
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// handleVerdict handles POST /api/verdict. Invalid bodies are rejected
// before the rate limiter so they do not consume quota.
func (s *Server) handleVerdict(w http.ResponseWriter, r *http.Request) {
	req, err := decodeVerdictRequest(w, r)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	clientID := ClientIdentifier(r, s.config.TrustedProxies)
	decision, err := s.limiter.Check(r.Context(), clientID)
	if err != nil {
		metrics.RateLimitErrors.Inc()
		s.logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
	}
	if !decision.Allowed {
		metrics.RateLimited.Inc()
		metrics.RequestsTotal.WithLabelValues("rate_limited").Inc()
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":             "Daily verdict limit reached. Please try again later.",
			"retryAfterSeconds": decision.RetryAfterSeconds,
			"remaining":         decision.Remaining,
		})
		return
	}

	requestID := uuid.NewString()
	w.Header().Set("Content-Type", protocol.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	w.WriteHeader(http.StatusOK)

	s.active.Add(1)
	metrics.ActiveStreams.Inc()
	defer func() {
		s.active.Add(-1)
		metrics.ActiveStreams.Dec()
	}()

	outcome, err := s.pipeline.Run(r.Context(), stream.Request{
		ID:       requestID,
		ClientID: clientID,
		Text:     req.Text,
		Density:  req.Density,
	}, stream.NewNDJSONWriter(w))
	metrics.RequestsTotal.WithLabelValues(string(outcome)).Inc()

	log := s.logger.With(zap.String("request_id", requestID), zap.String("outcome", string(outcome)))
	switch {
	case err == nil:
		log.Debug("verdict delivered")
	case errors.Is(err, stream.ErrBlocked):
		log.Info("case blocked")
	default:
		log.Warn("verdict failed", zap.Error(err))
	}
}

// handleHealth responds with the server's health status as JSON, including
// the number of open streams and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status        string `json:"status"`
		ActiveStreams int    `json:"active_streams"`
		Uptime        string `json:"uptime"`
	}{
		Status:        "ok",
		ActiveStreams: s.ActiveStreams(),
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package http serves the OpenAI-compatible API in front of the bridge.
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roelfdiedericks/zaibridge/internal/bridge"
	. "github.com/roelfdiedericks/zaibridge/internal/logging"
	"github.com/roelfdiedericks/zaibridge/internal/metrics"
	"github.com/roelfdiedericks/zaibridge/internal/tokens"
)

// Thinking output modes
const (
	ThinkingInline    = "inline"
	ThinkingReasoning = "reasoning"
	ThinkingDrop      = "drop"
)

// Completer is the part of the bridge the server drives
type Completer interface {
	Stream(ctx context.Context, req *bridge.ChatRequest) (*bridge.Stream, error)
	Busy() bool
}

// StatusFunc supplies extra fields for /api/status
type StatusFunc func() map[string]any

// Server represents the HTTP server
type Server struct {
	server      *http.Server
	bridge      Completer
	status      StatusFunc
	tokens      *tokens.Estimator
	rateLimiter *RateLimiter
	model       string
	apiKey      string
	thinking    atomic.Value // string
	started     time.Time
	wg          sync.WaitGroup
	listener    net.Listener
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen   string            // Address to listen on (e.g., "127.0.0.1:3379")
	APIKey   string            // Bearer key; empty disables authentication
	Model    string            // Model name reported to clients
	Thinking string            // inline | reasoning | drop
	Tokens   *tokens.Estimator // Usage estimator; nil counts characters
	Status   StatusFunc        // Optional status fields
}

// NewServer creates a new HTTP server instance
func NewServer(cfg *ServerConfig, b Completer) *Server {
	listen := cfg.Listen
	if listen == "" {
		listen = "127.0.0.1:3379"
	}
	model := cfg.Model
	if model == "" {
		model = "glm-5"
	}

	s := &Server{
		bridge:      b,
		status:      cfg.Status,
		tokens:      cfg.Tokens,
		rateLimiter: NewRateLimiter(10 * time.Second),
		model:       model,
		apiKey:      cfg.APIKey,
		started:     time.Now(),
	}
	s.SetThinking(cfg.Thinking)

	s.server = &http.Server{
		Addr:        listen,
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: replies stream for minutes
		IdleTimeout: 120 * time.Second,
	}

	L_debug("http: server configured", "listen", listen, "model", model, "auth", s.apiKey != "", "thinking", s.Thinking())
	return s
}

// SetThinking changes how thinking text is rendered. Unknown values fall
// back to inline. Safe to call while serving.
func (s *Server) SetThinking(mode string) {
	switch mode {
	case ThinkingInline, ThinkingReasoning, ThinkingDrop:
	default:
		mode = ThinkingInline
	}
	if prev, _ := s.thinking.Load().(string); prev != "" && prev != mode {
		L_info("http: thinking mode changed", "from", prev, "to", mode)
	}
	s.thinking.Store(mode)
}

// Thinking returns the current thinking mode
func (s *Server) Thinking() string {
	mode, _ := s.thinking.Load().(string)
	return mode
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Middleware chain: logging -> strip headers -> auth
	wrap := func(route string, h http.HandlerFunc) http.HandlerFunc {
		return s.logRequest(route, s.stripHeaders(s.bearerAuth(h)))
	}

	mux.HandleFunc("POST /v1/chat/completions", wrap("chat", s.handleChatCompletions))
	mux.HandleFunc("POST /chat/completions", wrap("chat", s.handleChatCompletions))
	mux.HandleFunc("GET /v1/models", wrap("models", s.handleModels))
	mux.HandleFunc("GET /models", wrap("models", s.handleModels))
	mux.HandleFunc("GET /api/status", wrap("status", s.handleStatus))
	mux.Handle("GET /metrics", s.logRequest("metrics", metrics.Handler().ServeHTTP))

	return mux
}

// Start binds the listen address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		L_info("http: server starting", "addr", ln.Addr().String())

		err := s.server.Serve(ln)
		if err != nil && err != http.ErrServerClosed {
			L_error("http: server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.server.Addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server. In-flight streams are
// cancelled once ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		L_warn("http: graceful shutdown incomplete, closing", "error", err)
		s.server.Close()
	}

	s.wg.Wait()
	L_info("http: server stopped")
	return nil
}

// logRequest wraps an HTTP handler to log and measure requests
func (s *Server) logRequest(route string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(lw, r)

		metrics.ObserveHTTP(route, lw.statusCode, time.Since(start))
		L_trace("http: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", lw.statusCode,
			"duration", time.Since(start))
	}
}

// loggingResponseWriter wraps ResponseWriter to capture status code
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lw *loggingResponseWriter) WriteHeader(code int) {
	lw.statusCode = code
	lw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher for SSE support
func (lw *loggingResponseWriter) Flush() {
	if f, ok := lw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// stripHeaders removes fingerprinting headers
func (s *Server) stripHeaders(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Server")
		w.Header().Del("X-Powered-By")

		handler(w, r)
	}
}

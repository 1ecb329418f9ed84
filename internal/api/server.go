// Package api exposes the chat orchestration core and the conversation
// read surface over HTTP.
package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mesura-ai/mesura/internal/log"
)

// ServerConfig configures the API server.
type ServerConfig struct {
	Logger       log.Logger
	Orchestrator ChatOrchestrator   // required
	Store        ConversationReader // required
	Users        UserResolver       // required
	Pool         *pgxpool.Pool      // optional, enables pool stats in /ready
	CORSOrigins  []string
	TrustProxy   bool // honor X-Real-IP/X-Forwarded-For behind a reverse proxy
	RateBurst    int  // per-IP burst, 0 = default 60
}

// Server is the JSON/SSE HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer builds the route table and middleware stack.
func NewServer(cfg ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ch := &chatHandler{orchestrator: cfg.Orchestrator, logger: logger}
	cv := &conversationHandler{store: cfg.Store, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", ch.send)
	mux.HandleFunc("GET /api/v1/conversations", cv.list)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", cv.messages)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery → RequestID → Logging → CORS → RateLimit → Auth → Routes
	// RequestID precedes Logging so request_id shows up in log attributes.
	// CORS precedes RateLimit so preflight OPTIONS gets its headers.
	var handler http.Handler = mux
	handler = authMiddleware(cfg.Users, logger)(handler)
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass auth and rate limiting.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health(logger))
	topMux.Handle("GET /ready", readiness(cfg.Pool, logger))
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

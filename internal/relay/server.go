package relay

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nicorelay/internal/auth"
	"nicorelay/internal/metrics"
	"nicorelay/internal/ratelimit"
)

const sessionHeader = "X-Session-ID"

// Server is the stateless relay between the chat client and the backend.
// Every inbound request is handled independently; nothing is shared across
// requests beyond the configuration it was constructed with.
type Server struct {
	backendURL string
	strategy   auth.Strategy
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	healthPath string
}

type Config struct {
	BackendURL string
	Strategy   auth.Strategy
	HTTPClient *http.Client
	Limiter    *ratelimit.Limiter
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
	HealthPath string
}

func New(cfg Config) *Server {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/api/health"
	}
	return &Server{
		backendURL: strings.TrimSuffix(cfg.BackendURL, "/"),
		strategy:   cfg.Strategy,
		httpClient: cfg.HTTPClient,
		limiter:    cfg.Limiter,
		logger:     cfg.Logger,
		metrics:    m,
		healthPath: cfg.HealthPath,
	}
}

// Register wires the relay routes onto mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/logs", s.handleLogs)
	mux.HandleFunc(s.healthPath, s.handleHealth)
}

// clientToken extracts the credential the client presented to the relay,
// from either a bearer authorization header or X-Auth-Token.
func clientToken(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("Authorization")); v != "" {
		if tok, ok := strings.CutPrefix(v, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Auth-Token"))
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		if idx := strings.Index(fwd, ","); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

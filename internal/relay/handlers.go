package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"nicorelay/internal/auth"
)

const maxBackendBody = 4 << 20

type chatRequest struct {
	Message string `json:"message"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, indexHTML)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "OK",
		"message": "nicorelay is running",
	})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
		return
	}
	s.metrics.ChatRequests.Inc()
	if !s.allowRate(w, r) {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Message is required"})
		return
	}

	payload, err := json.Marshal(chatRequest{Message: req.Message})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error", Details: err.Error()})
		return
	}
	s.forward(w, r, http.MethodPost, "/api/chat", payload)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed"})
		return
	}
	s.metrics.LogRequests.Inc()
	if !s.allowRate(w, r) {
		return
	}
	s.forward(w, r, http.MethodGet, "/api/logs", nil)
}

// forward performs the single upstream round trip: credential attachment,
// session-id passthrough, and the uniform error envelope. No retries.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, method, path string, body []byte) {
	token := clientToken(r)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(r.Context(), method, s.backendURL+path, reader)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error", Details: err.Error()})
		return
	}
	if body != nil {
		out.Header.Set("Content-Type", "application/json")
	}
	if sid := r.Header.Get(sessionHeader); sid != "" {
		out.Header.Set(sessionHeader, sid)
	}

	if err := s.strategy.Attach(out.Header, token); err != nil {
		if errors.Is(err, auth.ErrMissingCredential) {
			s.metrics.Unauthorized.Inc()
			s.logger.Warn().Str("path", path).Msg("request without required credential")
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "Authentication token required"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error", Details: err.Error()})
		return
	}

	start := time.Now()
	resp, err := s.httpClient.Do(out)
	if err != nil {
		s.metrics.UpstreamErrors.Inc()
		s.logger.Error().Err(err).Str("path", path).Str("token", auth.Redact(token)).Msg("backend unreachable")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error", Details: err.Error()})
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendBody))
	if err != nil {
		s.metrics.UpstreamErrors.Inc()
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Internal server error", Details: err.Error()})
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.metrics.UpstreamErrors.Inc()
		s.logger.Error().
			Int("backend_status", resp.StatusCode).
			Str("path", path).
			Str("token", auth.Redact(token)).
			Dur("elapsed", time.Since(start)).
			Msg("backend returned error")
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:   "Internal server error",
			Details: fmt.Sprintf("backend status %d: %s", resp.StatusCode, truncate(string(respBody), 512)),
		})
		return
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(respBody)
}

// allowRate applies the optional per-IP limiter. A limiter failure is logged
// and the request proceeds.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	allowed, used, resetAt, err := s.limiter.Allow(r.Context(), clientIP(r), time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("rate limiter unavailable")
		return true
	}
	if !allowed {
		s.metrics.RateLimited.Inc()
		s.logger.Warn().Str("ip", clientIP(r)).Int64("used", used).Time("reset_at", resetAt).Msg("rate limited")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "Rate limit exceeded"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

const indexHTML = `<!DOCTYPE html>
<html lang="es">
<head><meta charset="utf-8"><title>nicorelay</title></head>
<body><h1>nicorelay</h1><p>Chat relay is running. See /api/health.</p></body>
</html>
`

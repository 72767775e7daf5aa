package http

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	. "github.com/roelfdiedericks/zaibridge/internal/logging"
)

// bearerAuth enforces the API key when one is configured
func (s *Server) bearerAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			handler(w, r)
			return
		}

		clientIP := getClientIP(r)

		if s.rateLimiter.IsLimited(clientIP) {
			L_warn("http: rate limited", "ip", clientIP)
			writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many failed attempts. Try again later.")
			return
		}

		key, ok := bearerToken(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="zaibridge"`)
			writeError(w, http.StatusUnauthorized, "invalid_api_key", "Authentication required")
			return
		}

		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			s.rateLimiter.RecordFailure(clientIP)
			L_warn("http: auth failed - bad api key", "ip", clientIP)
			w.Header().Set("WWW-Authenticate", `Bearer realm="zaibridge"`)
			writeError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
			return
		}

		s.rateLimiter.ClearFailure(clientIP)
		handler(w, r)
	}
}

// bearerToken extracts the key from "Authorization: Bearer <key>"
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, key, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	key = strings.TrimSpace(key)
	return key, key != ""
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// writeError sends an OpenAI-style error body
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, openai.ErrorResponse{
		Error: &openai.APIError{
			Code:    code,
			Message: message,
			Type:    errorTypeFor(status),
		},
	})
}

func errorTypeFor(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}

package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/ocx/evcentral/internal/config"
)

// corsMiddleware allows the configured origins (or "*") plus the headers
// the control plane accepts, mirroring the teacher's CORS handling but
// scoped to this API's own header set.
func corsMiddleware(cfg *config.Config) mux.MiddlewareFunc {
	exact := make(map[string]bool, len(cfg.Server.CORSAllowOrigins))
	allowAll := false
	for _, o := range cfg.Server.CORSAllowOrigins {
		if o == "*" {
			allowAll = true
		} else {
			exact[o] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && exact[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Api-Key")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs each request's method, path, status, and latency.
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

// apiKeyMiddleware enforces the configured X-Api-Key. No-op when neither
// SecurityConfig.APIKey nor APIKeyHash is set. A configured hash takes
// precedence and is checked with bcrypt; otherwise the plain key is
// compared in constant time.
func apiKeyMiddleware(cfg *config.Config) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			if cfg.Security.APIKeyHash == "" && cfg.Security.APIKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get("X-Api-Key")
			if presented == "" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "missing X-Api-Key"})
				return
			}

			if cfg.Security.APIKeyHash != "" {
				if err := bcrypt.CompareHashAndPassword([]byte(cfg.Security.APIKeyHash), []byte(presented)); err != nil {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid X-Api-Key"})
					return
				}
			} else if !constantTimeEqual(presented, cfg.Security.APIKey) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "invalid X-Api-Key"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}

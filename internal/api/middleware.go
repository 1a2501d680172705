package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/cmason/NoLongerEvil-Thermostat/internal/auth"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/config"
	"github.com/cmason/NoLongerEvil-Thermostat/internal/infrastructure/logging"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	ctxKeyRequestID contextKey = "request_id"
	ctxKeySerial    contextKey = "serial"
	ctxKeyUserID    contextKey = "user_id"
)

// requestIDMiddleware generates a unique request ID for each request. If
// the caller sends an X-Request-ID header, it is used; otherwise one is
// generated.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func loggingMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", r.Context().Value(ctxKeyRequestID),
			)
		})
	}
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func recoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered in HTTP handler",
						"error", err,
						"method", r.Method,
						"path", r.URL.Path,
						"request_id", r.Context().Value(ctxKeyRequestID),
					)
					writeInternalError(w, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware handles Cross-Origin Resource Sharing headers for the
// frontend-facing surface; the device protocol has no browser client and
// never installs this middleware.
func corsMiddleware(cors config.CORSConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && isAllowedOrigin(cors, origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", joinOrDefault(cors.AllowedMethods, "GET, POST, PUT, PATCH, DELETE, OPTIONS"))
				w.Header().Set("Access-Control-Allow-Headers", joinOrDefault(cors.AllowedHeaders, "Authorization, Content-Type, X-Request-ID"))
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// bodySizeLimitMiddleware limits the size of incoming request bodies to
// prevent denial-of-service attacks via oversized payloads.
func bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// deviceAuthMiddleware authorizes a device-protocol request: the path's
// {serial} must match the entry key presented in the X-Entry-Key header,
// per §4.E's "serial must match owner/share" and §7's unauthorized-serial
// handling. On success it stashes the serial in the request context.
func deviceAuthMiddleware(authorizer auth.Authorizer, serialParam func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			serial := serialParam(r)
			if serial == "" {
				writeBadRequest(w, "missing serial")
				return
			}
			entryKey := r.Header.Get("X-Entry-Key")
			ok, err := authorizer.AuthorizeSerial(r.Context(), serial, entryKey)
			if err != nil {
				writeInternalError(w, "authorization check failed")
				return
			}
			if !ok {
				writeUnauthorized(w, "unauthorized serial")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeySerial, serial)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// sessionMiddleware authorizes a frontend request via either a bearer JWT
// session (minted by whatever external system authenticates the human) or,
// when enabled, a long-lived API key. Either path resolves to a user ID
// stashed in the request context.
func sessionMiddleware(secCfg config.SecurityConfig, authorizer auth.Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok, err := resolveSession(r, secCfg, authorizer)
			if err != nil {
				writeInternalError(w, "authorization check failed")
				return
			}
			if !ok {
				writeUnauthorized(w, "missing or invalid credentials")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveSession(r *http.Request, secCfg config.SecurityConfig, authorizer auth.Authorizer) (string, bool, error) {
	if secCfg.APIKeys.Enabled {
		if key := r.Header.Get("X-API-Key"); key != "" {
			userID, ok, err := authorizer.AuthorizeAPIKey(r.Context(), key)
			if err != nil {
				return "", false, err
			}
			if ok {
				return userID, true, nil
			}
		}
	}

	bearer := r.Header.Get("Authorization")
	token, hasBearer := strings.CutPrefix(bearer, "Bearer ")
	if !hasBearer {
		return "", false, nil
	}
	claims, err := auth.ParseToken(token, secCfg.JWT.Secret)
	if err != nil {
		return "", false, nil
	}
	return claims.Subject, true, nil
}

// isAllowedOrigin checks if the origin is in the allowed list. An empty
// list allows all origins (dev mode).
func isAllowedOrigin(cors config.CORSConfig, origin string) bool {
	if len(cors.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range cors.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

const requestIDBytes = 8

// generateRequestID creates a random hex request ID.
func generateRequestID() string {
	b := make([]byte, requestIDBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// joinOrDefault joins a string slice with ", " or returns the default if empty.
func joinOrDefault(values []string, defaultVal string) string {
	if len(values) == 0 {
		return defaultVal
	}
	result := values[0]
	for _, v := range values[1:] {
		result += ", " + v
	}
	return result
}

package controlapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/rafaeljc/booker/internal/logger"
	"github.com/rafaeljc/booker/internal/observability"
)

// apiKeyHeader carries the plain API key on every /api/v1 request.
const apiKeyHeader = "X-API-Key"

// RequestLogger injects a request-scoped logger into the context, then logs
// and measures the request once it completes.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Set by chi's RequestID middleware; generated when the router is
		// used without it.
		reqID := middleware.GetReqID(r.Context())
		if reqID == "" {
			reqID = uuid.NewString()
		}

		reqLogger := slog.Default().With(
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
		ctx := logger.WithContext(r.Context(), reqLogger)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		duration := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := routePattern(r)
		observability.ControlPlaneReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		observability.ControlPlaneReqDuration.WithLabelValues(r.Method, route).Observe(duration.Seconds())

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		reqLogger.Log(ctx, level, "HTTP request completed",
			slog.Int("status", status),
			slog.Duration("duration", duration),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

// routePattern returns the matched chi pattern so metric labels stay bounded
// by the route table. Unmatched paths collapse to "not_found".
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" && !strings.Contains(p, "*") {
			return p
		}
	}
	return "not_found"
}

// authenticateAPIKey compares the SHA-256 digest of the X-API-Key header
// with the configured hash in constant time.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			writeUnauthorized(w, r, "Missing API key")
			return
		}

		sum := sha256.Sum256([]byte(key))
		got := hex.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(got), []byte(strings.ToLower(a.apiKeyHash))) != 1 {
			logger.FromContext(r.Context()).Warn("rejected request with invalid api key")
			writeUnauthorized(w, r, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_UNAUTHORIZED",
		Message: msg,
	})
}

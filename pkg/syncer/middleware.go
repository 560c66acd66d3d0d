package syncer

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/reviewpulse/platform/pkg/common/logger"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// requestID returns the id assigned by the RequestID middleware, or a
// fresh one when the handler is exercised without it (tests).
func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// RequestID tags every request with a correlation id, honoring one the
// caller already set.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		logger.Log.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
			"request_id":  requestID(r),
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("HTTP request")
	})
}

// Recovery turns an unanticipated panic into the generic INTERNAL
// envelope, leaving already-committed per-location work intact.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Log.WithFields(map[string]interface{}{
					"error":      err,
					"request_id": requestID(r),
				}).Error("panic recovered")
				writeError(w, requestID(r), http.StatusInternalServerError, "INTERNAL", "internal error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

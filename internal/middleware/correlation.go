package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type key int

const (
	CorrelationKey key = iota
	CallerKey
)

// CallerHeader carries the authenticated principal, set by the auth layer in
// front of this service.
const CallerHeader = "X-User-ID"

func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), CorrelationKey, id)
		if caller := r.Header.Get(CallerHeader); caller != "" {
			ctx = context.WithValue(ctx, CallerKey, caller)
		}
		w.Header().Set("X-Correlation-ID", id)

		slog.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path) // #nosec G706 -- r.URL.Path is parsed by Go's net/http
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		slog.InfoContext(ctx, "request completed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start)) // #nosec G706
	})
}

func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationKey).(string); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}

// GetCaller returns the requesting principal, or "" for anonymous requests.
func GetCaller(ctx context.Context) string {
	id, _ := ctx.Value(CallerKey).(string)
	return id
}

func WithCaller(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CallerKey, id)
}

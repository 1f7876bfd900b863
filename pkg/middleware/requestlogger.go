package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/ordersaga/pkg/logger"
)

// RequestLogger stores a logger carrying the request's correlation, user and
// trace ids in the context, for logger.FromContext. Mount it after
// RequestLogging, Tracing and Identity.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if logger.UserIDFromContext(ctx) == "" {
				if id := r.Header.Get(HeaderUserID); id != "" {
					ctx = logger.WithUserID(ctx, id)
				}
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

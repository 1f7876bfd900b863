package http

import (
	"mime"
	"net/http"

	"github.com/utafrali/ordersaga/pkg/httputil"
	"github.com/utafrali/ordersaga/pkg/logger"
)

// ContentTypeJSON rejects write requests whose declared body type is not
// JSON with 415. A missing Content-Type is accepted.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBody := r.ContentLength > 0 ||
			r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch
		if ct := r.Header.Get("Content-Type"); hasBody && ct != "" {
			if mt, _, err := mime.ParseMediaType(ct); err != nil || mt != "application/json" {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:      "UNSUPPORTED_MEDIA_TYPE",
						Message:   "Content-Type must be application/json",
						RequestID: logger.CorrelationIDFromContext(r.Context()),
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

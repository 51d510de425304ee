package middleware

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"formy/api/dto"
)

// Recovery converts a handler panic into a 500 whose body carries the
// request's trace id, so a client report can be matched to the stack
// in the logs. It wraps the whole chain; nothing panics past it.
func Recovery(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					traceID := GetTraceID(r.Context())
					logger.Error("Panic recovered",
						zap.String("trace_id", traceID),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("panic", recovered),
						zap.Stack("stack"),
					)

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(dto.ErrorResponse{
						Error:   "Internal server error",
						Code:    "INTERNAL",
						TraceID: traceID,
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

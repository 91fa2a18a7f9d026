package trace

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	RequestIDKey    ContextKey = "request_id"
	RequestIDHeader            = "X-Request-ID"
)

// incoming ids are echoed into logs and headers, so only plain tokens are accepted
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

type RequestID struct{}

func WithRequestID() *RequestID {
	return &RequestID{}
}

// Middleware stores a request ID in the context and the response headers.
// A well formed X-Request-ID from the client is kept; otherwise a UUID is generated.
func (rid *RequestID) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if !validRequestID.MatchString(requestID) {
			requestID = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, requestID)
		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
// Returns an empty string if not found.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		return reqID
	}
	return ""
}

// Field returns the request ID of ctx as a zap field.
func Field(ctx context.Context) zap.Field {
	return zap.String("request_id", GetRequestID(ctx))
}

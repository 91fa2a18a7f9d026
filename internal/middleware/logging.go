package middleware

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/jobguard/pkg/trace"
)

// LoggingMiddleware writes one access log line per request. Request headers
// are never logged; the Authorization header carries bearer tokens.
type LoggingMiddleware struct {
	logger       *zap.Logger
	includeQuery bool
	excludePaths []string
	now          func() time.Time
}

type LoggingOption func(*LoggingMiddleware)

// WithQueryParams enables logging of query parameters.
func WithQueryParams(enabled bool) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.includeQuery = enabled
	}
}

// WithExcludePaths excludes paths with the given prefixes from logging.
func WithExcludePaths(paths ...string) LoggingOption {
	return func(l *LoggingMiddleware) {
		l.excludePaths = append(l.excludePaths, paths...)
	}
}

func NewLoggingMiddleware(logger *zap.Logger, opts ...LoggingOption) *LoggingMiddleware {
	lm := &LoggingMiddleware{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

func (l *LoggingMiddleware) shouldExcludePath(path string) bool {
	for _, p := range l.excludePaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (l *LoggingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.shouldExcludePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := l.now()
		sw := newStatusWriter(w)
		next.ServeHTTP(sw, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.Status()),
			zap.Duration("duration", l.now().Sub(start)),
			zap.String("ip", ClientIP(r)),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("response_size", sw.Length()),
		}
		if id := trace.GetRequestID(r.Context()); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if l.includeQuery && r.URL.RawQuery != "" {
			fields = append(fields, zap.String("query", r.URL.RawQuery))
		}

		switch status := sw.Status(); {
		case status >= 500:
			l.logger.Error("Server error", fields...)
		case status >= 400:
			l.logger.Warn("Client error", fields...)
		default:
			l.logger.Info("Request completed", fields...)
		}
	})
}

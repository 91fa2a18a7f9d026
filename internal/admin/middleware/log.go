package admin

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	authmw "github.com/victorgomez09/jobguard/internal/auth/middleware"
	"github.com/victorgomez09/jobguard/internal/middleware"
	"github.com/victorgomez09/jobguard/pkg/trace"
)

// AccessLogMiddleware records every admin call with the acting principal.
// It must run after the auth middleware.
type AccessLogMiddleware struct {
	logger *zap.Logger
}

func NewAccessLogMiddleware(logger *zap.Logger) middleware.Middleware {
	return &AccessLogMiddleware{
		logger: logger,
	}
}

func (m *AccessLogMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusResponseWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", middleware.ClientIP(r)),
			trace.Field(r.Context()),
		}
		if claims, ok := authmw.PrincipalFrom(r.Context()); ok {
			fields = append(fields, zap.String("actor_id", claims.UserID))
		}
		m.logger.Info("Admin API call", fields...)
	})
}

type statusResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusResponseWriter) WriteHeader(status int) {
	if w.status == 0 {
		w.status = status
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusResponseWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

// Hijack lets the event stream upgrade through the access log.
func (w *statusResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("upstream ResponseWriter does not implement http.Hijacker")
	}
	if w.status == 0 {
		w.status = http.StatusSwitchingProtocols
	}
	return hijacker.Hijack()
}

func (w *statusResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

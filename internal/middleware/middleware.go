package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/victorgomez09/jobguard/internal/config"
	"github.com/victorgomez09/jobguard/internal/metrics"
)

// Middleware defines an interface for HTTP middleware.
// Each middleware must implement the Middleware method, which takes the next handler in the chain
// and returns a new handler that wraps additional functionality around it.
type Middleware interface {
	Middleware(next http.Handler) http.Handler
}

// Func adapts a plain func(http.Handler) http.Handler, such as a chi middleware, to Middleware.
type Func func(next http.Handler) http.Handler

func (f Func) Middleware(next http.Handler) http.Handler {
	return f(next)
}

// statusWriter is a custom ResponseWriter that captures the HTTP status code and the length of the response.
type statusWriter struct {
	http.ResponseWriter
	status      int
	length      int
	wroteHeader bool
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.length += n
	return n, err
}

func (w *statusWriter) Status() int {
	return w.status
}

func (w *statusWriter) Length() int {
	return w.length
}

// Hijack delegates to the embedded ResponseWriter; the admin event stream upgrades through it.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("upstream ResponseWriter does not implement http.Hijacker")
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// MiddlewareChain manages a sequence of middleware.
// Allows chaining multiple middleware together and applying them to a final HTTP handler.
type MiddlewareChain struct {
	middlewares []Middleware
}

func NewMiddlewareChain(middlewares ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{middlewares: middlewares}
}

// Use adds a new Middleware to the MiddlewareChain.
func (c *MiddlewareChain) Use(middleware Middleware) {
	c.middlewares = append(c.middlewares, middleware)
}

// Then applies the middleware chain to the final HTTP handler.
// The first middleware added is the first to process the request.
func (c *MiddlewareChain) Then(final http.Handler) http.Handler {
	if final == nil {
		final = http.NotFoundHandler()
	}
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		final = c.middlewares[i].Middleware(final)
	}
	return final
}

// Handlers returns the chain as chi compatible middleware functions.
func (c *MiddlewareChain) Handlers() []func(http.Handler) http.Handler {
	out := make([]func(http.Handler) http.Handler, len(c.middlewares))
	for i, mw := range c.middlewares {
		out[i] = mw.Middleware
	}
	return out
}

// AddConfiguredMiddlewares adds the globally configured middleware: security
// headers, CORS and per address throttling, in that order.
func (c *MiddlewareChain) AddConfiguredMiddlewares(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) {
	mw := cfg.Middleware

	if mw.Security != nil {
		c.Use(NewSecurityMiddleware(*mw.Security))
		logger.Info("Global Security middleware configured")
	}

	if mw.CORS != nil {
		c.Use(NewCORSMiddleware(*mw.CORS))
		logger.Info("Global CORS middleware configured",
			zap.Strings("allowed_origins", mw.CORS.AllowedOrigins))
	}

	if mw.RateLimit != nil {
		rl := NewRateLimiterMiddleware(mw.RateLimit.RequestsPerSecond, mw.RateLimit.Burst, mw.RateLimit.IdleTTL, m)
		c.Use(rl)
		logger.Info("Global Rate Limiter middleware configured",
			zap.Float64("requests_per_second", rl.rps),
			zap.Int("burst", rl.burst))
	}
}

package middleware

import (
	"net/http"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	"github.com/victorgomez09/jobguard/internal/cerr"
	"github.com/victorgomez09/jobguard/pkg/trace"
)

// RecoverMiddleware turns a handler panic into a 500 with the generic error envelope.
type RecoverMiddleware struct {
	logger *zap.Logger
}

func NewRecoverMiddleware(logger *zap.Logger) *RecoverMiddleware {
	return &RecoverMiddleware{logger: logger}
}

func (m *RecoverMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			m.logger.Error("Panic recovered",
				zap.Any("panic", rec),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				trace.Field(r.Context()),
				zap.Stack("stack"))
			cerr.WriteError(w, apierr.ErrInternal)
		}()
		next.ServeHTTP(w, r)
	})
}

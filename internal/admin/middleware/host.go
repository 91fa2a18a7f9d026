package admin

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	"github.com/victorgomez09/jobguard/internal/cerr"
	"github.com/victorgomez09/jobguard/internal/middleware"
)

var errInvalidHost = &apierr.Error{Code: apierr.CodeInsufficientRole, Message: "invalid host"}

// HostnameMiddleware validates incoming requests against a configured hostname
type HostnameMiddleware struct {
	hostname string // Expected hostname to validate against
	logger   *zap.Logger
}

func NewHostnameMiddleware(hostname string, logger *zap.Logger) middleware.Middleware {
	return &HostnameMiddleware{
		hostname: strings.ToLower(hostname),
		logger:   logger,
	}
}

func (m *HostnameMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.hostname == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Extract hostname from request, ignoring port number
		host, _, err := net.SplitHostPort(r.Host)
		if err != nil {
			host = r.Host
		}

		// If does not match - you shall not pass
		if !strings.EqualFold(host, m.hostname) {
			m.logger.Warn("Invalid hostname",
				zap.String("expected", m.hostname),
				zap.String("received", host),
				zap.String("ip", middleware.ClientIP(r)),
			)
			cerr.WriteError(w, errInvalidHost)
			return
		}

		next.ServeHTTP(w, r)
	})
}

package admin

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	apierr "github.com/victorgomez09/jobguard/internal/auth"
	"github.com/victorgomez09/jobguard/internal/cerr"
	"github.com/victorgomez09/jobguard/internal/middleware"
)

var errIPNotAllowed = &apierr.Error{Code: apierr.CodeInsufficientRole, Message: "access denied"}

// IPRestrictionMiddleware validates incoming requests against configured allowed IPs
type IPRestrictionMiddleware struct {
	ips    []net.IP
	nets   []*net.IPNet
	logger *zap.Logger
}

// NewIPRestrictionMiddleware creates a new middleware for IP-based access control.
// Entries are single addresses or CIDR blocks; invalid entries are skipped
// (the config layer rejects them at startup).
func NewIPRestrictionMiddleware(allowed []string, logger *zap.Logger) middleware.Middleware {
	m := &IPRestrictionMiddleware{logger: logger}
	for _, entry := range allowed {
		if ip := net.ParseIP(entry); ip != nil {
			m.ips = append(m.ips, ip)
			continue
		}
		if _, n, err := net.ParseCIDR(entry); err == nil {
			m.nets = append(m.nets, n)
		}
	}
	return m
}

// Allowed reports whether addr may reach the admin API. An empty list allows all.
func (m *IPRestrictionMiddleware) Allowed(addr string) bool {
	if len(m.ips) == 0 && len(m.nets) == 0 {
		return true
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, allowed := range m.ips {
		if allowed.Equal(ip) {
			return true
		}
	}
	for _, n := range m.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (m *IPRestrictionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := middleware.ClientIP(r)
		if !m.Allowed(clientIP) {
			m.logger.Warn("Access denied: IP not allowed",
				zap.String("client_ip", clientIP),
				zap.String("path", r.URL.Path))
			cerr.WriteError(w, errIPNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

package middleware

import (
	"fmt"
	"net/http"

	"github.com/victorgomez09/jobguard/internal/config"
)

// ServerSecurity sets the security response headers on every response.
type ServerSecurity struct {
	hsts           string
	frameOptions   string
	contentType    bool
	xssProtection  bool
	csp            string
	referrerPolicy string
}

func NewSecurityMiddleware(cfg config.Security) *ServerSecurity {
	s := &ServerSecurity{
		frameOptions:   cfg.FrameOptions,
		contentType:    cfg.ContentTypeOptions,
		xssProtection:  cfg.XSSProtection,
		csp:            cfg.ContentSecurityPolicy,
		referrerPolicy: cfg.ReferrerPolicy,
	}
	if cfg.HSTS {
		s.hsts = fmt.Sprintf("max-age=%d", cfg.HSTSMaxAge)
		if cfg.HSTSIncludeSubDomains {
			s.hsts += "; includeSubDomains"
		}
		if cfg.HSTSPreload {
			s.hsts += "; preload"
		}
	}
	return s
}

func (s *ServerSecurity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if s.hsts != "" {
			h.Set("Strict-Transport-Security", s.hsts)
		}
		if s.frameOptions != "" {
			h.Set("X-Frame-Options", s.frameOptions)
		}
		if s.contentType {
			h.Set("X-Content-Type-Options", "nosniff")
		}
		if s.xssProtection {
			h.Set("X-XSS-Protection", "1; mode=block")
		}
		if s.csp != "" {
			h.Set("Content-Security-Policy", s.csp)
		}
		if s.referrerPolicy != "" {
			h.Set("Referrer-Policy", s.referrerPolicy)
		}
		next.ServeHTTP(w, r)
	})
}

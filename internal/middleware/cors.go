package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/victorgomez09/jobguard/internal/config"
)

// CORS answers preflight requests and sets the CORS headers for allowed origins.
type CORS struct {
	allowAll         bool
	origins          map[string]struct{}
	allowedMethods   string
	allowedHeaders   string
	exposedHeaders   string
	allowCredentials bool
	maxAge           int
}

func NewCORSMiddleware(cfg config.CORS) *CORS {
	c := &CORS{
		origins:          make(map[string]struct{}, len(cfg.AllowedOrigins)),
		allowedMethods:   strings.Join(cfg.AllowedMethods, ", "),
		allowedHeaders:   strings.Join(cfg.AllowedHeaders, ", "),
		exposedHeaders:   strings.Join(cfg.ExposedHeaders, ", "),
		allowCredentials: cfg.AllowCredentials,
		maxAge:           cfg.MaxAge,
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			c.allowAll = true
			continue
		}
		c.origins[strings.ToLower(o)] = struct{}{}
	}
	if c.allowedMethods == "" {
		c.allowedMethods = "GET, POST, PUT, OPTIONS"
	}
	if c.allowedHeaders == "" {
		c.allowedHeaders = "Authorization, Content-Type, X-Request-ID"
	}
	return c
}

func (c *CORS) allowed(origin string) bool {
	if c.allowAll {
		return true
	}
	_, ok := c.origins[strings.ToLower(origin)]
	return ok
}

func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !c.allowed(origin) {
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Add("Vary", "Origin")
		// credentials are never combined with a wildcard origin
		if c.allowAll && !c.allowCredentials {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
		}
		if c.allowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if c.exposedHeaders != "" {
			h.Set("Access-Control-Expose-Headers", c.exposedHeaders)
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", c.allowedMethods)
			h.Set("Access-Control-Allow-Headers", c.allowedHeaders)
			if c.maxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(c.maxAge))
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

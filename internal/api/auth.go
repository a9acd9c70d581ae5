package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"CronCat-Agent/pkg/logger"
)

// WithToken 要求 /api/v1 下的请求携带 "Authorization: Bearer <token>"。空 token 不启用认证。
func WithToken(token string) Option {
	return func(s *Server) { s.token = strings.TrimSpace(token) }
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(s.token)) != 1 {
			status := http.StatusUnauthorized
			http.Error(w, http.StatusText(status), status)
			logger.Audit().Warn("access_denied",
				"path", r.URL.Path,
				"method", r.Method,
				"status", status,
				"remote", r.RemoteAddr,
			)
			return
		}
		next.ServeHTTP(w, r)
	})
}

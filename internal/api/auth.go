package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"PluginHost/pkg/logger"
)

// WithTokens 为启动与停止接口启用 Bearer 令牌校验，空列表表示不校验。
func (s *Server) WithTokens(tokens []string) *Server {
	s.tokens = s.tokens[:0]
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			s.tokens = append(s.tokens, []byte(t))
		}
	}
	return s
}

// requireToken 拒绝未携带有效令牌的请求，并写入审计日志。
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			next(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if ok && s.validToken(token) {
			logger.Audit().Info("plugin_command",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method),
				slog.String("remote", r.RemoteAddr),
			)
			next(w, r)
			return
		}
		status := http.StatusUnauthorized
		http.Error(w, http.StatusText(status), status)
		logger.Audit().Warn("access_denied",
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Int("status", status),
			slog.String("remote", r.RemoteAddr),
		)
	}
}

func (s *Server) validToken(token string) bool {
	candidate := []byte(strings.TrimSpace(token))
	valid := false
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare(candidate, t) == 1 {
			valid = true
		}
	}
	return valid
}

// Package auth 提供基于令牌白名单的访问控制。
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"Legend-Guardian/pkg/logger"
)

// Guard 校验请求头中的 Bearer 令牌。
type Guard struct {
	enabled bool
	tokens  []string
}

// NewGuard 创建访问控制器。enabled 为 false 时放行全部请求。
func NewGuard(enabled bool, tokens []string) *Guard {
	trimmed := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token = strings.TrimSpace(token); token != "" {
			trimmed = append(trimmed, token)
		}
	}
	return &Guard{enabled: enabled, tokens: trimmed}
}

// Allow 判断令牌是否在白名单中。逐个做恒定时间比较。
func (g *Guard) Allow(token string) bool {
	if !g.enabled {
		return true
	}
	for _, candidate := range g.tokens {
		if len(candidate) == len(token) &&
			subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return true
		}
	}
	return false
}

// Middleware 包装处理器, 未授权的请求返回 401。
func (g *Guard) Middleware(next http.Handler) http.Handler {
	if !g.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if !g.Allow(token) {
			logger.Audit().Warn("拒绝未授权请求",
				"path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Bearer realm="legend-guardian"`)
			http.Error(w, "未授权", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

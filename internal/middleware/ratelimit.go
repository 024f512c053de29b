package middleware

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/genquota/internal/ratelimit"
)

// RateLimit отклоняет запросы сверх допустимой частоты с одного IP-адреса.
// При сбое ограничителя запрос пропускается.
func RateLimit(limiter ratelimit.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientIP(r)

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Error("rate limiter failed", zap.Error(err), zap.String("ip", key))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				logger.Warn("rate limit exceeded", zap.String("ip", key), zap.String("path", r.URL.Path))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP возвращает адрес клиента без порта.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

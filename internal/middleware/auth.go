// Package middleware содержит HTTP middleware сервиса genquota.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const callerKey contextKey = "caller"

// RoleAdmin задаёт значение claim role для администратора.
const RoleAdmin = "admin"

var errMissingToken = errors.New("missing bearer token")

// Caller описывает вызывающего, извлечённого из токена. Пустой ID означает анонима.
type Caller struct {
	ID      string
	IsAdmin bool
}

// Claims содержит поля токена, выпущенного внешним сервисом авторизации.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет bearer-токены, подписанные HS256.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secretKey: []byte(secret)}
}

// Middleware помещает вызывающего в контекст запроса. Запрос без токена проходит как
// анонимный, с недействительным токеном отклоняется.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.parseRequest(r)
		if err != nil {
			if errors.Is(err, errMissingToken) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		caller := Caller{ID: claims.Subject, IsAdmin: claims.Role == RoleAdmin}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// RequireUser пропускает только запросы с идентифицированным пользователем.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if caller := CallerFromContext(r.Context()); caller.ID == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin пропускает только администраторов.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := CallerFromContext(r.Context())
		if caller.ID == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if !caller.IsAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueToken подписывает токен для пользователя userID с ролью role.
func (a *AuthMiddleware) IssueToken(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
}

func (a *AuthMiddleware) parseRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, errMissingToken
	}

	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil, errors.New("malformed authorization header")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(header[len(prefix):]), claims,
		func(t *jwt.Token) (any, error) { return a.secretKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token without subject")
	}
	return claims, nil
}

// CallerFromContext извлекает вызывающего из контекста запроса.
func CallerFromContext(ctx context.Context) Caller {
	caller, _ := ctx.Value(callerKey).(Caller)
	return caller
}

// WithCaller возвращает контекст с вызывающим caller.
func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

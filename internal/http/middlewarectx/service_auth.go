// Package middlewarectx содержит HTTP middleware: ограничение частоты запросов
// и проверку служебного JWT для внутренних эндпоинтов.
package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/trial-lifecycle/internal/http/response"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/jwt"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

// Caller — ключ для subject служебного токена в контексте.
const Caller Key = "caller"

// Verifier проверяет служебный токен для заданной области.
type Verifier interface {
	Verify(token, scope string) (*jwt.ServiceClaims, error)
}

// ServiceAuth проверяет Bearer-токен в заголовке Authorization.
// Если verifier равен nil, проверка отключена и запрос пропускается.
// Запросы OPTIONS пропускаются без проверки.
func ServiceAuth(verifier Verifier, scope string, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.ServiceAuth"

			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Error("missing or invalid authorization header")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("missing or invalid authorization header"))
				return
			}

			claims, err := verifier.Verify(strings.TrimPrefix(authHeader, "Bearer "), scope)
			if err != nil {
				log.Error("invalid service token", sl.Err(err))
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("invalid or expired token"))
				return
			}

			ctx := context.WithValue(r.Context(), Caller, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

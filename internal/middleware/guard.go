package middleware

import (
	"context"
	"net/http"

	"github.com/mmeshcher/agromart-gateway/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

// Sessions описывает доступ к сохранённой личности пользователя.
type Sessions interface {
	Current(ctx context.Context, userID int64) *model.Identity
}

// Guard выполняет ролевую проверку маршрутов по личности из хранилища сессий.
type Guard struct {
	auth     *AuthMiddleware
	sessions Sessions
}

// NewGuard создаёт ролевой гард поверх cookie-аутентификации и хранилища сессий.
func NewGuard(auth *AuthMiddleware, sessions Sessions) *Guard {
	return &Guard{auth: auth, sessions: sessions}
}

// RequireRoles возвращает middleware, пропускающее только пользователей с одной
// из перечисленных ролей. Пустой список ролей означает «любой аутентифицированный».
//
// Отказ всегда разрешается редиректом, не ошибкой: неаутентифицированный
// пользователь отправляется на страницу входа, пользователь с чужой ролью — на
// стартовую страницу своей собственной роли. Редирект по собственной роли
// исключает цикл: пользователь без валидной роли с любой защищённой страницы
// попадает на /login. Проверка синхронна и не меняет хранилище сессий.
func (g *Guard) RequireRoles(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := g.auth.UserIDFromRequest(r)
			if !ok {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}

			ident := g.sessions.Current(r.Context(), userID)
			if ident == nil || ident.Token == "" {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}

			if len(roles) > 0 && !ident.HasAnyRole(roles...) {
				http.Redirect(w, r, model.NormalizeRole(ident.Role).Home(), http.StatusFound)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentityFromContext извлекает личность пользователя из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(*model.Identity)
	return ident, ok
}

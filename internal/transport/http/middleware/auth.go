package httpmw

import (
	"context"
	"net/http"
	"strings"

	"github.com/cwrk-planet/market-chat/internal/security"
	"github.com/cwrk-planet/market-chat/pkg/httputil"
	"github.com/cwrk-planet/market-chat/pkg/logger"
)

type ctxKey string

const ctxKeyUserID ctxKey = "user_id"

const HeaderUserID = "X-User-ID"

// Auth требует Bearer токен; X-User-ID учитывается как подсказка
// (в режиме доверия к заголовкам он и есть пользователь).
func Auth(auth security.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") || len(header) <= 7 {
				httputil.Error(r.Context(), w, http.StatusUnauthorized, "missing bearer token", nil)
				return
			}

			uid, err := auth.Authenticate(header[7:], r.Header.Get(HeaderUserID))
			if err != nil {
				httputil.L(r.Context()).Warn("auth rejected", "err", err)
				httputil.Error(r.Context(), w, http.StatusUnauthorized, "invalid credentials", nil)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUserID, uid)
			ctx = logger.WithContext(ctx, httputil.L(ctx).With("user_id", uid))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func UserIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyUserID).(string); ok {
		return v
	}
	return ""
}

// WithUserID is used by tests and by callers that authenticate elsewhere.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

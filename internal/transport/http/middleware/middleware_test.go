package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cwrk-planet/market-chat/internal/security"

	"github.com/stretchr/testify/require"
)

func TestAuth_HeaderTrust(t *testing.T) {
	req := require.New(t)

	var seen string
	h := Auth(security.HeaderTrust{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromCtx(r.Context())
	}))

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/chats", nil)
	r.Header.Set("Authorization", "Bearer tok")
	r.Header.Set(HeaderUserID, "U1")
	h.ServeHTTP(rec, r)
	req.Equal(http.StatusOK, rec.Code)
	req.Equal("U1", seen)

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/chats", nil)
	r.Header.Set(HeaderUserID, "U1")
	h.ServeHTTP(rec, r)
	req.Equal(http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/chats", nil)
	r.Header.Set("Authorization", "Bearer tok")
	h.ServeHTTP(rec, r)
	req.Equal(http.StatusUnauthorized, rec.Code)
}

func TestRateLimiter_Waits_Then_Gives_Up_On_Cancel(t *testing.T) {
	req := require.New(t)
	l := NewRateLimiter(1, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	call := func(ctx context.Context) int {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(WithUserID(ctx, "U1"))
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	req.Equal(http.StatusOK, call(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req.Equal(http.StatusTooManyRequests, call(ctx))

	// другой пользователь: своё ведро
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(WithUserID(context.Background(), "U2")))
	req.Equal(http.StatusOK, rec.Code)
}

package httpmw

import (
	"net/http"
	"sync"
	"time"

	"github.com/cwrk-planet/market-chat/pkg/httputil"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type userLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per authenticated user.
type RateLimiter struct {
	rps   rate.Limit
	burst int

	mu        sync.Mutex
	users     map[string]*userLimiter
	lastSweep time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		users:     make(map[string]*userLimiter),
		lastSweep: time.Now(),
	}
}

func (l *RateLimiter) get(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for id, u := range l.users {
			if now.Sub(u.lastSeen) > limiterIdleTTL {
				delete(l.users, id)
			}
		}
		l.lastSweep = now
	}

	u, ok := l.users[userID]
	if !ok {
		u = &userLimiter{lim: rate.NewLimiter(l.rps, l.burst)}
		l.users[userID] = u
	}
	u.lastSeen = now
	return u.lim
}

// Middleware ждёт токен; 429 только если запрос отменён раньше.
// Должен стоять после Auth.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := UserIDFromCtx(r.Context())
		if uid == "" {
			next.ServeHTTP(w, r)
			return
		}
		if err := l.get(uid).Wait(r.Context()); err != nil {
			httputil.Error(r.Context(), w, http.StatusTooManyRequests, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

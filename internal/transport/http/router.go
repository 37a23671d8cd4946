package http

import (
	"context"
	"net/http"
	"time"

	"github.com/cwrk-planet/market-chat/internal/security"
	httpmw "github.com/cwrk-planet/market-chat/internal/transport/http/middleware"
	"github.com/cwrk-planet/market-chat/internal/transport/ws"
	"github.com/cwrk-planet/market-chat/pkg/httputil"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterConfig struct {
	Auth           security.Authenticator
	Limiter        *httpmw.RateLimiter
	Metrics        http.Handler
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Ready is polled by /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

func NewRouter(h *Handler, wsServer *ws.Server, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(httputil.MiddlewareRequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(httputil.WithRequestLoggerCtx)
	r.Use(httputil.RequestLogger)
	r.Use(middlewareChi.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", httputil.HeaderRequestID, httpmw.HeaderUserID},
		ExposedHeaders:   []string{httputil.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WS: авторизация внутри, без Timeout
	r.Get("/ws", wsServer.HandleWS)

	r.Group(func(pr chi.Router) {
		pr.Use(httpmw.Auth(cfg.Auth))
		pr.Use(middlewareChi.Timeout(cfg.RequestTimeout))
		if cfg.Limiter != nil {
			pr.Use(cfg.Limiter.Middleware)
		}

		pr.Route("/chats", func(rc chi.Router) {
			rc.Post("/", h.CreateChat)
			rc.Get("/", h.ListChats)

			rc.Route("/{id}", func(rr chi.Router) {
				rr.Get("/", h.GetChat)
				rr.Get("/messages", h.History)
				rr.Post("/messages", h.SendMessage)
				rr.Post("/read", h.MarkRead)
			})
		})

		pr.Get("/notifications/unread", h.Unread)

		pr.Route("/blocks", func(rb chi.Router) {
			rb.Post("/", h.Block)
			rb.Get("/", h.ListBlocks)
			rb.Delete("/{userId}", h.Unblock)
		})
	})

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	// health
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				httputil.L(r.Context()).Warn("not ready", "err", err)
				httputil.Error(r.Context(), w, http.StatusServiceUnavailable, "not ready", nil)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	return r
}

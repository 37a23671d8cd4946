package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cwrk-planet/market-chat/internal/security"
	"github.com/cwrk-planet/market-chat/internal/service"
	"github.com/cwrk-planet/market-chat/internal/session"
	"github.com/cwrk-planet/market-chat/pkg/logger"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type ChatSender interface {
	SendMessage(ctx context.Context, cmd service.SendCommand) (service.Delivery, error)
}

type Config struct {
	PingEvery      time.Duration
	SendBuffer     int
	ReadLimit      int64
	SendRate       float64 // сообщений в секунду на соединение
	SendBurst      int
	AllowAnonymous bool
	AllowedOrigins []string // пусто: любой origin
}

func (c *Config) withDefaults() {
	if c.PingEvery <= 0 {
		c.PingEvery = 15 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 16
	}
	if c.SendRate <= 0 {
		c.SendRate = 5
	}
	if c.SendBurst <= 0 {
		c.SendBurst = 10
	}
}

type Server struct {
	upgrader websocket.Upgrader
	sessions *session.Manager
	chats    ChatSender
	auth     security.Authenticator
	cfg      Config
	table    map[string]handlerFunc
}

func NewServer(sessions *session.Manager, chats ChatSender, auth security.Authenticator, cfg Config) *Server {
	cfg.withDefaults()
	s := &Server{
		sessions: sessions,
		chats:    chats,
		auth:     auth,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
	s.table = s.handlers()
	return s
}

// WS endpoint: GET /ws?access_token=...&user_id=...
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := strings.TrimSpace(q.Get("access_token"))
	userHint := strings.TrimSpace(q.Get("user_id"))

	var userID string
	if token != "" || !s.cfg.AllowAnonymous {
		uid, err := s.auth.Authenticate(token, userHint)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		userID = uid
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	c := newWsConn(conn, userID, s.cfg.SendBuffer)
	sess := s.sessions.Connect(c)
	defer s.sessions.Disconnect(sess.ID())

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	ctx = logger.WithContext(ctx, logger.FromContext(r.Context()).With(
		slog.String("session_id", sess.ID()),
		slog.String("user_id", userID),
	))

	go c.writeLoop(s.cfg.PingEvery)

	_ = c.Send(Message{Type: TypeSession, Payload: SessionPayload{SessionID: sess.ID(), UserID: userID}})

	limiter := rate.NewLimiter(rate.Limit(s.cfg.SendRate), s.cfg.SendBurst)
	s.readLoop(ctx, &client{sessionID: sess.ID(), conn: c, wait: limiter.Wait})

	_ = c.Close()
}

func (s *Server) readLoop(ctx context.Context, c *client) {
	sock := c.conn.conn
	sock.SetReadLimit(s.cfg.ReadLimit)
	_ = sock.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
	})

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.FromContext(ctx).Debug("ws read failed", "err", err)
			}
			return
		}
		_ = sock.SetReadDeadline(time.Now().Add(2 * s.cfg.PingEvery))
		s.dispatch(ctx, c, data)
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

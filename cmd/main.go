package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwrk-planet/market-chat/config"
	"github.com/cwrk-planet/market-chat/internal/bus"
	"github.com/cwrk-planet/market-chat/internal/memory"
	"github.com/cwrk-planet/market-chat/internal/metrics"
	"github.com/cwrk-planet/market-chat/internal/mongo"
	"github.com/cwrk-planet/market-chat/internal/postgres"
	"github.com/cwrk-planet/market-chat/internal/redis"
	"github.com/cwrk-planet/market-chat/internal/security"
	"github.com/cwrk-planet/market-chat/internal/service"
	"github.com/cwrk-planet/market-chat/internal/session"
	grpcx "github.com/cwrk-planet/market-chat/internal/transport/grpc"
	httpx "github.com/cwrk-planet/market-chat/internal/transport/http"
	httpmw "github.com/cwrk-planet/market-chat/internal/transport/http/middleware"
	"github.com/cwrk-planet/market-chat/internal/transport/ws"
	"github.com/cwrk-planet/market-chat/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// storage: выбранный бэкенд плюс его проверка готовности и закрытие.
type storage struct {
	chats  service.ChatRepository
	blocks service.BlockRepository
	ready  func(ctx context.Context) error
	close  func()
}

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     logger.ParseLevel(cfg.Logging.Level),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting market-chat",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "storage", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("market-chat stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- storage ---
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// --- unread counters ---
	var counter service.UnreadCounter = memory.NewUnreadCounter()
	if cfg.Redis.Enabled() {
		rdb, err := redis.NewClient(ctx, cfg.Redis.ToRedisConfig())
		if err != nil {
			return err
		}
		defer rdb.Close()
		counter = redis.NewUnreadCounter(rdb)
	}

	// --- metrics, bus, sessions ---
	m := metrics.New()
	b := bus.New(bus.WithPublishHook(m.Published))
	sessions := session.NewManager(b, session.WithActiveHook(m.SessionsActive))

	// --- services ---
	chatSvc := service.NewChatService(st.chats, st.blocks, counter, b, cfg.Chat.ToChatConfig(), service.WithObserver(m))
	blockSvc := service.NewBlockService(st.blocks)

	// --- auth ---
	auth, err := newAuthenticator(cfg.Auth)
	if err != nil {
		return err
	}

	// --- HTTP + WS ---
	wsServer := ws.NewServer(sessions, chatSvc, auth, cfg.WS.ToWSConfig(cfg.CORS.AllowedOrigins))
	router := httpx.NewRouter(httpx.NewHandler(chatSvc, blockSvc), wsServer, httpx.RouterConfig{
		Auth:           auth,
		Limiter:        httpmw.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst),
		Metrics:        m.Handler(),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Ready:          st.ready,
	})
	httpSrv := httpx.NewServer(httpx.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		IdleTimeout:     cfg.HTTP.IdleTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, router)
	httpSrv.OnShutdown(sessions.CloseAll)

	// --- gRPC ---
	var grpcLis net.Listener
	if cfg.GRPC.Addr != "" {
		if grpcLis, err = net.Listen("tcp", cfg.GRPC.Addr); err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	// --- run both servers ---
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(gctx) })
	if grpcLis != nil {
		gs := grpcx.NewGRPCServer(grpcx.NewServer(chatSvc, auth))
		g.Go(func() error { return grpcx.Serve(gctx, gs, grpcLis) })
	}

	return g.Wait()
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(cfg.Postgres.DSN); err != nil {
				return nil, err
			}
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres.ToPGConfig())
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return &storage{
			chats:  postgres.NewChatRepository(pool),
			blocks: postgres.NewBlockRepository(pool),
			ready:  func(ctx context.Context) error { return postgres.Ping(ctx, pool) },
			close:  pool.Close,
		}, nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, cfg.Mongo.ToMongoConfig())
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.Mongo.Database)
		if err := mongo.EnsureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(context.WithoutCancel(ctx))
			return nil, err
		}
		return &storage{
			chats:  mongo.NewChatRepository(db),
			blocks: mongo.NewBlockRepository(db),
			ready:  func(ctx context.Context) error { return client.Ping(ctx, nil) },
			close:  func() { _ = client.Disconnect(context.Background()) },
		}, nil

	default:
		slog.Warn("memory storage: data is lost on restart")
		return &storage{
			chats:  memory.NewChatRepository(),
			blocks: memory.NewBlockRepository(),
			close:  func() {},
		}, nil
	}
}

func newAuthenticator(cfg config.Auth) (security.Authenticator, error) {
	if cfg.PublicKeyPath == "" {
		slog.Warn("auth: trusting X-User-ID header, no token verification")
		return security.HeaderTrust{}, nil
	}
	pub, err := security.LoadRSAPublicKeyFromPEM(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load jwt public key: %w", err)
	}
	return security.NewVerifier(pub, cfg.Issuer, cfg.Audience, cfg.ClockSkew), nil
}

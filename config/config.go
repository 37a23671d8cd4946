package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cwrk-planet/market-chat/internal/mongo"
	"github.com/cwrk-planet/market-chat/internal/postgres"
	"github.com/cwrk-planet/market-chat/internal/redis"
	"github.com/cwrk-planet/market-chat/internal/service"
	"github.com/cwrk-planet/market-chat/internal/transport/ws"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RateLimit       float64       `yaml:"rateLimit"` // запросов в секунду на пользователя
	RateBurst       int           `yaml:"rateBurst"`
}

type GRPC struct {
	Addr string `yaml:"addr"` // пусто: gRPC выключен
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // market-chat
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Storage struct {
	Driver string `yaml:"driver"` // postgres|mongo|memory
}

type Postgres struct {
	DSN               string        `yaml:"dsn"`
	Migrate           bool          `yaml:"migrate"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	ApplicationName   string        `yaml:"applicationName"`
	SlowQuery         time.Duration `yaml:"slowQuery"`
}

func (p Postgres) Validate() error {
	if p.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	return nil
}

func (p Postgres) ToPGConfig() postgres.Config {
	return postgres.Config{
		DSN:               p.DSN,
		MaxConns:          p.MaxConns,
		MinConns:          p.MinConns,
		MaxConnLifetime:   p.MaxConnLifetime,
		MaxConnIdleTime:   p.MaxConnIdleTime,
		HealthCheckPeriod: p.HealthCheckPeriod,
		ApplicationName:   p.ApplicationName,
		SlowQuery:         p.SlowQuery,
	}
}

type Mongo struct {
	URI            string        `yaml:"uri"`
	Database       string        `yaml:"database"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
	MaxPoolSize    uint64        `yaml:"maxPoolSize"`
}

func (m Mongo) Validate() error {
	if m.URI == "" {
		return errors.New("mongo.uri is required")
	}
	if m.Database == "" {
		return errors.New("mongo.database is required")
	}
	return nil
}

func (m Mongo) ToMongoConfig() mongo.Config {
	return mongo.Config{
		URI:            m.URI,
		Database:       m.Database,
		ConnectTimeout: m.ConnectTimeout,
		MaxPoolSize:    m.MaxPoolSize,
	}
}

// Redis is optional: without url unread counters live in memory.
type Redis struct {
	URL          string        `yaml:"url"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	PoolSize     int           `yaml:"poolSize"`
}

func (r Redis) Enabled() bool { return r.URL != "" }

func (r Redis) ToRedisConfig() redis.Config {
	return redis.Config{
		URL:          r.URL,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
		PoolSize:     r.PoolSize,
	}
}

type Chat struct {
	PersistTimeout   time.Duration `yaml:"persistTimeout"`
	MaxContentLength int           `yaml:"maxContentLength"`
	HistoryPageSize  int           `yaml:"historyPageSize"`
	MaxHistoryPage   int           `yaml:"maxHistoryPage"`
}

func (c Chat) ToChatConfig() service.ChatConfig {
	return service.ChatConfig{
		PersistTimeout:   c.PersistTimeout,
		MaxContentLength: c.MaxContentLength,
		HistoryPageSize:  c.HistoryPageSize,
		MaxHistoryPage:   c.MaxHistoryPage,
	}
}

type WS struct {
	PingEvery      time.Duration `yaml:"pingEvery"`
	SendBuffer     int           `yaml:"sendBuffer"`
	ReadLimit      int64         `yaml:"readLimit"`
	SendRate       float64       `yaml:"sendRate"`
	SendBurst      int           `yaml:"sendBurst"`
	AllowAnonymous bool          `yaml:"allowAnonymous"`
}

type Auth struct {
	PublicKeyPath string        `yaml:"publicKeyPath"` // пусто: режим доверия к X-User-ID
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	ClockSkew     time.Duration `yaml:"clockSkew"` // напр. 30s
}

func (a Auth) Validate() error {
	if a.PublicKeyPath == "" {
		return nil
	}
	if a.Issuer == "" {
		return errors.New("auth.issuer is required with publicKeyPath")
	}
	if a.ClockSkew < 0 || a.ClockSkew > time.Minute {
		return errors.New("auth.clockSkew must be in [0..1m]")
	}
	return nil
}

type CORS struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

type Config struct {
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Logging  Logging  `yaml:"logging"`
	Storage  Storage  `yaml:"storage"`
	Postgres Postgres `yaml:"postgres"`
	Mongo    Mongo    `yaml:"mongo"`
	Redis    Redis    `yaml:"redis"`
	Chat     Chat     `yaml:"chat"`
	WS       WS       `yaml:"ws"`
	Auth     Auth     `yaml:"auth"`
	CORS     CORS     `yaml:"cors"`
}

func (w WS) ToWSConfig(origins []string) ws.Config {
	return ws.Config{
		PingEvery:      w.PingEvery,
		SendBuffer:     w.SendBuffer,
		ReadLimit:      w.ReadLimit,
		SendRate:       w.SendRate,
		SendBurst:      w.SendBurst,
		AllowAnonymous: w.AllowAnonymous,
		AllowedOrigins: origins,
	}
}

// LoadConfig: .env (если есть) → YAML из CONFIG_PATH → ${VAR} → дефолты и проверка.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "./config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("http.addr is required")
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = DriverMemory
	case DriverPostgres:
		if err := c.Postgres.Validate(); err != nil {
			return err
		}
	case DriverMongo:
		if err := c.Mongo.Validate(); err != nil {
			return err
		}
	case DriverMemory:
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}

	if err := c.Auth.Validate(); err != nil {
		return err
	}

	// установка дефолтов, если значения не указаны
	if c.Logging.Service == "" {
		c.Logging.Service = "market-chat"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}
	if c.HTTP.IdleTimeout <= 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.HTTP.RateLimit <= 0 {
		c.HTTP.RateLimit = 20
	}
	if c.HTTP.RateBurst <= 0 {
		c.HTTP.RateBurst = 40
	}
	if c.WS.PingEvery <= 0 {
		c.WS.PingEvery = 15 * time.Second
	}
	if c.WS.SendBuffer <= 0 {
		c.WS.SendBuffer = 64
	}
	if c.WS.SendRate <= 0 {
		c.WS.SendRate = 5
	}
	if c.WS.SendBurst <= 0 {
		c.WS.SendBurst = 10
	}
	if c.Chat.PersistTimeout <= 0 {
		c.Chat.PersistTimeout = 5 * time.Second
	}
	if c.Auth.ClockSkew == 0 {
		c.Auth.ClockSkew = 30 * time.Second
	}
	return nil
}

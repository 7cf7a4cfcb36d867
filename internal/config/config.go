package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olyamironova/paper-engine/internal/core"
	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the top-level configuration of the paper trading server.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Cache   Cache   `yaml:"cache"`
	Logging Logging `yaml:"logging"`
	Engine  Engine  `yaml:"engine"`
	Risk    Risk    `yaml:"risk"`
}

type Server struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	RateLimit       float64       `yaml:"rate_limit_per_sec"`
	RateBurst       int           `yaml:"rate_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Storage struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"database_url"`
	BarsDir     string `yaml:"bars_dir"`
}

// Cache configures the Redis account snapshot cache. An empty address
// selects the in-process cache.
type Cache struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	TTL           time.Duration `yaml:"ttl"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Engine holds the execution parameters shared by every account.
type Engine struct {
	InitialCash        float64 `yaml:"initial_cash"`
	TickSize           float64 `yaml:"tick_size"`
	SlippageK          float64 `yaml:"slippage_k"`
	ParticipationRate  float64 `yaml:"participation_rate"`
	CommissionPerShare float64 `yaml:"commission_per_share"`
}

type Risk struct {
	MaxLeverage        float64 `yaml:"max_leverage"`
	MaxPositionSizePct float64 `yaml:"max_position_size_pct"`
	MaxOrderNotional   float64 `yaml:"max_order_notional"`
	MaxSymbols         int     `yaml:"max_symbols"`
	MaxDailyLossPct    float64 `yaml:"max_daily_loss_pct"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: Server{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":9090",
			RateLimit:       50,
			RateBurst:       100,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: Storage{Driver: DriverMemory, SQLitePath: "paper.db", BarsDir: "data/bars"},
		Cache:   Cache{TTL: 5 * time.Minute},
		Logging: Logging{Level: "info", Format: "json"},
		Engine: Engine{
			InitialCash:        100000,
			TickSize:           0.01,
			SlippageK:          0.01,
			ParticipationRate:  0.10,
			CommissionPerShare: 0.001,
		},
		Risk: Risk{
			MaxLeverage:        2.0,
			MaxPositionSizePct: 0.10,
			MaxOrderNotional:   50000,
			MaxSymbols:         20,
			MaxDailyLossPct:    0.05,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAPER_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("PAPER_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}

	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("PAPER_BARS_DIR"); v != "" {
		cfg.Storage.BarsDir = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Cache.RedisPassword = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func (c *Config) Validate() error {
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("%w: storage.sqlite_path is required for the sqlite driver", domain.ErrInvalidConfig)
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("%w: storage.database_url is required for the postgres driver", domain.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage driver %q", domain.ErrInvalidConfig, c.Storage.Driver)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("%w: rate limit must be >= 0", domain.ErrInvalidConfig)
	}
	return c.EngineConfig().Validate()
}

// EngineConfig converts the engine and risk sections for the default account.
func (c *Config) EngineConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.InitialCash = decimal.NewFromFloat(c.Engine.InitialCash)
	cfg.TickSize = decimal.NewFromFloat(c.Engine.TickSize)
	cfg.SlippageK = decimal.NewFromFloat(c.Engine.SlippageK)
	cfg.ParticipationRate = decimal.NewFromFloat(c.Engine.ParticipationRate)
	cfg.CommissionPerShare = decimal.NewFromFloat(c.Engine.CommissionPerShare)
	cfg.Limits = domain.RiskLimits{
		MaxLeverage:        decimal.NewFromFloat(c.Risk.MaxLeverage),
		MaxPositionSizePct: decimal.NewFromFloat(c.Risk.MaxPositionSizePct),
		MaxOrderNotional:   decimal.NewFromFloat(c.Risk.MaxOrderNotional),
		MaxSymbols:         c.Risk.MaxSymbols,
		MaxDailyLossPct:    decimal.NewFromFloat(c.Risk.MaxDailyLossPct),
	}
	return cfg
}

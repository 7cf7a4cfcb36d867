package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/olyamironova/paper-engine/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"PAPER_HTTP_ADDR", "PAPER_GRPC_ADDR", "STORAGE_DRIVER", "SQLITE_PATH",
		"DATABASE_URL", "PAPER_BARS_DIR", "REDIS_ADDR", "REDIS_PASSWORD", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)

	ec := cfg.EngineConfig()
	assert.True(t, ec.InitialCash.Equal(decimal.NewFromInt(100000)))
	assert.True(t, ec.TickSize.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, ec.Limits.MaxOrderNotional.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, 20, ec.Limits.MaxSymbols)
	assert.Equal(t, "paper_default", ec.AccountID)
}

func TestLoadFileOverDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
server:
  http_addr: ":18080"
  shutdown_timeout: 3s
storage:
  driver: SQLite
  sqlite_path: /tmp/paper.db
engine:
  initial_cash: 25000
risk:
  max_symbols: 5
  max_leverage: 1.5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":18080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":9090", cfg.Server.GRPCAddr)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)

	ec := cfg.EngineConfig()
	assert.True(t, ec.InitialCash.Equal(decimal.NewFromInt(25000)))
	assert.True(t, ec.Limits.MaxLeverage.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, 5, ec.Limits.MaxSymbols)
	assert.True(t, ec.Limits.MaxDailyLossPct.Equal(decimal.RequireFromString("0.05")))
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PAPER_GRPC_ADDR", ":19090")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://paper@localhost/paper")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":19090", cfg.Server.GRPCAddr)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://paper@localhost/paper", cfg.Storage.DatabaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORAGE_DRIVER", "postgres")
	_, err := Load("")
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	path := writeFile(t, "risk:\n  max_position_size_pct: 1.5\n")
	t.Setenv("STORAGE_DRIVER", "memory")
	_, err = Load(path)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	path = writeFile(t, "storage:\n  driver: mongo\n")
	_, err = Load(path)
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

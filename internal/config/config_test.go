package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

const sample = `
mode = "trade"
log_level = "debug"
symbols = ["BTC-USD", "ETH-USD"]

[engine]
execution = "external"
detectors = ["arbitrage"]
gather_timeout = "100ms"

[risk]
trading_mode = "close_only"
max_position_size = 3
max_open_positions = 2

[[venues]]
name = "alpha"
latency = "4ms"

[[venues]]
name = "beta"
latency = "9ms"

[arbitrage]
cooldown = "1s"

[redis]
password = "hunter2"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tradecore.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "external", cfg.Engine.Execution)
	assert.Equal(t, []string{"arbitrage"}, cfg.Engine.Detectors)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.GatherTimeout.Duration)
	assert.Equal(t, 10, cfg.Engine.BookDepth, "untouched fields keep defaults")
	assert.Equal(t, time.Second, cfg.Arbitrage.Cooldown.Duration)
	assert.Equal(t, 2*time.Second, cfg.Arbitrage.Staleness.Duration)

	assert.Equal(t, domain.ModeCloseOnly, cfg.TradingMode())
	assert.Equal(t, domain.RiskLimits{
		MaxPositionSize:  3,
		MaxOrderValue:    50_000,
		MaxDailyLoss:     1_000,
		MaxOpenPositions: 2,
	}, cfg.Limits())

	assert.Equal(t, map[string]time.Duration{"alpha": 4 * time.Millisecond, "beta": 9 * time.Millisecond}, cfg.VenueLatency())
	assert.Len(t, cfg.MarketKeys(), 4)
	assert.Contains(t, cfg.MarketKeys(), domain.MarketKey{Venue: "beta", Symbol: "ETH-USD"})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRADECORE_SYMBOLS", " SOL-USD , ,ADA-USD")
	t.Setenv("TRADECORE_RISK_MAX_DAILY_LOSS", "250")
	t.Setenv("TRADECORE_REDIS_ADDR", "redis:6380")
	t.Setenv("TRADECORE_ENGINE_GATHER_TIMEOUT", "1s")
	t.Setenv("TRADECORE_RISK_MAX_OPEN_POSITIONS", "not-a-number")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, []string{"SOL-USD", "ADA-USD"}, cfg.Symbols)
	assert.Equal(t, 250.0, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, time.Second, cfg.Engine.GatherTimeout.Duration)
	assert.Equal(t, 2, cfg.Risk.MaxOpenPositions, "unparsable values are ignored")
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `[engine]
gather_timeout = "soon"`))
	require.Error(t, err)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Engine.Execution = "live"
	cfg.Engine.Detectors = []string{"breakout", "momentum"}
	cfg.Risk.TradingMode = "turbo"
	cfg.Ledger.FeeRate = 1.5
	cfg.Venues = []VenueConfig{{Name: "alpha"}, {Name: "alpha"}}
	cfg.Feed.Source = "websocket"
	cfg.Notify.TelegramToken = "tok"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "backtest"`,
		`unknown execution "live"`,
		`unknown detector "momentum"`,
		"risk: invalid trading mode",
		"fee_rate",
		`duplicate venue "alpha"`,
		"symbols: at least one symbol",
		"url is required",
		"telegram_chat_id",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateArbitrageNeedsTwoVenues(t *testing.T) {
	cfg := Defaults()
	cfg.Venues = []VenueConfig{{Name: "alpha"}}
	cfg.Symbols = []string{"BTC-USD"}
	require.ErrorContains(t, cfg.Validate(), "arbitrage: needs at least two venues")

	cfg.Engine.Detectors = []string{"breakout"}
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	cfg.S3.SecretKey = "s3cret"

	red := RedactedConfig(cfg)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Empty(t, red.Notify.TelegramToken, "empty secrets stay empty")
	assert.Equal(t, "hunter2", cfg.Redis.Password)

	red.Symbols[0] = "X"
	assert.Equal(t, "BTC-USD", cfg.Symbols[0])
}

func TestValidateServer(t *testing.T) {
	cfg := Defaults()
	cfg.Venues = []VenueConfig{{Name: "alpha"}, {Name: "beta"}}
	cfg.Symbols = []string{"BTC-USD"}
	cfg.Server.Enabled = true
	require.NoError(t, cfg.Validate())

	cfg.Server.Addr = cfg.Metrics.Addr
	require.ErrorContains(t, cfg.Validate(), "server: addr must differ")

	cfg.Server.Addr = ":8080"
	cfg.Server.APIKey = "k"
	assert.Equal(t, "***", RedactedConfig(&cfg).Server.APIKey)
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, loads a .env file when
// present and applies TRADECORE_* environment overrides. An empty path
// skips the file. The result is not validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and per-deploy settings
// without touching the TOML file. Unset or empty variables change nothing.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Instance, "TRADECORE_ENGINE_INSTANCE")
	setStr(&cfg.Engine.Execution, "TRADECORE_ENGINE_EXECUTION")
	setStringSlice(&cfg.Engine.Detectors, "TRADECORE_ENGINE_DETECTORS")
	setDuration(&cfg.Engine.GatherTimeout, "TRADECORE_ENGINE_GATHER_TIMEOUT")

	// ── Risk ──
	setStr(&cfg.Risk.TradingMode, "TRADECORE_RISK_TRADING_MODE")
	setFloat64(&cfg.Risk.MaxPositionSize, "TRADECORE_RISK_MAX_POSITION_SIZE")
	setFloat64(&cfg.Risk.MaxOrderValue, "TRADECORE_RISK_MAX_ORDER_VALUE")
	setFloat64(&cfg.Risk.MaxDailyLoss, "TRADECORE_RISK_MAX_DAILY_LOSS")
	setInt(&cfg.Risk.MaxOpenPositions, "TRADECORE_RISK_MAX_OPEN_POSITIONS")

	// ── Ledger ──
	setFloat64(&cfg.Ledger.InitialCash, "TRADECORE_LEDGER_INITIAL_CASH")
	setFloat64(&cfg.Ledger.FeeRate, "TRADECORE_LEDGER_FEE_RATE")

	setStringSlice(&cfg.Symbols, "TRADECORE_SYMBOLS")

	// ── Feed ──
	setStr(&cfg.Feed.Source, "TRADECORE_FEED_SOURCE")
	setStr(&cfg.Feed.Stream, "TRADECORE_FEED_STREAM")
	setStr(&cfg.Feed.URL, "TRADECORE_FEED_URL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TRADECORE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADECORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADECORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADECORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADECORE_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "TRADECORE_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TRADECORE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TRADECORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADECORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADECORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADECORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADECORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADECORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADECORE_POSTGRES_SSL_MODE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRADECORE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRADECORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADECORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADECORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADECORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADECORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADECORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADECORE_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADECORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADECORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADECORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADECORE_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "TRADECORE_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "TRADECORE_METRICS_ADDR")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADECORE_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "TRADECORE_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "TRADECORE_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADECORE_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADECORE_MODE")
	setStr(&cfg.LogLevel, "TRADECORE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

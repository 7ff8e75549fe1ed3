// Package config defines the engine configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by TRADECORE_* environment variables.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Risk      RiskConfig      `toml:"risk"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Venues    []VenueConfig   `toml:"venues"`
	Symbols   []string        `toml:"symbols"`
	Breakout  BreakoutConfig  `toml:"breakout"`
	Arbitrage ArbitrageConfig `toml:"arbitrage"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Feed      FeedConfig      `toml:"feed"`
	Journal   JournalConfig   `toml:"journal"`
	Control   ControlConfig   `toml:"control"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// EngineConfig selects how the engine runs.
type EngineConfig struct {
	// Instance names this engine for the single-instance lock.
	Instance string `toml:"instance"`
	// Execution is "paper" (simulated fills) or "external" (Redis streams).
	Execution string   `toml:"execution"`
	Detectors []string `toml:"detectors"`
	// GatherTimeout bounds how long a multi-venue detector waits for
	// sibling venues.
	GatherTimeout   duration `toml:"gather_timeout"`
	BookDepth       int      `toml:"book_depth"`
	CollectorBuffer int      `toml:"collector_buffer"`
	LockTTL         duration `toml:"lock_ttl"`
}

// RiskConfig holds the initial trading mode and limits. A limit <= 0 is
// disabled.
type RiskConfig struct {
	TradingMode      string  `toml:"trading_mode"`
	MaxPositionSize  float64 `toml:"max_position_size"`
	MaxOrderValue    float64 `toml:"max_order_value"`
	MaxDailyLoss     float64 `toml:"max_daily_loss"`
	MaxOpenPositions int     `toml:"max_open_positions"`
}

// LedgerConfig seeds the portfolio.
type LedgerConfig struct {
	InitialCash float64 `toml:"initial_cash"`
	// FeeRate is the fraction of notional charged per fill, used by the
	// risk gate's loss projection and the paper placer.
	FeeRate float64 `toml:"fee_rate"`
}

// VenueConfig declares one venue and its static latency.
type VenueConfig struct {
	Name    string   `toml:"name"`
	Latency duration `toml:"latency"`
}

// BreakoutConfig tunes the breakout detector.
type BreakoutConfig struct {
	Lookback         int     `toml:"lookback"`
	VolumeMultiplier float64 `toml:"volume_multiplier"`
	Retest           int     `toml:"retest"`
	Size             float64 `toml:"size"`
}

// ArbitrageConfig tunes the cross-venue arbitrage detector.
type ArbitrageConfig struct {
	Staleness        duration `toml:"staleness"`
	MinProfitPercent float64  `toml:"min_profit_percent"`
	Size             float64  `toml:"size"`
	Cooldown         duration `toml:"cooldown"`
}

// DispatchConfig tunes order submission.
type DispatchConfig struct {
	OrdersPerSecond float64  `toml:"orders_per_second"`
	Burst           int      `toml:"burst"`
	LegTimeout      duration `toml:"leg_timeout"`
	DedupTTL        duration `toml:"dedup_ttl"`
	// Paper execution.
	SlippageBps  float64  `toml:"slippage_bps"`
	PaperLatency duration `toml:"paper_latency"`
	// External execution.
	OrdersStream string `toml:"orders_stream"`
	FillsStream  string `toml:"fills_stream"`
}

// FeedConfig selects where normalized ticks come from.
type FeedConfig struct {
	// Source is "redis" or "websocket".
	Source  string `toml:"source"`
	Stream  string `toml:"stream"`
	StartID string `toml:"start_id"`
	URL     string `toml:"url"`
	// Subscribe is sent after every websocket (re)connect when set.
	Subscribe string `toml:"subscribe"`
}

// JournalConfig tunes the journal recorder and its sinks.
type JournalConfig struct {
	Buffer        int      `toml:"buffer"`
	BatchSize     int      `toml:"batch_size"`
	FlushInterval duration `toml:"flush_interval"`
	Log           bool     `toml:"log"`
	// Stream is the Redis stream journal events are appended to; empty
	// disables the stream sink.
	Stream string `toml:"stream"`
}

// ControlConfig names the operator command channel.
type ControlConfig struct {
	Enabled bool   `toml:"enabled"`
	Channel string `toml:"channel"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	StreamMax  int64  `toml:"stream_max_len"`
	// PriceTTL expires mirrored mid prices; zero keeps them.
	PriceTTL duration `toml:"price_ttl"`
}

// PostgresConfig holds journal store connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds journal archive parameters.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	Prefix          string   `toml:"prefix"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// NotifyConfig holds notification channel credentials. Events lists the
// journal kinds forwarded; empty uses the notifier's defaults.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// ServerConfig controls the operator HTTP API.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	// APIKey guards every route except health; empty disables auth.
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RequestsPerSecond is the per-client rate limit; zero disables it.
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// duration is a time.Duration that decodes from TOML strings like "5m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			Instance:        "default",
			Execution:       "paper",
			Detectors:       []string{"breakout", "arbitrage"},
			GatherTimeout:   duration{250 * time.Millisecond},
			BookDepth:       10,
			CollectorBuffer: 1024,
			LockTTL:         duration{24 * time.Hour},
		},
		Risk: RiskConfig{
			TradingMode:      "active",
			MaxPositionSize:  10,
			MaxOrderValue:    50_000,
			MaxDailyLoss:     1_000,
			MaxOpenPositions: 5,
		},
		Ledger: LedgerConfig{
			InitialCash: 100_000,
			FeeRate:     0.0004,
		},
		Breakout: BreakoutConfig{
			Lookback:         20,
			VolumeMultiplier: 1.5,
			Retest:           1,
			Size:             1,
		},
		Arbitrage: ArbitrageConfig{
			Staleness:        duration{2 * time.Second},
			MinProfitPercent: 0.05,
			Size:             1,
			Cooldown:         duration{5 * time.Second},
		},
		Dispatch: DispatchConfig{
			OrdersPerSecond: 10,
			Burst:           2,
			LegTimeout:      duration{10 * time.Second},
			DedupTTL:        duration{10 * time.Minute},
			SlippageBps:     2,
			OrdersStream:    "orders:outbound",
			FillsStream:     "fills:inbound",
		},
		Feed: FeedConfig{
			Source:  "redis",
			Stream:  "ticks",
			StartID: "$",
		},
		Journal: JournalConfig{
			Buffer:        4096,
			BatchSize:     100,
			FlushInterval: duration{time.Second},
			Log:           true,
			Stream:        "journal",
		},
		Control: ControlConfig{
			Enabled: true,
			Channel: "tradecore:control",
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			StreamMax:  10_000,
			PriceTTL:   duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradecore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "tradecore-journal",
			ForcePathStyle:  true,
			ArchiveInterval: duration{5 * time.Minute},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Server: ServerConfig{
			Addr:              ":8080",
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

var (
	validModes      = map[string]bool{"trade": true, "monitor": true}
	validExecutions = map[string]bool{"paper": true, "external": true}
	validSources    = map[string]bool{"redis": true, "websocket": true}
	validDetectors  = map[string]bool{"breakout": true, "arbitrage": true}
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if !validExecutions[c.Engine.Execution] {
		errs = append(errs, fmt.Sprintf("engine: unknown execution %q (valid: paper, external)", c.Engine.Execution))
	}
	if c.Engine.Execution == "external" && !c.Redis.Enabled {
		errs = append(errs, "engine: external execution requires redis")
	}
	if len(c.Engine.Detectors) == 0 {
		errs = append(errs, "engine: at least one detector must be enabled")
	}
	for _, d := range c.Engine.Detectors {
		if !validDetectors[d] {
			errs = append(errs, fmt.Sprintf("engine: unknown detector %q", d))
		}
	}
	if c.Engine.BookDepth < 0 {
		errs = append(errs, "engine: book_depth must be >= 0")
	}
	if c.Engine.Instance == "" {
		errs = append(errs, "engine: instance must not be empty")
	}

	// Risk
	if _, err := domain.ParseTradingMode(c.Risk.TradingMode); err != nil {
		errs = append(errs, "risk: "+err.Error())
	}

	// Ledger
	if c.Ledger.InitialCash < 0 {
		errs = append(errs, "ledger: initial_cash must be >= 0")
	}
	if c.Ledger.FeeRate < 0 || c.Ledger.FeeRate >= 1 {
		errs = append(errs, fmt.Sprintf("ledger: fee_rate must be in [0, 1), got %v", c.Ledger.FeeRate))
	}

	// Markets
	if len(c.Venues) == 0 {
		errs = append(errs, "venues: at least one venue is required")
	}
	seen := make(map[string]bool, len(c.Venues))
	for _, v := range c.Venues {
		switch {
		case v.Name == "":
			errs = append(errs, "venues: name must not be empty")
		case seen[v.Name]:
			errs = append(errs, fmt.Sprintf("venues: duplicate venue %q", v.Name))
		}
		seen[v.Name] = true
		if v.Latency.Duration < 0 {
			errs = append(errs, fmt.Sprintf("venues: %s latency must be >= 0", v.Name))
		}
	}
	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: at least one symbol is required")
	}
	seenSym := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s == "" || seenSym[s] {
			errs = append(errs, fmt.Sprintf("symbols: empty or duplicate symbol %q", s))
		}
		seenSym[s] = true
	}
	for _, d := range c.Engine.Detectors {
		if d == "arbitrage" && len(c.Venues) < 2 {
			errs = append(errs, "arbitrage: needs at least two venues")
		}
	}

	// Detectors
	if c.Breakout.Lookback < 0 || c.Breakout.Retest < 0 || c.Breakout.VolumeMultiplier < 0 || c.Breakout.Size < 0 {
		errs = append(errs, "breakout: lookback, retest, volume_multiplier and size must be >= 0")
	}
	if c.Arbitrage.MinProfitPercent < 0 || c.Arbitrage.Size < 0 {
		errs = append(errs, "arbitrage: min_profit_percent and size must be >= 0")
	}

	// Dispatch
	if c.Dispatch.OrdersPerSecond < 0 {
		errs = append(errs, "dispatch: orders_per_second must be >= 0")
	}
	if c.Dispatch.SlippageBps < 0 {
		errs = append(errs, "dispatch: slippage_bps must be >= 0")
	}

	// Feed
	if !validSources[c.Feed.Source] {
		errs = append(errs, fmt.Sprintf("feed: unknown source %q (valid: redis, websocket)", c.Feed.Source))
	}
	if c.Feed.Source == "redis" && !c.Redis.Enabled {
		errs = append(errs, "feed: redis source requires redis")
	}
	if c.Feed.Source == "websocket" && c.Feed.URL == "" {
		errs = append(errs, "feed: url is required for the websocket source")
	}

	if c.Control.Enabled && !c.Redis.Enabled {
		errs = append(errs, "control: requires redis")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty")
	}

	if c.Server.Enabled {
		if c.Server.Addr == "" {
			errs = append(errs, "server: addr must not be empty")
		}
		if c.Server.Addr == c.Metrics.Addr && c.Metrics.Enabled {
			errs = append(errs, "server: addr must differ from metrics.addr")
		}
		if c.Server.RequestsPerSecond < 0 {
			errs = append(errs, "server: requests_per_second must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// TradingMode returns the parsed initial trading mode.
func (c *Config) TradingMode() domain.TradingMode {
	m, err := domain.ParseTradingMode(c.Risk.TradingMode)
	if err != nil {
		return domain.ModeStopped
	}
	return m
}

// Limits returns the initial risk limits.
func (c *Config) Limits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionSize:  c.Risk.MaxPositionSize,
		MaxOrderValue:    c.Risk.MaxOrderValue,
		MaxDailyLoss:     c.Risk.MaxDailyLoss,
		MaxOpenPositions: c.Risk.MaxOpenPositions,
	}
}

// MarketKeys returns every (venue, symbol) pair to collect.
func (c *Config) MarketKeys() []domain.MarketKey {
	keys := make([]domain.MarketKey, 0, len(c.Venues)*len(c.Symbols))
	for _, v := range c.Venues {
		for _, s := range c.Symbols {
			keys = append(keys, domain.MarketKey{Venue: v.Name, Symbol: s})
		}
	}
	return keys
}

// VenueLatency maps venue name to its static latency.
func (c *Config) VenueLatency() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Venues))
	for _, v := range c.Venues {
		out[v.Name] = v.Latency.Duration
	}
	return out
}

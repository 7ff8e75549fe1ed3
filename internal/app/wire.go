package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/tradecore/internal/blob/s3"
	"github.com/alanyoungcy/tradecore/internal/cache/redis"
	"github.com/alanyoungcy/tradecore/internal/config"
	"github.com/alanyoungcy/tradecore/internal/journal"
	"github.com/alanyoungcy/tradecore/internal/notify"
	"github.com/alanyoungcy/tradecore/internal/server/ws"
	"github.com/alanyoungcy/tradecore/internal/store/postgres"
)

// Dependencies bundles the infrastructure the modes run on. It is built by
// Wire and torn down by the returned cleanup function. Optional backends
// are nil when disabled.
type Dependencies struct {
	// Redis
	Redis       *redis.Client
	SignalBus   *redis.SignalBus
	PriceCache  *redis.PriceCache
	LockManager *redis.LockManager

	// Clients kept for health checks
	Postgres *postgres.Client
	S3       *s3blob.Client

	// Journal sinks
	JournalStore *postgres.JournalStore
	Archiver     *s3blob.JournalArchiver
	Notifier     *notify.Notifier
	Hub          *ws.Hub

	// Journal is the recorder every component appends to.
	Journal *journal.Recorder
}

// Wire constructs the configured backends and the journal recorder on top of
// them, returning a cleanup function that releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Redis = redisClient
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMax)
		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- PostgreSQL journal store ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		deps.Postgres = pgClient
		deps.JournalStore = postgres.NewJournalStore(pgClient.Pool())
	}

	// --- S3 journal archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.S3 = s3Client
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client, cfg.S3.Prefix),
			s3blob.ArchiverConfig{Interval: cfg.S3.ArchiveInterval.Duration},
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	if cfg.Server.Enabled {
		deps.Hub = ws.NewHub(cfg.Mode, logger)
	}

	deps.Journal = journal.NewRecorder(journal.Config{
		Buffer:        cfg.Journal.Buffer,
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval.Duration,
	}, logger, journalSinks(cfg, deps, logger)...)

	return deps, cleanup, nil
}

// journalSinks lists the sinks the recorder fans out to, in a fixed order.
func journalSinks(cfg *config.Config, deps *Dependencies, logger *slog.Logger) []journal.Sink {
	var sinks []journal.Sink
	if cfg.Journal.Log {
		sinks = append(sinks, journal.NewLogSink(logger, slog.LevelInfo))
	}
	if deps.SignalBus != nil && cfg.Journal.Stream != "" {
		sinks = append(sinks, redis.NewJournalSink(deps.SignalBus, cfg.Journal.Stream))
	}
	if deps.JournalStore != nil {
		sinks = append(sinks, deps.JournalStore)
	}
	if deps.Archiver != nil {
		sinks = append(sinks, deps.Archiver)
	}
	if deps.Notifier != nil {
		sinks = append(sinks, deps.Notifier)
	}
	if deps.Hub != nil {
		sinks = append(sinks, deps.Hub)
	}
	return sinks
}

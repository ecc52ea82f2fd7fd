package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"

	"github.com/calebmori/mevengine/internal/audit"
	s3blob "github.com/calebmori/mevengine/internal/blob/s3"
	"github.com/calebmori/mevengine/internal/cache/redis"
	"github.com/calebmori/mevengine/internal/config"
	"github.com/calebmori/mevengine/internal/crypto"
	"github.com/calebmori/mevengine/internal/domain"
	"github.com/calebmori/mevengine/internal/notify"
	"github.com/calebmori/mevengine/internal/store/postgres"
)

// Dependencies bundles the infrastructure-level dependencies the operating
// modes need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Bus         domain.EventBus
	Sink        *audit.Sink
	LockManager domain.LockManager

	AttemptStore domain.AttemptStore
	Archiver     *s3blob.Archiver

	Signer  *ecdsa.PrivateKey
	Senders []notify.Sender
}

// needsPostgres returns true for modes that persist execution attempts.
func needsPostgres(mode string) bool {
	return mode == "full"
}

// Wire constructs all concrete infrastructure implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Redis: event bus, audit sink, distributed locks ---
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

	deps.Bus = redis.NewEventBus(redisClient)
	deps.Sink = audit.NewSink(deps.Bus, 0, logger)
	if cfg.Executor.DistributedLocks {
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- PostgreSQL (only for modes that dispatch) ---
	if needsPostgres(cfg.Mode) {
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
		deps.AttemptStore = postgres.NewAttemptStore(pgClient.Pool())
	}

	// --- S3 attempt archival ---
	if cfg.S3.Enabled && deps.AttemptStore != nil {
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
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.AttemptStore,
			deps.Sink,
			cfg.S3.ArchiveInterval.Duration,
			logger,
		)
	}

	// --- Searcher key (only for modes that submit bundles) ---
	if cfg.Mode == "full" {
		signer, err := crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    cfg.Key.PrivateKey,
			EncryptedKeyPath: cfg.Key.EncryptedKeyPath,
			KeyPassword:      cfg.Key.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer
	}

	// --- Notifications ---
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		deps.Senders = append(deps.Senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		deps.Senders = append(deps.Senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}

	return deps, cleanup, nil
}

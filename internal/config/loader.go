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

// Load reads configuration from the TOML file at path, then applies
// environment variable overrides. A .env file in the working directory is
// loaded first if present. Pass an empty path to use defaults plus
// environment overrides only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config: decoding %s: %w", path, err)
		}
	}

	// Best effort: a missing .env file is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides mutates cfg with values from MEVENGINE_* environment
// variables. Only variables that are set and non-empty take effect.
func applyEnvOverrides(cfg *Config) {
	setStr("MEVENGINE_MODE", &cfg.Mode)
	setStr("MEVENGINE_LOG_LEVEL", &cfg.LogLevel)

	setStr("MEVENGINE_PRIVATE_KEY", &cfg.Key.PrivateKey)
	setStr("MEVENGINE_ENCRYPTED_KEY_PATH", &cfg.Key.EncryptedKeyPath)
	setStr("MEVENGINE_KEY_PASSWORD", &cfg.Key.KeyPassword)

	setStr("MEVENGINE_PRICE_WS_URL", &cfg.Feeds.PriceWSURL)
	setStr("MEVENGINE_MEMPOOL_WS_URL", &cfg.Feeds.MempoolWSURL)
	setStringSlice("MEVENGINE_VENUES", &cfg.Feeds.Venues)

	setDuration("MEVENGINE_GRAPH_STALENESS", &cfg.Graph.Staleness)

	setDuration("MEVENGINE_SCAN_INTERVAL", &cfg.Detect.ScanInterval)
	setFloat64("MEVENGINE_MIN_NET_PROFIT", &cfg.Detect.MinNetProfit)

	setFloat64("MEVENGINE_SCORER_MIN_PROFIT", &cfg.Scorer.MinProfit)
	setFloat64("MEVENGINE_SCORER_MIN_CONFIDENCE", &cfg.Scorer.MinConfidence)

	setInt("MEVENGINE_EXECUTOR_WORKERS", &cfg.Executor.Workers)
	setBool("MEVENGINE_DISTRIBUTED_LOCKS", &cfg.Executor.DistributedLocks)
	setStr("MEVENGINE_BUILDER_URL", &cfg.Executor.BuilderURL)

	setFloat64("MEVENGINE_MAX_POSITION_SIZE", &cfg.Risk.MaxPositionSize)
	setFloat64("MEVENGINE_MAX_TOTAL_EXPOSURE", &cfg.Risk.MaxTotalExposure)
	setInt("MEVENGINE_MAX_OPEN_POSITIONS", &cfg.Risk.MaxOpenPositions)
	setFloat64("MEVENGINE_MAX_DAILY_LOSS", &cfg.Risk.MaxDailyLoss)

	setStr("MEVENGINE_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("MEVENGINE_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("MEVENGINE_REDIS_DB", &cfg.Redis.DB)
	setBool("MEVENGINE_REDIS_TLS", &cfg.Redis.TLSEnabled)

	setStr("MEVENGINE_POSTGRES_DSN", &cfg.Postgres.DSN)
	setStr("MEVENGINE_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("MEVENGINE_POSTGRES_PORT", &cfg.Postgres.Port)
	setStr("MEVENGINE_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setStr("MEVENGINE_POSTGRES_USER", &cfg.Postgres.User)
	setStr("MEVENGINE_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setBool("MEVENGINE_POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations)

	setBool("MEVENGINE_S3_ENABLED", &cfg.S3.Enabled)
	setStr("MEVENGINE_S3_ENDPOINT", &cfg.S3.Endpoint)
	setStr("MEVENGINE_S3_REGION", &cfg.S3.Region)
	setStr("MEVENGINE_S3_BUCKET", &cfg.S3.Bucket)
	setStr("MEVENGINE_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	setStr("MEVENGINE_S3_SECRET_KEY", &cfg.S3.SecretKey)

	setStr("MEVENGINE_TELEGRAM_TOKEN", &cfg.Notify.TelegramToken)
	setStr("MEVENGINE_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)
	setStr("MEVENGINE_DISCORD_WEBHOOK_URL", &cfg.Notify.DiscordWebhookURL)
}

func setStr(env string, dst *string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(env string, dst *int) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(env string, dst *float64) {
	if v := os.Getenv(env); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(env string, dst *bool) {
	if v := os.Getenv(env); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(env string, dst *duration) {
	if v := os.Getenv(env); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(env string, dst *[]string) {
	if v := os.Getenv(env); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}

// Package config defines the engine's top-level configuration and validation
// helpers. Fields are populated from a TOML file and optionally overridden by
// MEVENGINE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Key       KeyConfig       `toml:"key"`
	Feeds     FeedsConfig     `toml:"feeds"`
	Graph     GraphConfig     `toml:"graph"`
	Detect    DetectConfig    `toml:"detect"`
	Scorer    ScorerConfig    `toml:"scorer"`
	Executor  ExecutorConfig  `toml:"executor"`
	Broadcast BroadcastConfig `toml:"broadcast"`
	Risk      RiskConfig      `toml:"risk"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// KeyConfig holds the searcher identity key used to sign relay submissions.
type KeyConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// FeedsConfig holds the upstream WebSocket endpoints.
type FeedsConfig struct {
	PriceWSURL   string   `toml:"price_ws_url"`
	MempoolWSURL string   `toml:"mempool_ws_url"`
	Venues       []string `toml:"venues"`
}

// GraphConfig holds market-graph freshness parameters.
type GraphConfig struct {
	Staleness duration `toml:"staleness"`
	HotWindow duration `toml:"hot_window"`
}

// DetectConfig holds the per-strategy detector settings.
type DetectConfig struct {
	ScanInterval  duration `toml:"scan_interval"`
	MinNetProfit  float64  `toml:"min_net_profit"`
	PendingBuffer int      `toml:"pending_buffer"`
	HealthBuffer  int      `toml:"health_buffer"`
	OutBuffer     int      `toml:"out_buffer"`
	DedupTTL      duration `toml:"dedup_ttl"`

	Arbitrage    ArbitrageConfig    `toml:"arbitrage"`
	Sandwich     SandwichConfig     `toml:"sandwich"`
	Liquidation  LiquidationConfig  `toml:"liquidation"`
	FlashLoan    FlashLoanConfig    `toml:"flash_loan"`
	JITLiquidity JITLiquidityConfig `toml:"jit_liquidity"`
	CrossChain   CrossChainConfig   `toml:"cross_chain"`
}

// ArbitrageConfig holds negative-cycle detection parameters.
type ArbitrageConfig struct {
	Enabled          bool     `toml:"enabled"`
	MaxHops          int      `toml:"max_hops"`
	MinHops          int      `toml:"min_hops"`
	TradeSize        float64  `toml:"trade_size"`
	GasCostPerHop    float64  `toml:"gas_cost_per_hop"`
	RelaxationBudget int      `toml:"relaxation_budget"`
	TTL              duration `toml:"ttl"`
}

// SandwichConfig holds sandwich detection parameters.
type SandwichConfig struct {
	Enabled          bool     `toml:"enabled"`
	MoveThreshold    float64  `toml:"move_threshold"`
	MaxFrontSize     float64  `toml:"max_front_size"`
	TightSlippageBps float64  `toml:"tight_slippage_bps"`
	GasCost          float64  `toml:"gas_cost"`
	TTL              duration `toml:"ttl"`
}

// LiquidationConfig holds liquidation detection parameters.
type LiquidationConfig struct {
	Enabled          bool     `toml:"enabled"`
	CloseFactor      float64  `toml:"close_factor"`
	FlashLoanFeeRate float64  `toml:"flash_loan_fee_rate"`
	GasCost          float64  `toml:"gas_cost"`
	UseFlashLoan     bool     `toml:"use_flash_loan"`
	TTL              duration `toml:"ttl"`
}

// FlashLoanConfig holds flash-loan route composition parameters.
type FlashLoanConfig struct {
	Enabled    bool    `toml:"enabled"`
	FeeRate    float64 `toml:"fee_rate"`
	MinCapital float64 `toml:"min_capital"`
	Provider   string  `toml:"provider"`
}

// JITLiquidityConfig holds just-in-time liquidity parameters.
type JITLiquidityConfig struct {
	Enabled         bool     `toml:"enabled"`
	MinSwapNotional float64  `toml:"min_swap_notional"`
	CaptureShare    float64  `toml:"capture_share"`
	GasCost         float64  `toml:"gas_cost"`
	TTL             duration `toml:"ttl"`
}

// CrossChainConfig holds cross-chain divergence parameters.
type CrossChainConfig struct {
	Enabled       bool     `toml:"enabled"`
	MinDivergence float64  `toml:"min_divergence"`
	BridgeFeeRate float64  `toml:"bridge_fee_rate"`
	BridgeLatency duration `toml:"bridge_latency"`
	TradeSize     float64  `toml:"trade_size"`
	GasCost       float64  `toml:"gas_cost"`
}

// ScorerConfig holds scoring and queueing parameters.
type ScorerConfig struct {
	MinProfit       float64  `toml:"min_profit"`
	MinConfidence   float64  `toml:"min_confidence"`
	QueueCapacity   int      `toml:"queue_capacity"`
	HotnessHalfLife duration `toml:"hotness_half_life"`
}

// ExecutorConfig holds dispatch parameters.
type ExecutorConfig struct {
	Workers             int      `toml:"workers"`
	DispatchTimeout     duration `toml:"dispatch_timeout"`
	MaxAttempts         int      `toml:"max_attempts"`
	RetryDelay          duration `toml:"retry_delay"`
	LockTTL             duration `toml:"lock_ttl"`
	HighPriorityProfit  float64  `toml:"high_priority_profit"`
	UltraPriorityProfit float64  `toml:"ultra_priority_profit"`
	DistributedLocks    bool     `toml:"distributed_locks"`
	BuilderURL          string   `toml:"builder_url"`
}

// ChannelConfig describes one broadcast channel.
type ChannelConfig struct {
	Name    string   `toml:"name"`
	URL     string   `toml:"url"`
	Private bool     `toml:"private"`
	Timeout duration `toml:"timeout"`
}

// BroadcastConfig holds the fan-out channels and the shared retry policy.
type BroadcastConfig struct {
	Channels         []ChannelConfig `toml:"channels"`
	MaxAttempts      int             `toml:"max_attempts"`
	BaseDelay        duration        `toml:"base_delay"`
	MaxDelay         duration        `toml:"max_delay"`
	JitterFraction   float64         `toml:"jitter_fraction"`
	BreakerThreshold int             `toml:"breaker_threshold"`
	BreakerCooldown  duration        `toml:"breaker_cooldown"`
}

// RiskConfig holds the capital guardrails.
type RiskConfig struct {
	MaxPositionSize  float64  `toml:"max_position_size"`
	MaxTotalExposure float64  `toml:"max_total_exposure"`
	MaxOpenPositions int      `toml:"max_open_positions"`
	MaxDailyLoss     float64  `toml:"max_daily_loss"`
	BreakerThreshold int      `toml:"breaker_threshold"`
	BreakerCooldown  duration `toml:"breaker_cooldown"`
	MaxRiskLevel     int      `toml:"max_risk_level"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// NotifyConfig holds alert channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration with TOML string decoding ("5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Feeds: FeedsConfig{
			PriceWSURL:   "ws://localhost:8546/prices",
			MempoolWSURL: "ws://localhost:8546/mempool",
		},
		Graph: GraphConfig{
			Staleness: duration{5 * time.Second},
			HotWindow: duration{30 * time.Second},
		},
		Detect: DetectConfig{
			ScanInterval:  duration{200 * time.Millisecond},
			MinNetProfit:  10.0,
			PendingBuffer: 1024,
			HealthBuffer:  256,
			OutBuffer:     256,
			DedupTTL:      duration{time.Minute},
			Arbitrage: ArbitrageConfig{
				Enabled:          true,
				MaxHops:          4,
				MinHops:          2,
				TradeSize:        1000.0,
				GasCostPerHop:    5.0,
				RelaxationBudget: 2_000_000,
				TTL:              duration{3 * time.Second},
			},
			Sandwich: SandwichConfig{
				Enabled:          false,
				MoveThreshold:    0.01,
				MaxFrontSize:     5000.0,
				TightSlippageBps: 0,
				GasCost:          30.0,
				TTL:              duration{2 * time.Second},
			},
			Liquidation: LiquidationConfig{
				Enabled:          true,
				CloseFactor:      0.5,
				FlashLoanFeeRate: 0.0009,
				GasCost:          40.0,
				UseFlashLoan:     true,
				TTL:              duration{10 * time.Second},
			},
			FlashLoan: FlashLoanConfig{
				Enabled:    true,
				FeeRate:    0.0009,
				MinCapital: 500.0,
				Provider:   "aave_v3",
			},
			JITLiquidity: JITLiquidityConfig{
				Enabled:         false,
				MinSwapNotional: 50_000.0,
				CaptureShare:    0.7,
				GasCost:         35.0,
				TTL:             duration{2 * time.Second},
			},
			CrossChain: CrossChainConfig{
				Enabled:       false,
				MinDivergence: 0.005,
				BridgeFeeRate: 0.0005,
				BridgeLatency: duration{2 * time.Minute},
				TradeSize:     1000.0,
				GasCost:       25.0,
			},
		},
		Scorer: ScorerConfig{
			MinProfit:       10.0,
			MinConfidence:   0.3,
			QueueCapacity:   512,
			HotnessHalfLife: duration{30 * time.Second},
		},
		Executor: ExecutorConfig{
			Workers:             4,
			DispatchTimeout:     duration{2 * time.Second},
			MaxAttempts:         2,
			RetryDelay:          duration{100 * time.Millisecond},
			LockTTL:             duration{30 * time.Second},
			HighPriorityProfit:  200.0,
			UltraPriorityProfit: 1000.0,
			DistributedLocks:    false,
			BuilderURL:          "http://localhost:8550/build",
		},
		Broadcast: BroadcastConfig{
			Channels: []ChannelConfig{
				{Name: "flashbots", URL: "https://relay.flashbots.net", Private: true, Timeout: duration{5 * time.Second}},
				{Name: "public_mempool", URL: "http://localhost:8545", Private: false, Timeout: duration{5 * time.Second}},
			},
			MaxAttempts:      3,
			BaseDelay:        duration{50 * time.Millisecond},
			MaxDelay:         duration{500 * time.Millisecond},
			JitterFraction:   0.2,
			BreakerThreshold: 5,
			BreakerCooldown:  duration{30 * time.Second},
		},
		Risk: RiskConfig{
			MaxPositionSize:  10_000.0,
			MaxTotalExposure: 50_000.0,
			MaxOpenPositions: 16,
			MaxDailyLoss:     1_000.0,
			BreakerThreshold: 5,
			BreakerCooldown:  duration{5 * time.Minute},
			MaxRiskLevel:     2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "mevengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:         false,
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "mevengine-audit",
			UseSSL:          false,
			ForcePathStyle:  true,
			ArchiveInterval: duration{time.Hour},
		},
		Notify: NotifyConfig{
			Events: []string{},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode. "detect" runs
// feeds and detection only, never dispatching; "full" runs the whole path.
var validModes = map[string]bool{
	"detect": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: detect, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Key is needed to sign private-relay submissions in full mode.
	if strings.ToLower(c.Mode) == "full" {
		if c.Key.PrivateKey == "" && c.Key.EncryptedKeyPath == "" {
			errs = append(errs, "key: either private_key or encrypted_key_path must be set for mode full")
		}
		if c.Key.EncryptedKeyPath != "" && c.Key.KeyPassword == "" {
			errs = append(errs, "key: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Feeds.PriceWSURL == "" {
		errs = append(errs, "feeds: price_ws_url must not be empty")
	}
	if c.Graph.Staleness.Duration <= 0 {
		errs = append(errs, "graph: staleness must be > 0")
	}

	if c.Detect.Arbitrage.Enabled {
		if c.Detect.Arbitrage.MaxHops < 2 || c.Detect.Arbitrage.MaxHops > 5 {
			errs = append(errs, fmt.Sprintf("detect.arbitrage: max_hops must be 2-5, got %d", c.Detect.Arbitrage.MaxHops))
		}
		if c.Detect.Arbitrage.TradeSize <= 0 {
			errs = append(errs, "detect.arbitrage: trade_size must be > 0")
		}
	}
	if c.Detect.Sandwich.Enabled && c.Detect.Sandwich.MoveThreshold <= 0 {
		errs = append(errs, "detect.sandwich: move_threshold must be > 0 when enabled")
	}
	if c.Detect.Liquidation.Enabled {
		if c.Detect.Liquidation.CloseFactor <= 0 || c.Detect.Liquidation.CloseFactor > 1 {
			errs = append(errs, "detect.liquidation: close_factor must be in (0, 1]")
		}
	}
	if c.Detect.FlashLoan.Enabled && !c.Detect.Arbitrage.Enabled {
		errs = append(errs, "detect.flash_loan: requires detect.arbitrage to be enabled")
	}

	if c.Scorer.MinConfidence < 0 || c.Scorer.MinConfidence > 1 {
		errs = append(errs, "scorer: min_confidence must be in [0, 1]")
	}
	if c.Scorer.QueueCapacity < 1 {
		errs = append(errs, "scorer: queue_capacity must be >= 1")
	}

	if c.Executor.Workers < 1 {
		errs = append(errs, "executor: workers must be >= 1")
	}
	if c.Executor.MaxAttempts < 1 {
		errs = append(errs, "executor: max_attempts must be >= 1")
	}
	if c.Executor.UltraPriorityProfit > 0 && c.Executor.HighPriorityProfit > c.Executor.UltraPriorityProfit {
		errs = append(errs, "executor: high_priority_profit must not exceed ultra_priority_profit")
	}
	if strings.ToLower(c.Mode) == "full" && c.Executor.BuilderURL == "" {
		errs = append(errs, "executor: builder_url must not be empty for mode full")
	}

	if strings.ToLower(c.Mode) == "full" && len(c.Broadcast.Channels) == 0 {
		errs = append(errs, "broadcast: at least one channel is required for mode full")
	}
	seen := make(map[string]bool, len(c.Broadcast.Channels))
	for i, ch := range c.Broadcast.Channels {
		if ch.Name == "" {
			errs = append(errs, fmt.Sprintf("broadcast: channel %d has no name", i))
		}
		if ch.URL == "" {
			errs = append(errs, fmt.Sprintf("broadcast: channel %q has no url", ch.Name))
		}
		if seen[ch.Name] {
			errs = append(errs, fmt.Sprintf("broadcast: duplicate channel name %q", ch.Name))
		}
		seen[ch.Name] = true
	}

	if c.Risk.MaxRiskLevel < 0 || c.Risk.MaxRiskLevel > 2 {
		errs = append(errs, fmt.Sprintf("risk: max_risk_level must be 0-2, got %d", c.Risk.MaxRiskLevel))
	}
	if c.Risk.MaxPositionSize > 0 && c.Risk.MaxTotalExposure > 0 && c.Risk.MaxPositionSize > c.Risk.MaxTotalExposure {
		errs = append(errs, "risk: max_position_size must not exceed max_total_exposure")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

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

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

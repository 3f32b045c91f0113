package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
		MarketsFile string `envconfig:"MARKETS_FILE" default:"markets.yaml"`
	}

	GRPC struct {
		Addr string `envconfig:"GRPC_ADDR" default:":50051"`
	}

	HTTP struct {
		Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
		ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"5s"`
	}

	// Engine sizes the per-market workers.
	Engine struct {
		InboxSize    int `envconfig:"ENGINE_INBOX_SIZE" default:"1024"`
		RecentOrders int `envconfig:"ENGINE_RECENT_ORDERS" default:"4096"`
	}

	Liquidation struct {
		Interval   time.Duration `envconfig:"LIQUIDATION_INTERVAL" default:"1s"`
		StaleAfter time.Duration `envconfig:"MARK_STALE_AFTER" default:"10s"`
	}

	Sync struct {
		CallTimeout   time.Duration `envconfig:"SYNC_CALL_TIMEOUT" default:"3s"`
		RetryInterval time.Duration `envconfig:"SYNC_RETRY_INTERVAL" default:"5s"`
	}

	Chain struct {
		VaultAddress    string `envconfig:"VAULT_ADDRESS" required:"true"`
		CollateralAsset string `envconfig:"COLLATERAL_ASSET" default:"USDC"`
	}

	Journal struct {
		Dir          string `envconfig:"JOURNAL_DIR" default:"data/journal"`
		SegmentBytes int64  `envconfig:"JOURNAL_SEGMENT_BYTES" default:"67108864"`
	}

	Outbox struct {
		Dir string `envconfig:"OUTBOX_DIR" default:"data/outbox"`
	}

	// Feed selects the mark price source: ws, kafka or none.
	Feed struct {
		Source       string   `envconfig:"FEED_SOURCE" default:"ws"`
		URL          string   `envconfig:"FEED_URL"`
		KafkaBrokers []string `envconfig:"FEED_KAFKA_BROKERS"`
		KafkaTopic   string   `envconfig:"FEED_KAFKA_TOPIC" default:"mark-prices"`
		KafkaGroup   string   `envconfig:"FEED_KAFKA_GROUP" default:"perpx"`
	}

	Kafka struct {
		Brokers  []string `envconfig:"KAFKA_BROKERS"`
		Topic    string   `envconfig:"KAFKA_TOPIC" default:"perpx.events"`
		Encoding string   `envconfig:"KAFKA_ENCODING" default:"json"`
	}

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
	}

	Postgres struct {
		DSN string `envconfig:"POSTGRES_DSN"`
	}
}

// Validate checks values that tags cannot express.
func Validate(cfg *Config) error {
	var problems []string

	if cfg.Engine.InboxSize < 1 {
		problems = append(problems, "ENGINE_INBOX_SIZE must be at least 1")
	}
	if cfg.Engine.RecentOrders < 1 {
		problems = append(problems, "ENGINE_RECENT_ORDERS must be at least 1")
	}
	if cfg.Liquidation.Interval <= 0 {
		problems = append(problems, "LIQUIDATION_INTERVAL must be positive")
	}
	if cfg.Liquidation.StaleAfter <= 0 {
		problems = append(problems, "MARK_STALE_AFTER must be positive")
	}
	if cfg.Sync.CallTimeout <= 0 || cfg.Sync.RetryInterval <= 0 {
		problems = append(problems, "SYNC_CALL_TIMEOUT and SYNC_RETRY_INTERVAL must be positive")
	}
	if cfg.Journal.SegmentBytes < 1<<10 {
		problems = append(problems, "JOURNAL_SEGMENT_BYTES must be at least 1024")
	}

	switch cfg.Feed.Source {
	case "ws":
		if cfg.Feed.URL == "" {
			problems = append(problems, "FEED_URL is required for FEED_SOURCE=ws")
		}
	case "kafka":
		if len(cfg.Feed.KafkaBrokers) == 0 {
			problems = append(problems, "FEED_KAFKA_BROKERS is required for FEED_SOURCE=kafka")
		}
	case "none":
	default:
		problems = append(problems, fmt.Sprintf("FEED_SOURCE %q is not one of ws, kafka, none", cfg.Feed.Source))
	}

	switch cfg.Kafka.Encoding {
	case "json", "proto":
	default:
		problems = append(problems, fmt.Sprintf("KAFKA_ENCODING %q is not one of json, proto", cfg.Kafka.Encoding))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads an optional .env file and then the environment.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

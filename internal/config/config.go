// Package config defines the top-level configuration for the group
// marketplace and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by GROUPMARKET_* environment variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Operator OperatorConfig `toml:"operator"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig fixes the genesis parameters of the marketplace. Changing
// any of them after the first command was journaled makes replay diverge.
// Amounts are decimal strings so they are not limited to 64 bits.
type MarketConfig struct {
	SellerShare   int    `toml:"seller_share"`
	FeeRecipient  string `toml:"fee_recipient"`
	MintFee       string `toml:"mint_fee"`
	BurnFee       string `toml:"burn_fee"`
	TokenName     string `toml:"token_name"`
	TokenSymbol   string `toml:"token_symbol"`
	InitialSupply string `toml:"initial_supply"`
}

// OperatorConfig identifies the registry administrator. Either key material
// or a bare address is required; key material is needed only for mode "sign".
type OperatorConfig struct {
	Address          string `toml:"address"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	ViewTTL      duration `toml:"view_ttl"`
	LockTTL      duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	KeyPrefix      string `toml:"key_prefix"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	// CommandRateLimit caps POST /api/commands separately; 0 uses RateLimit.
	CommandRateLimit int      `toml:"command_rate_limit"`
	RateWindow       duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// ArchiveConfig controls exporting old journal rows to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
	BatchSize     int      `toml:"batch_size"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			SellerShare:   85,
			MintFee:       "0",
			BurnFee:       "0",
			TokenName:     "Group Market Payment",
			TokenSymbol:   "GMP",
			InitialSupply: "1000000000000",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "groupmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "gm:",
			StreamMaxLen: 10000,
			ViewTTL:      duration{30 * time.Second},
			LockTTL:      duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "groupmarket-journal",
			ForcePathStyle: true,
			KeyPrefix:      "groupmarket/",
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:        120,
			CommandRateLimit: 30,
			RateWindow:       duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"sale_settled", "marketplace_halted"},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
			BatchSize:     1000,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"replay":  true,
	"archive": true,
	"sign":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Amounts parses the fee and supply strings.
func (m MarketConfig) Amounts() (mintFee, burnFee, supply *big.Int, err error) {
	parse := func(name, v string) (*big.Int, error) {
		if strings.TrimSpace(v) == "" {
			return new(big.Int), nil
		}
		n, ok := new(big.Int).SetString(strings.TrimSpace(v), 10)
		if !ok || n.Sign() < 0 {
			return nil, fmt.Errorf("market: %s must be a non-negative integer, got %q", name, v)
		}
		return n, nil
	}
	if mintFee, err = parse("mint_fee", m.MintFee); err != nil {
		return nil, nil, nil, err
	}
	if burnFee, err = parse("burn_fee", m.BurnFee); err != nil {
		return nil, nil, nil, err
	}
	if supply, err = parse("initial_supply", m.InitialSupply); err != nil {
		return nil, nil, nil, err
	}
	return mintFee, burnFee, supply, nil
}

// ArchiveCutoff is the instant before which journal rows are exported.
func (a ArchiveConfig) ArchiveCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -a.RetentionDays)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, replay, archive, sign)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if c.Market.SellerShare < 0 || c.Market.SellerShare > 100 {
		errs = append(errs, fmt.Sprintf("market: seller_share must be 0-100, got %d", c.Market.SellerShare))
	}
	if c.Market.FeeRecipient != "" && !common.IsHexAddress(c.Market.FeeRecipient) {
		errs = append(errs, fmt.Sprintf("market: fee_recipient %q is not an address", c.Market.FeeRecipient))
	}
	if _, _, _, err := c.Market.Amounts(); err != nil {
		errs = append(errs, err.Error())
	}

	// Operator
	hasKey := c.Operator.PrivateKey != "" || c.Operator.EncryptedKeyPath != ""
	if !hasKey && c.Operator.Address == "" {
		errs = append(errs, "operator: address, private_key or encrypted_key_path must be set")
	}
	if c.Operator.Address != "" && !common.IsHexAddress(c.Operator.Address) {
		errs = append(errs, fmt.Sprintf("operator: address %q is not an address", c.Operator.Address))
	}
	if strings.EqualFold(c.Mode, "sign") {
		if !hasKey {
			errs = append(errs, "operator: mode sign needs private_key or encrypted_key_path")
		} else if c.Operator.PrivateKey == "" && c.Operator.KeyPassword == "" {
			errs = append(errs, "operator: mode sign needs key_password to open encrypted_key_path")
		}
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.LockTTL.Duration < time.Second {
		errs = append(errs, "redis: lock_ttl must be at least 1s")
	}

	// S3 and archive
	if c.Archive.Enabled || strings.EqualFold(c.Mode, "archive") {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if strings.HasPrefix(c.S3.KeyPrefix, "/") {
			errs = append(errs, "s3: key_prefix must not start with /")
		}
		if c.Archive.RetentionDays < 0 {
			errs = append(errs, "archive: retention_days must be >= 0")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.CommandRateLimit < 0 {
			errs = append(errs, "server: command_rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

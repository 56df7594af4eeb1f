package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies GROUPMARKET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known GROUPMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Market ──
	setInt(&cfg.Market.SellerShare, "GROUPMARKET_MARKET_SELLER_SHARE")
	setStr(&cfg.Market.FeeRecipient, "GROUPMARKET_MARKET_FEE_RECIPIENT")
	setStr(&cfg.Market.MintFee, "GROUPMARKET_MARKET_MINT_FEE")
	setStr(&cfg.Market.BurnFee, "GROUPMARKET_MARKET_BURN_FEE")
	setStr(&cfg.Market.TokenName, "GROUPMARKET_MARKET_TOKEN_NAME")
	setStr(&cfg.Market.TokenSymbol, "GROUPMARKET_MARKET_TOKEN_SYMBOL")
	setStr(&cfg.Market.InitialSupply, "GROUPMARKET_MARKET_INITIAL_SUPPLY")

	// ── Operator ──
	setStr(&cfg.Operator.Address, "GROUPMARKET_OPERATOR_ADDRESS")
	setStr(&cfg.Operator.PrivateKey, "GROUPMARKET_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "GROUPMARKET_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "GROUPMARKET_OPERATOR_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "GROUPMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "GROUPMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "GROUPMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "GROUPMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "GROUPMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "GROUPMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "GROUPMARKET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "GROUPMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "GROUPMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "GROUPMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "GROUPMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "GROUPMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "GROUPMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "GROUPMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "GROUPMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "GROUPMARKET_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "GROUPMARKET_REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "GROUPMARKET_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.ViewTTL, "GROUPMARKET_REDIS_VIEW_TTL")
	setDuration(&cfg.Redis.LockTTL, "GROUPMARKET_REDIS_LOCK_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "GROUPMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "GROUPMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "GROUPMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "GROUPMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "GROUPMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "GROUPMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "GROUPMARKET_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.KeyPrefix, "GROUPMARKET_S3_KEY_PREFIX")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "GROUPMARKET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "GROUPMARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "GROUPMARKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "GROUPMARKET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "GROUPMARKET_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.CommandRateLimit, "GROUPMARKET_SERVER_COMMAND_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "GROUPMARKET_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "GROUPMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "GROUPMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "GROUPMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "GROUPMARKET_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "GROUPMARKET_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "GROUPMARKET_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "GROUPMARKET_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "GROUPMARKET_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "GROUPMARKET_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.BatchSize, "GROUPMARKET_ARCHIVE_BATCH_SIZE")

	// ── Top-level ──
	setStr(&cfg.Mode, "GROUPMARKET_MODE")
	setStr(&cfg.LogLevel, "GROUPMARKET_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
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

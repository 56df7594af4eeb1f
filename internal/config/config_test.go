package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const operator = "0x00000000000000000000000000000000000000f1"

func validConfig() Config {
	cfg := Defaults()
	cfg.Operator.Address = operator
	return cfg
}

func TestDefaultsWithOperatorAreValid(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	mint, burn, supply, err := cfg.Market.Amounts()
	require.NoError(t, err)
	assert.Zero(t, mint.Sign())
	assert.Zero(t, burn.Sign())
	assert.Equal(t, "1000000000000", supply.String())
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Market.SellerShare = 101
	cfg.Market.MintFee = "-1"
	cfg.Market.FeeRecipient = "nobody"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"seller_share must be 0-100",
		"mint_fee must be a non-negative integer",
		`fee_recipient "nobody" is not an address`,
		"operator: address, private_key or encrypted_key_path must be set",
		"redis: addr must not be empty",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateModes(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "sign"
	require.ErrorContains(t, cfg.Validate(), "mode sign needs private_key")

	cfg.Operator.PrivateKey = "0xabc"
	require.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Mode = "sign"
	cfg.Operator.EncryptedKeyPath = "/etc/groupmarket/operator.json"
	require.ErrorContains(t, cfg.Validate(), "needs key_password")
	cfg.Operator.KeyPassword = "hunter2"
	require.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Mode = "serve"
	cfg.Operator.EncryptedKeyPath = "/etc/groupmarket/operator.json"
	require.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Mode = "archive"
	cfg.S3.Bucket = ""
	require.ErrorContains(t, cfg.Validate(), "s3: bucket must not be empty")
}

func TestLoadAppliesFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "replay"

[market]
seller_share = 70
mint_fee = "25"

[operator]
address = "`+operator+`"

[redis]
view_ttl = "2m"

[archive]
enabled = true
interval = "6h"
`), 0o600))

	t.Setenv("GROUPMARKET_MARKET_BURN_FEE", "5")
	t.Setenv("GROUPMARKET_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("GROUPMARKET_ARCHIVE_RETENTION_DAYS", "7")
	t.Setenv("GROUPMARKET_SERVER_RATE_WINDOW", "10s")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "replay", cfg.Mode)
	assert.Equal(t, 70, cfg.Market.SellerShare)
	assert.Equal(t, "25", cfg.Market.MintFee)
	assert.Equal(t, "5", cfg.Market.BurnFee)
	assert.Equal(t, 2*time.Minute, cfg.Redis.ViewTTL.Duration)
	assert.Equal(t, 30*time.Second, cfg.Redis.LockTTL.Duration)
	assert.Equal(t, 6*time.Hour, cfg.Archive.Interval.Duration)
	assert.Equal(t, 7, cfg.Archive.RetentionDays)
	assert.Equal(t, 10*time.Second, cfg.Server.RateWindow.Duration)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)

	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), cfg.Archive.ArchiveCutoff(now))
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Operator.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "pw"
	cfg.S3.SecretKey = "sk"
	cfg.Notify.WebhookSecret = "whsec"
	cfg.Server.APIKey = "api"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Operator.PrivateKey)
	assert.Equal(t, redacted, out.Postgres.Password)
	assert.Equal(t, redacted, out.S3.SecretKey)
	assert.Equal(t, redacted, out.Notify.WebhookSecret)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, operator, out.Operator.Address)

	cfg.Postgres.DSN = "postgres://gm:hunter2@db:5432/groupmarket"
	cfg.Redis.Addr = "rediss://:hunter2@cache:6380/0"
	out = RedactedConfig(&cfg)
	assert.Equal(t, "postgres://gm:xxxxx@db:5432/groupmarket", out.Postgres.DSN)
	assert.Equal(t, "rediss://:xxxxx@cache:6380/0", out.Redis.Addr)

	cfg.Postgres.DSN = "host=db password=hunter2"
	cfg.Redis.Addr = "localhost:6379"
	out = RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Postgres.DSN)
	assert.Equal(t, "localhost:6379", out.Redis.Addr)

	out.Notify.Events[0] = "changed"
	assert.Equal(t, "sale_settled", cfg.Notify.Events[0])
	assert.Equal(t, "deadbeef", cfg.Operator.PrivateKey)
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/groupmarket/internal/blob/s3"
	"github.com/alanyoungcy/groupmarket/internal/cache/redis"
	"github.com/alanyoungcy/groupmarket/internal/command"
	"github.com/alanyoungcy/groupmarket/internal/config"
	"github.com/alanyoungcy/groupmarket/internal/crypto"
	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/alanyoungcy/groupmarket/internal/notify"
	"github.com/alanyoungcy/groupmarket/internal/service"
	"github.com/alanyoungcy/groupmarket/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Journal    command.Journal
	AuditStore domain.AuditStore

	// Redis
	SignalBus   domain.SignalBus
	ViewCache   domain.ViewCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager

	// Blob storage, nil unless archiving is configured
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.JournalArchiver

	// Notifications
	Notifier *notify.Notifier

	Marketplace *service.Marketplace
}

// needsS3 returns true when the mode or the archive schedule uses object
// storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled || strings.EqualFold(cfg.Mode, "archive")
}

// StateParams converts the market and operator sections to genesis
// parameters.
func StateParams(cfg *config.Config) (service.StateParams, error) {
	operator, err := crypto.OperatorAddress(keyConfig(cfg))
	if err != nil {
		return service.StateParams{}, fmt.Errorf("operator: %w", err)
	}
	mintFee, burnFee, supply, err := cfg.Market.Amounts()
	if err != nil {
		return service.StateParams{}, err
	}
	p := service.StateParams{
		Operator:      operator,
		MintFee:       mintFee,
		BurnFee:       burnFee,
		SellerShare:   uint8(cfg.Market.SellerShare),
		TokenName:     cfg.Market.TokenName,
		TokenSymbol:   cfg.Market.TokenSymbol,
		InitialSupply: supply,
	}
	if cfg.Market.FeeRecipient != "" {
		p.FeeRecipient = common.HexToAddress(cfg.Market.FeeRecipient)
	}
	return p, nil
}

func keyConfig(cfg *config.Config) crypto.KeyConfig {
	return crypto.KeyConfig{
		Address:          cfg.Operator.Address,
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	}
}

// SealOperatorKey writes the configured raw operator key to path as a key
// file sealed with the configured key password, so deployments can drop
// private_key from their config.
func SealOperatorKey(cfg *config.Config, path string) (common.Address, error) {
	if cfg.Operator.PrivateKey == "" {
		return common.Address{}, fmt.Errorf("seal key: operator private_key is not set")
	}
	blob, err := crypto.SealOperatorKey(cfg.Operator.PrivateKey, cfg.Operator.KeyPassword)
	if err != nil {
		return common.Address{}, fmt.Errorf("seal key: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return common.Address{}, fmt.Errorf("seal key: %w", err)
	}
	return crypto.KeyFileAddress(blob)
}

// notifier builds the fan-out notifier from every configured channel.
func notifier(cfg config.NotifyConfig, logger *slog.Logger) (*notify.Notifier, int) {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if cfg.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.WebhookURL, cfg.WebhookSecret))
	}
	return notify.NewNotifier(senders, cfg.Events, logger), len(senders)
}

// Wire constructs all concrete dependency implementations from the given
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

	params, err := StateParams(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	// --- PostgreSQL ---
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
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Journal = postgres.NewJournalStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
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

	prefix := cfg.Redis.KeyPrefix
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	deps.ViewCache = redis.NewViewCache(redisClient, prefix, cfg.Redis.ViewTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient, prefix)
	deps.Locks = redis.NewLockManager(redisClient, prefix)

	// --- S3 blob storage (only when archiving) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			KeyPrefix:      cfg.S3.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewJournalArchiver(
			deps.Journal,
			deps.BlobWriter,
			deps.BlobReader,
			deps.AuditStore,
			cfg.Archive.BatchSize,
			logger,
		)
	}

	// --- Notifications ---
	n, senders := notifier(cfg.Notify, logger)
	deps.Notifier = n

	// --- Marketplace ---
	state, err := service.NewState(params)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	deps.Marketplace = service.NewMarketplace(
		state,
		deps.Journal,
		deps.AuditStore,
		deps.SignalBus,
		deps.ViewCache,
		logger,
	)
	if senders > 0 {
		deps.Marketplace.WithNotifier(deps.Notifier)
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.String("operator", params.Operator.Hex()),
		slog.String("engine", state.Addresses.Engine.Hex()),
		slog.String("registry", state.Addresses.Registry.Hex()),
		slog.Int("notify_senders", senders),
		slog.Bool("archive", deps.Archiver != nil),
	)
	return deps, cleanup, nil
}

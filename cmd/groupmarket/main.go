// Command groupmarket is the entry point for the group marketplace. It loads
// configuration, validates it, sets up signal handling, and runs the
// configured mode: serve, replay, archive or sign.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/groupmarket/internal/app"
	"github.com/alanyoungcy/groupmarket/internal/command"
	"github.com/alanyoungcy/groupmarket/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (serve, replay, archive, sign)")
	op := flag.String("op", "", "sign mode: operation to sign, e.g. market.bid_english")
	nonce := flag.String("nonce", "", "sign mode: nonce (defaults to the current time)")
	args := flag.String("args", "{}", "sign mode: JSON arguments")
	sealKey := flag.String("seal-key", "", "write operator.private_key to this path as a key file sealed with operator.key_password, then exit")
	flag.Parse()

	// Setup structured JSON logger. Logs go to stderr so replay and sign
	// output on stdout stays machine readable.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if *sealKey != "" {
		addr, err := app.SealOperatorKey(cfg, *sealKey)
		if err != nil {
			logger.Error("failed to seal operator key", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("operator key sealed",
			slog.String("path", *sealKey),
			slog.String("address", addr.Hex()),
		)
		return
	}

	logger.Info("groupmarket starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	// Create the application.
	application := app.New(cfg, logger).WithSignRequest(app.SignRequest{
		Op:    command.Op(*op),
		Nonce: *nonce,
		Args:  json.RawMessage(*args),
	})
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the application.
	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("groupmarket stopped")
}

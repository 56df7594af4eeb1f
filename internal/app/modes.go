package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/groupmarket/internal/blob/s3"
	"github.com/alanyoungcy/groupmarket/internal/command"
	"github.com/alanyoungcy/groupmarket/internal/crypto"
	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/alanyoungcy/groupmarket/internal/server"
	"github.com/alanyoungcy/groupmarket/internal/server/handler"
	"github.com/alanyoungcy/groupmarket/internal/server/middleware"
	"github.com/alanyoungcy/groupmarket/internal/server/ws"
	"github.com/alanyoungcy/groupmarket/internal/service"
)

// writerLockKey guards the journal: only the holder may apply commands.
const writerLockKey = "marketplace:writer"

// ErrWriterLockLost is returned by ServeMode when another process took the
// writer lock.
var ErrWriterLockLost = errors.New("app: writer lock lost")

// ServeMode takes the single-writer lock, rebuilds state from the journal
// and serves the HTTP API and WebSocket hub. With archiving enabled it also
// exports old journal rows on a ticker.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	release, lost, err := deps.Locks.Hold(ctx, writerLockKey, a.cfg.Redis.LockTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("serve mode: another instance holds the writer lock: %w", err)
		}
		return fmt.Errorf("serve mode: %w", err)
	}
	defer release()

	n, err := deps.Marketplace.Replay(ctx)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}
	status := deps.Marketplace.Status()
	a.logger.InfoContext(ctx, "state rebuilt",
		slog.Int("commands", n),
		slog.Uint64("groups", status.Groups),
		slog.Bool("solvent", status.Solvent),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-lost:
			a.logger.ErrorContext(ctx, "writer lock lost, stopping")
			return ErrWriterLockLost
		}
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps.Archiver)
		})
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub to the errgroup.
// The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	market := deps.Marketplace

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Channel:   service.ChannelMarket,
		Status:    func() any { return market.Status() },
		StartedAt: time.Now().UTC(),
		Origins:   middleware.Origins(a.cfg.Server.CORSOrigins),
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		CommandRate: a.cfg.Server.CommandRateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:   handler.NewHealthHandler(market.Halted, a.logger),
		Status:   handler.NewStatusHandler(a.cfg.Mode, market),
		Commands: handler.NewCommandHandler(market, a.logger),
		Views:    handler.NewViewHandler(market, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, deps.SignalBus, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.String("addr", srv.Addr()),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// archiveLoop runs one archive pass per configured interval. Failures are
// logged and retried on the next tick.
func (a *App) archiveLoop(ctx context.Context, archiver *s3blob.JournalArchiver) error {
	ticker := time.NewTicker(a.cfg.Archive.Interval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.archiveOnce(ctx, archiver); err != nil {
				a.logger.WarnContext(ctx, "scheduled archive failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, archiver *s3blob.JournalArchiver) (int64, error) {
	cutoff := a.cfg.Archive.ArchiveCutoff(time.Now().UTC())
	n, err := archiver.ArchiveJournal(ctx, cutoff)
	if err != nil {
		return n, err
	}
	a.logger.InfoContext(ctx, "archive pass complete",
		slog.Int64("commands", n),
		slog.Time("cutoff", cutoff),
	)
	return n, nil
}

// ReplayMode rebuilds state from the journal, prints the resulting status
// and exits. It does not take the writer lock and never writes.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode")

	n, err := deps.Marketplace.Replay(ctx)
	if err != nil {
		return fmt.Errorf("replay mode: %w", err)
	}
	a.logger.InfoContext(ctx, "replay complete", slog.Int("commands", n))
	return writeJSONTo(a.out, deps.Marketplace.Status())
}

// ArchiveMode runs a single archive pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: object storage is not configured")
	}
	if _, err := a.archiveOnce(ctx, deps.Archiver); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	archives, err := deps.Archiver.Archives(ctx)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archives in bucket", slog.Int("objects", len(archives)))
	return nil
}

// SignRequest is the command signed by SignMode.
type SignRequest struct {
	Op    command.Op
	Nonce string
	Args  json.RawMessage
}

// SignMode signs a command with the operator key and prints the request
// body for POST /api/commands.
func (a *App) SignMode(ctx context.Context) error {
	req := a.sign
	if len(req.Args) == 0 {
		req.Args = json.RawMessage(`{}`)
	}
	if !command.Known(req.Op) {
		return fmt.Errorf("sign mode: unknown op %q", req.Op)
	}
	if req.Nonce == "" {
		req.Nonce = fmt.Sprintf("%d", time.Now().UnixNano())
	}
	if _, err := command.DecodeArgs(command.Command{Op: req.Op, Args: req.Args}); err != nil {
		return fmt.Errorf("sign mode: %w", err)
	}

	key, err := crypto.LoadKey(keyConfig(a.cfg))
	if err != nil {
		return fmt.Errorf("sign mode: %w", err)
	}
	signer, err := crypto.NewSigner(key)
	if err != nil {
		return fmt.Errorf("sign mode: %w", err)
	}
	payload, err := command.SigningPayload(req.Op, req.Nonce, req.Args)
	if err != nil {
		return fmt.Errorf("sign mode: %w", err)
	}
	sig, err := signer.SignMessage(payload)
	if err != nil {
		return fmt.Errorf("sign mode: %w", err)
	}

	a.logger.DebugContext(ctx, "command signed",
		slog.String("op", string(req.Op)),
		slog.String("caller", signer.Address().Hex()),
	)
	return writeJSONTo(a.out, handler.SubmitRequest{
		Op:        req.Op,
		Args:      req.Args,
		Nonce:     req.Nonce,
		Signature: sig,
		Caller:    signer.Address().Hex(),
	})
}

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

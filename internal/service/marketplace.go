// Package service runs marketplace commands against the in-memory ledgers
// and fans the results out to the journal, the audit log, the signal bus,
// the view cache and notification senders.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/groupmarket/internal/chain"
	"github.com/alanyoungcy/groupmarket/internal/command"
	"github.com/alanyoungcy/groupmarket/internal/domain"
)

// Signal bus destinations for marketplace events.
const (
	ChannelMarket = "ch:market"
	StreamMarket  = "stream:market"
)

// EventHalted is the notification event sent when the marketplace halts.
const EventHalted = "marketplace_halted"

// ErrHalted is returned once a journal write has failed. In-memory state
// is then ahead of the journal and the process must restart and replay.
var ErrHalted = errors.New("marketplace halted: journal out of sync")

// Notifier forwards selected events to human operators.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Marketplace is the single writer of marketplace state.
type Marketplace struct {
	state    *State
	journal  command.Journal
	audit    domain.AuditStore
	bus      domain.SignalBus
	cache    domain.ViewCache
	notifier Notifier
	clock    chain.Clock
	logger   *slog.Logger

	// guarded by state.Runtime
	nonces  map[string]struct{}
	lastSeq int64

	halted atomic.Bool
}

// NewMarketplace creates a Marketplace with all required dependencies.
func NewMarketplace(
	state *State,
	journal command.Journal,
	audit domain.AuditStore,
	bus domain.SignalBus,
	cache domain.ViewCache,
	logger *slog.Logger,
) *Marketplace {
	return &Marketplace{
		state:   state,
		journal: journal,
		audit:   audit,
		bus:     bus,
		cache:   cache,
		clock:   chain.NewMonotonicClock(),
		logger:  logger.With(slog.String("component", "marketplace")),
		nonces:  make(map[string]struct{}),
	}
}

// WithNotifier attaches a notifier that is told about every settled sale.
func (m *Marketplace) WithNotifier(n Notifier) *Marketplace {
	m.notifier = n
	return m
}

// WithClock replaces the wall clock used to stamp submitted commands.
func (m *Marketplace) WithClock(c chain.Clock) *Marketplace {
	m.clock = c
	return m
}

// State exposes the underlying ledgers for read-only use.
func (m *Marketplace) State() *State { return m.state }

// Halted reports whether the marketplace stopped accepting commands.
func (m *Marketplace) Halted() bool { return m.halted.Load() }

func nonceKey(cmd command.Command) string {
	return cmd.Caller.Hex() + "/" + cmd.Nonce
}

// Submit stamps cmd with the current instant, applies it and journals it
// in the same critical section, then publishes its effects. Rejected
// commands are audited but never journaled.
func (m *Marketplace) Submit(ctx context.Context, cmd command.Command) (Result, error) {
	if m.halted.Load() {
		return Result{}, ErrHalted
	}
	if err := cmd.Validate(); err != nil {
		m.auditRejected(ctx, cmd, err)
		return Result{}, err
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	cmd.At = m.clock.Now()

	var res Result
	err := m.state.Runtime.Do(cmd.At, func() error {
		if cmd.Nonce != "" {
			if _, dup := m.nonces[nonceKey(cmd)]; dup {
				return domain.ErrDuplicateNonce
			}
		}
		r, err := m.state.Apply(cmd)
		if err != nil {
			return err
		}
		seq, err := m.journal.Append(ctx, cmd)
		if err != nil {
			m.halted.Store(true)
			return fmt.Errorf("marketplace: journal append: %w", err)
		}
		cmd.Seq = seq
		m.remember(cmd)
		res = r
		return nil
	})
	if err != nil {
		if m.halted.Load() {
			m.logger.ErrorContext(ctx, "journal write failed, halting",
				slog.String("op", string(cmd.Op)),
				slog.String("error", err.Error()),
			)
			if m.notifier != nil {
				_ = m.notifier.Notify(ctx, EventHalted, "Marketplace halted", err.Error())
			}
		}
		m.auditRejected(ctx, cmd, err)
		return Result{}, err
	}

	m.publish(ctx, cmd, res)
	return res, nil
}

func (m *Marketplace) remember(cmd command.Command) {
	if cmd.Nonce != "" {
		m.nonces[nonceKey(cmd)] = struct{}{}
	}
	if cmd.Seq > m.lastSeq {
		m.lastSeq = cmd.Seq
	}
}

// callerKey is the audit form of an address, matching its JSON encoding.
func callerKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

func (m *Marketplace) auditRejected(ctx context.Context, cmd command.Command, cause error) {
	if auditErr := m.audit.Log(ctx, domain.AuditEntry{
		Event:     domain.AuditCommandRejected,
		CommandID: cmd.ID,
		Op:        string(cmd.Op),
		Caller:    callerKey(cmd.Caller),
		Code:      domain.Code(cause),
		Detail:    map[string]any{"error": cause.Error()},
	}); auditErr != nil {
		m.logger.WarnContext(ctx, "audit log failed",
			slog.String("op", string(cmd.Op)),
			slog.String("error", auditErr.Error()),
		)
	}
	m.logger.DebugContext(ctx, "command rejected",
		slog.String("op", string(cmd.Op)),
		slog.String("caller", cmd.Caller.Hex()),
		slog.String("code", domain.Code(cause)),
	)
}

// publish fans an applied command out. Every step is best effort: the
// journal already holds the command.
func (m *Marketplace) publish(ctx context.Context, cmd command.Command, res Result) {
	ev := res.Event(cmd)

	// Audit log.
	if auditErr := m.audit.Log(ctx, domain.AuditEntry{
		Event:     domain.AuditCommandApplied,
		CommandID: cmd.ID,
		Op:        string(cmd.Op),
		Caller:    callerKey(cmd.Caller),
		Detail:    map[string]any{"seq": cmd.Seq, "event": string(ev.Type)},
	}); auditErr != nil {
		m.logger.WarnContext(ctx, "audit log failed",
			slog.String("id", cmd.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	payload, err := json.Marshal(ev)
	if err == nil {
		if pubErr := m.bus.Publish(ctx, ChannelMarket, payload); pubErr != nil {
			m.logger.WarnContext(ctx, "publish event failed",
				slog.String("id", cmd.ID),
				slog.String("error", pubErr.Error()),
			)
		}
		if streamErr := m.bus.StreamAppend(ctx, StreamMarket, payload); streamErr != nil {
			m.logger.WarnContext(ctx, "stream append failed",
				slog.String("id", cmd.ID),
				slog.String("error", streamErr.Error()),
			)
		}
	}

	// Non-fatal: cached views also expire on their own.
	if cacheErr := m.cache.Invalidate(ctx, res.CacheKeys()...); cacheErr != nil {
		m.logger.WarnContext(ctx, "cache invalidate failed",
			slog.String("id", cmd.ID),
			slog.String("error", cacheErr.Error()),
		)
	}

	if ev.Type == domain.EventSaleSettled && m.notifier != nil && res.Settlement != nil {
		s := res.Settlement
		msg := fmt.Sprintf("%s listing %d (group %s, item %d) sold to %s for %s",
			s.Mechanism, s.ListingID, s.Group.Hex(), s.LocalID, s.Winner.Hex(), s.Price)
		if nErr := m.notifier.Notify(ctx, string(ev.Type), "Sale settled", msg); nErr != nil {
			m.logger.WarnContext(ctx, "notify failed", slog.String("error", nErr.Error()))
		}
	}

	m.logger.InfoContext(ctx, "command applied",
		slog.String("id", cmd.ID),
		slog.Int64("seq", cmd.Seq),
		slog.String("op", string(cmd.Op)),
		slog.String("event", string(ev.Type)),
	)
}

// Replay re-applies every journaled command after the last applied
// sequence number, each at its recorded instant. Any failure means the
// journal and the code disagree, so Replay stops at the first one.
func (m *Marketplace) Replay(ctx context.Context) (int, error) {
	var (
		n    int
		last time.Time
	)
	err := m.journal.Stream(ctx, m.lastSeq, func(c command.Command) error {
		err := m.state.Runtime.Do(c.At, func() error {
			if _, err := m.state.Apply(c); err != nil {
				return err
			}
			m.remember(c)
			return nil
		})
		if err != nil {
			return fmt.Errorf("marketplace: replay seq %d (%s): %w", c.Seq, c.Op, err)
		}
		n++
		last = c.At
		return nil
	})
	if err != nil {
		return n, err
	}
	if obs, ok := m.clock.(interface{ Observe(time.Time) }); ok && !last.IsZero() {
		obs.Observe(last)
	}
	m.logger.InfoContext(ctx, "journal replayed",
		slog.Int("commands", n),
		slog.Int64("last_seq", m.lastSeq),
	)
	return n, nil
}

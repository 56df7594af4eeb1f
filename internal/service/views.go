package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/alanyoungcy/groupmarket/internal/group"
)

// cached serves a rendered view from the cache or builds it under the
// runtime read lock. The cache is filled while the lock is still held so a
// concurrent command's invalidation always lands after the fill.
func (m *Marketplace) cached(ctx context.Context, key string, build func() (any, error)) ([]byte, error) {
	if b, err := m.cache.Get(ctx, key); err == nil && len(b) > 0 {
		return b, nil
	}
	var out []byte
	err := m.state.Runtime.View(func() error {
		v, err := build()
		if err != nil {
			return err
		}
		out, err = json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marketplace: render %s: %w", key, err)
		}
		if cacheErr := m.cache.Set(ctx, key, out); cacheErr != nil {
			m.logger.WarnContext(ctx, "cache set failed",
				slog.String("key", key),
				slog.String("error", cacheErr.Error()),
			)
		}
		return nil
	})
	return out, err
}

// GroupsJSON renders every group's summary, in creation order.
func (m *Marketplace) GroupsJSON(ctx context.Context) ([]byte, error) {
	return m.cached(ctx, GroupsKey, func() (any, error) {
		reg := m.state.Registry
		out := make([]group.Info, 0, reg.NumberOfGroups())
		for i := uint64(0); i < reg.NumberOfGroups(); i++ {
			g, err := reg.Group(i)
			if err != nil {
				return nil, err
			}
			out = append(out, g.Info())
		}
		return out, nil
	})
}

// GroupJSON renders one group's summary.
func (m *Marketplace) GroupJSON(ctx context.Context, index uint64) ([]byte, error) {
	return m.cached(ctx, GroupKey(index), func() (any, error) {
		g, err := m.state.Registry.Group(index)
		if err != nil {
			return nil, err
		}
		return g.Info(), nil
	})
}

// ListingJSON renders a listing snapshot of the given mechanism.
func (m *Marketplace) ListingJSON(ctx context.Context, mech domain.Mechanism, id uint64) ([]byte, error) {
	return m.cached(ctx, ListingKey(mech, id), func() (any, error) {
		e := m.state.Engine
		switch mech {
		case domain.MechanismEnglish:
			return e.EnglishAuction(id)
		case domain.MechanismDutch:
			return e.DutchAuction(id)
		case domain.MechanismOffering:
			return e.OfferingSale(id)
		}
		return nil, fmt.Errorf("%w: mechanism %q", domain.ErrInvalidArgs, mech)
	})
}

// Item returns the view of a group's local item.
func (m *Marketplace) Item(index, id uint64) (group.Item, error) {
	var it group.Item
	err := m.state.Runtime.View(func() error {
		g, err := m.state.Registry.Group(index)
		if err != nil {
			return err
		}
		it, err = g.Item(id)
		return err
	})
	return it, err
}

// PriceView is the current price of a Dutch auction.
type PriceView struct {
	ListingID uint64    `json:"listing_id"`
	Price     *big.Int  `json:"price"`
	At        time.Time `json:"at"`
}

// DutchPrice evaluates a Dutch auction's price at the current wall-clock
// instant without advancing the runtime.
func (m *Marketplace) DutchPrice(id uint64) (PriceView, error) {
	var pv PriceView
	err := m.state.Runtime.View(func() error {
		now := m.clock.Now()
		if rt := m.state.Runtime.Now(); rt.After(now) {
			now = rt
		}
		price, err := m.state.Engine.DutchAuctionPriceAt(id, now)
		if err != nil {
			return err
		}
		pv = PriceView{ListingID: id, Price: price, At: now}
		return nil
	})
	return pv, err
}

// BalanceView is an address's position in the market engine.
type BalanceView struct {
	Address      common.Address `json:"address"`
	Withdrawable *big.Int       `json:"withdrawable"`
}

// Balance returns addr's general withdrawable balance in the engine.
func (m *Marketplace) Balance(addr common.Address) BalanceView {
	var bv BalanceView
	_ = m.state.Runtime.View(func() error {
		bv = BalanceView{Address: addr, Withdrawable: m.state.Engine.GetBalanceOfUser(addr)}
		return nil
	})
	return bv
}

// PendingReturn returns what addr may withdraw from one listing.
func (m *Marketplace) PendingReturn(mech domain.Mechanism, id uint64, addr common.Address) (*big.Int, error) {
	var out *big.Int
	err := m.state.Runtime.View(func() error {
		var err error
		out, err = m.state.Engine.PendingReturn(mech, id, addr)
		return err
	})
	return out, err
}

// PaymentView is an address's payment ledger account.
type PaymentView struct {
	Address         common.Address `json:"address"`
	Balance         *big.Int       `json:"balance"`
	EngineAllowance *big.Int       `json:"engine_allowance"`
}

// Payment returns addr's payment ledger balance and its allowance to the
// market engine.
func (m *Marketplace) Payment(addr common.Address) PaymentView {
	var pv PaymentView
	_ = m.state.Runtime.View(func() error {
		p := m.state.Payments
		pv = PaymentView{
			Address:         addr,
			Balance:         p.BalanceOf(addr),
			EngineAllowance: p.Allowance(addr, m.state.Addresses.Engine),
		}
		return nil
	})
	return pv
}

// StatusView summarizes the marketplace for operators.
type StatusView struct {
	Addresses   Addresses                   `json:"addresses"`
	Groups      uint64                      `json:"groups"`
	Listings    map[domain.Mechanism]uint64 `json:"listings"`
	Custody     *big.Int                    `json:"custody"`
	Liabilities *big.Int                    `json:"liabilities"`
	Solvent     bool                        `json:"solvent"`
	LastSeq     int64                       `json:"last_seq"`
	Halted      bool                        `json:"halted"`
	Now         time.Time                   `json:"now"`
}

// Status returns a consistent snapshot of the marketplace.
func (m *Marketplace) Status() StatusView {
	var sv StatusView
	_ = m.state.Runtime.View(func() error {
		e := m.state.Engine
		sv = StatusView{
			Addresses:   m.state.Addresses,
			Groups:      m.state.Registry.NumberOfGroups(),
			Listings:    make(map[domain.Mechanism]uint64, len(domain.Mechanisms)),
			Custody:     e.Custody(),
			Liabilities: e.Liabilities(),
			LastSeq:     m.lastSeq,
			Halted:      m.halted.Load(),
			Now:         m.state.Runtime.Now(),
		}
		for _, mech := range domain.Mechanisms {
			sv.Listings[mech] = e.Count(mech)
		}
		sv.Solvent = sv.Custody.Cmp(sv.Liabilities) == 0
		return nil
	})
	return sv
}

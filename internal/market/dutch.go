package market

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

type dutchAuction struct {
	listing
	startPrice *big.Int
	floorPrice *big.Int
	duration   time.Duration
	buyer      common.Address
	salePrice  *big.Int
}

// priceAt decays linearly from the start price at listing time to the floor
// price at listing time + duration and stays at the floor afterwards.
// Division rounds down.
func (d *dutchAuction) priceAt(now time.Time) *big.Int {
	elapsed := now.Sub(d.createdAt)
	if elapsed <= 0 {
		return new(big.Int).Set(d.startPrice)
	}
	if elapsed >= d.duration {
		return new(big.Int).Set(d.floorPrice)
	}
	drop := new(big.Int).Sub(d.startPrice, d.floorPrice)
	drop.Mul(drop, big.NewInt(int64(elapsed)))
	drop.Quo(drop, big.NewInt(int64(d.duration)))
	return drop.Sub(d.startPrice, drop)
}

// DutchAuction is a snapshot of a falling-price listing.
type DutchAuction struct {
	Listing
	StartPrice *big.Int       `json:"start_price"`
	FloorPrice *big.Int       `json:"floor_price"`
	Duration   time.Duration  `json:"duration"`
	EndsAt     time.Time      `json:"ends_at"`
	Buyer      common.Address `json:"buyer"`
	SalePrice  *big.Int       `json:"sale_price"`
}

// ListToDutchAuction opens a falling-price auction for the caller group's
// item. The floor must be strictly below the start price.
func (e *Engine) ListToDutchAuction(caller common.Address, localID uint64, start, floor *big.Int, duration time.Duration, share uint8) (uint64, error) {
	if err := e.guard.Enter(); err != nil {
		return 0, err
	}
	defer e.guard.Exit()

	l, err := e.openListing(caller, localID, share)
	if err != nil {
		return 0, err
	}
	if start == nil || floor == nil || floor.Sign() < 0 || floor.Cmp(start) >= 0 {
		return 0, domain.ErrInvalidDutch
	}
	if duration <= 0 {
		return 0, domain.ErrInvalidDuration
	}
	l.id = uint64(len(e.dutch))
	e.dutch = append(e.dutch, &dutchAuction{
		listing:    l,
		startPrice: new(big.Int).Set(start),
		floorPrice: new(big.Int).Set(floor),
		duration:   duration,
	})
	e.active[l.key()] = listingRef{mechanism: domain.MechanismDutch, id: l.id}
	return l.id, nil
}

// GetDutchAuctionPrice is the current price of active auction id.
func (e *Engine) GetDutchAuctionPrice(id uint64) (*big.Int, error) {
	return e.DutchAuctionPriceAt(id, e.clock.Now())
}

// DutchAuctionPriceAt is the price active auction id would have at now.
func (e *Engine) DutchAuctionPriceAt(id uint64, now time.Time) (*big.Int, error) {
	d, err := e.dutchAuction(id)
	if err != nil {
		return nil, err
	}
	if d.status != domain.ListingActive {
		return nil, domain.ErrListingClosed
	}
	return d.priceAt(now), nil
}

// BuyDutchAuction settles auction id to the caller at once. amount must be
// at least the current price; the whole amount is taken as the sale price.
// If the item cannot be delivered the payment is returned and nothing
// changes.
func (e *Engine) BuyDutchAuction(caller common.Address, id uint64, amount *big.Int) (domain.Settlement, error) {
	if err := e.guard.Enter(); err != nil {
		return domain.Settlement{}, err
	}
	defer e.guard.Exit()

	d, err := e.dutchAuction(id)
	if err != nil {
		return domain.Settlement{}, err
	}
	if d.status != domain.ListingActive {
		return domain.Settlement{}, domain.ErrListingClosed
	}
	if caller == (common.Address{}) {
		return domain.Settlement{}, domain.ErrZeroAddress
	}
	if amount == nil || amount.Cmp(d.priceAt(e.clock.Now())) < 0 {
		return domain.Settlement{}, domain.ErrPaymentBelowPrice
	}
	if err := e.payments.TransferFrom(e.address, caller, e.address, amount); err != nil {
		return domain.Settlement{}, fmt.Errorf("market: pay dutch auction: %w", err)
	}
	if err := e.deliver(&d.listing, caller); err != nil {
		if rerr := e.payments.Transfer(e.address, caller, amount); rerr != nil {
			return domain.Settlement{}, fmt.Errorf("market: refund after failed delivery: %w", rerr)
		}
		return domain.Settlement{}, err
	}

	s := e.emptySettlement(domain.MechanismDutch, &d.listing)
	e.payout(&s, &d.listing, caller, amount)
	d.buyer = caller
	d.salePrice = new(big.Int).Set(amount)
	return s, nil
}

// DutchAuction returns a snapshot of auction id.
func (e *Engine) DutchAuction(id uint64) (DutchAuction, error) {
	d, err := e.dutchAuction(id)
	if err != nil {
		return DutchAuction{}, err
	}
	sale := new(big.Int)
	if d.salePrice != nil {
		sale.Set(d.salePrice)
	}
	return DutchAuction{
		Listing:    d.view(domain.MechanismDutch),
		StartPrice: new(big.Int).Set(d.startPrice),
		FloorPrice: new(big.Int).Set(d.floorPrice),
		Duration:   d.duration,
		EndsAt:     d.createdAt.Add(d.duration),
		Buyer:      d.buyer,
		SalePrice:  sale,
	}, nil
}

func (e *Engine) dutchAuction(id uint64) (*dutchAuction, error) {
	if id >= uint64(len(e.dutch)) {
		return nil, domain.ErrListingNotFound
	}
	return e.dutch[id], nil
}

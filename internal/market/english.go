package market

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

type englishAuction struct {
	listing
	startPrice *big.Int
	closesAt   time.Time
	book       bidBook
}

// EnglishAuction is a snapshot of a rising-price listing. CurrentPrice is
// the amount the next bid must exceed.
type EnglishAuction struct {
	Listing
	StartPrice    *big.Int       `json:"start_price"`
	ClosesAt      time.Time      `json:"closes_at"`
	CurrentPrice  *big.Int       `json:"current_price"`
	HighestBid    *big.Int       `json:"highest_bid"`
	HighestBidder common.Address `json:"highest_bidder"`
	Bids          int            `json:"bids"`
	Winner        common.Address `json:"winner"`
	SalePrice     *big.Int       `json:"sale_price"`
}

// ListToEnglishAuction opens a rising-price auction for the caller group's
// item closing duration from now.
func (e *Engine) ListToEnglishAuction(caller common.Address, localID uint64, start *big.Int, duration time.Duration, share uint8) (uint64, error) {
	if err := e.guard.Enter(); err != nil {
		return 0, err
	}
	defer e.guard.Exit()

	l, err := e.openListing(caller, localID, share)
	if err != nil {
		return 0, err
	}
	if start == nil || start.Sign() <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	if duration <= 0 {
		return 0, domain.ErrInvalidDuration
	}
	l.id = uint64(len(e.english))
	e.english = append(e.english, &englishAuction{
		listing:    l,
		startPrice: new(big.Int).Set(start),
		closesAt:   l.createdAt.Add(duration),
		book:       newBidBook(start),
	})
	e.active[l.key()] = listingRef{mechanism: domain.MechanismEnglish, id: l.id}
	return l.id, nil
}

// MakeBidToEnglishAuction escrows amount as the new leading bid. The bid
// must beat the current price and arrive before the closing time.
func (e *Engine) MakeBidToEnglishAuction(caller common.Address, id uint64, amount *big.Int) error {
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	a, err := e.englishAuction(id)
	if err != nil {
		return err
	}
	if a.status != domain.ListingActive {
		return domain.ErrListingClosed
	}
	if !e.clock.Now().Before(a.closesAt) {
		return domain.ErrAuctionEnded
	}
	return e.placeBid(&a.book, caller, amount)
}

// EndEnglishAuction settles the auction once its closing time is reached.
// Only the listing group may end it.
func (e *Engine) EndEnglishAuction(caller common.Address, id uint64) (domain.Settlement, error) {
	if err := e.guard.Enter(); err != nil {
		return domain.Settlement{}, err
	}
	defer e.guard.Exit()

	a, err := e.englishAuction(id)
	if err != nil {
		return domain.Settlement{}, err
	}
	if a.group != caller {
		return domain.Settlement{}, domain.ErrNotListingOwner
	}
	if a.status != domain.ListingActive {
		return domain.Settlement{}, domain.ErrListingClosed
	}
	if e.clock.Now().Before(a.closesAt) {
		return domain.Settlement{}, domain.ErrAuctionNotEnded
	}
	return e.settleBook(domain.MechanismEnglish, &a.listing, &a.book)
}

// WithdrawFromEnglishAuction pays out the caller's superseded or refunded
// bids on auction id.
func (e *Engine) WithdrawFromEnglishAuction(caller common.Address, id uint64) (*big.Int, error) {
	return e.withdrawPending(domain.MechanismEnglish, caller, id)
}

// EnglishAuction returns a snapshot of auction id.
func (e *Engine) EnglishAuction(id uint64) (EnglishAuction, error) {
	a, err := e.englishAuction(id)
	if err != nil {
		return EnglishAuction{}, err
	}
	return EnglishAuction{
		Listing:       a.view(domain.MechanismEnglish),
		StartPrice:    new(big.Int).Set(a.startPrice),
		ClosesAt:      a.closesAt,
		CurrentPrice:  new(big.Int).Set(a.book.highest),
		HighestBid:    a.book.leading(),
		HighestBidder: a.book.leader,
		Bids:          a.book.bids,
		Winner:        a.book.winner,
		SalePrice:     a.book.salePrice(),
	}, nil
}

func (e *Engine) englishAuction(id uint64) (*englishAuction, error) {
	if id >= uint64(len(e.english)) {
		return nil, domain.ErrListingNotFound
	}
	return e.english[id], nil
}

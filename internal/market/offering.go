package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

type offeringSale struct {
	listing
	startPrice *big.Int
	book       bidBook
}

// OfferingSale is a snapshot of an open-bid listing.
type OfferingSale struct {
	Listing
	StartPrice    *big.Int       `json:"start_price"`
	CurrentPrice  *big.Int       `json:"current_price"`
	HighestBid    *big.Int       `json:"highest_bid"`
	HighestBidder common.Address `json:"highest_bidder"`
	Bids          int            `json:"bids"`
	Winner        common.Address `json:"winner"`
	SalePrice     *big.Int       `json:"sale_price"`
}

// ListToOfferingSale opens an open-bid sale with no closing time.
func (e *Engine) ListToOfferingSale(caller common.Address, localID uint64, start *big.Int, share uint8) (uint64, error) {
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
	l.id = uint64(len(e.offering))
	e.offering = append(e.offering, &offeringSale{
		listing:    l,
		startPrice: new(big.Int).Set(start),
		book:       newBidBook(start),
	})
	e.active[l.key()] = listingRef{mechanism: domain.MechanismOffering, id: l.id}
	return l.id, nil
}

// MakeBidToOfferingSale escrows amount as the new leading offer. Offers
// must strictly increase, like English bids.
func (e *Engine) MakeBidToOfferingSale(caller common.Address, id uint64, amount *big.Int) error {
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	s, err := e.offeringSale(id)
	if err != nil {
		return err
	}
	if s.status != domain.ListingActive {
		return domain.ErrListingClosed
	}
	return e.placeBid(&s.book, caller, amount)
}

// ExecuteOfferingSaleTransaction settles sale id to its leading bidder
// whenever the listing group decides.
func (e *Engine) ExecuteOfferingSaleTransaction(caller common.Address, id uint64) (domain.Settlement, error) {
	if err := e.guard.Enter(); err != nil {
		return domain.Settlement{}, err
	}
	defer e.guard.Exit()

	s, err := e.offeringSale(id)
	if err != nil {
		return domain.Settlement{}, err
	}
	if s.group != caller {
		return domain.Settlement{}, domain.ErrNotListingOwner
	}
	if s.status != domain.ListingActive {
		return domain.Settlement{}, domain.ErrListingClosed
	}
	return e.settleBook(domain.MechanismOffering, &s.listing, &s.book)
}

// WithdrawFromOfferingSale pays out the caller's superseded or refunded
// offers on sale id.
func (e *Engine) WithdrawFromOfferingSale(caller common.Address, id uint64) (*big.Int, error) {
	return e.withdrawPending(domain.MechanismOffering, caller, id)
}

// OfferingSale returns a snapshot of sale id.
func (e *Engine) OfferingSale(id uint64) (OfferingSale, error) {
	s, err := e.offeringSale(id)
	if err != nil {
		return OfferingSale{}, err
	}
	return OfferingSale{
		Listing:       s.view(domain.MechanismOffering),
		StartPrice:    new(big.Int).Set(s.startPrice),
		CurrentPrice:  new(big.Int).Set(s.book.highest),
		HighestBid:    s.book.leading(),
		HighestBidder: s.book.leader,
		Bids:          s.book.bids,
		Winner:        s.book.winner,
		SalePrice:     s.book.salePrice(),
	}, nil
}

func (e *Engine) offeringSale(id uint64) (*offeringSale, error) {
	if id >= uint64(len(e.offering)) {
		return nil, domain.ErrListingNotFound
	}
	return e.offering[id], nil
}
